// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/jonathan/style-forge/internal/history"
	"github.com/jonathan/style-forge/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// guidanceWidth bounds suggestion text inside a box line
	guidanceWidth = 40
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %s │\n", pad(title, boxWidth-4))
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %s │\n", pad(truncate(line, boxWidth-4), boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintAnalysis outputs the item description and per-style guidance.
func (p *Printer) PrintAnalysis(analysis *types.Analysis) {
	if analysis == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Item: %s\n", analysis.ItemDescription))
	if len(analysis.Suggestions) > 0 {
		sb.WriteString("\n")
	}
	for _, style := range types.DefaultStyles() {
		if guidance, ok := analysis.Suggestions[style]; ok {
			sb.WriteString(fmt.Sprintf("%-11s %s\n", style.Label(), truncate(guidance, guidanceWidth)))
		}
	}

	p.printBox("ITEM ANALYSIS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintTasks outputs one line per task with its status, then a tally.
func (p *Printer) PrintTasks(tasks []types.StyleTask) {
	if len(tasks) == 0 {
		return
	}

	counts := make(map[types.TaskStatus]int)
	var sb strings.Builder
	for _, t := range tasks {
		counts[t.Status]++
		switch t.Status {
		case types.StatusSucceeded:
			size := 0
			if t.Result != nil {
				size = t.Result.Size()
			}
			sb.WriteString(fmt.Sprintf("✓ %-11s %s\n", t.Style.Label(), formatBytes(size)))
		case types.StatusFailed:
			sb.WriteString(fmt.Sprintf("✗ %-11s %s\n", t.Style.Label(), t.Error))
		default:
			sb.WriteString(fmt.Sprintf("… %-11s %s\n", t.Style.Label(), t.Status))
		}
	}

	sb.WriteString(fmt.Sprintf("\n%d succeeded, %d failed, %d pending, %d in flight",
		counts[types.StatusSucceeded], counts[types.StatusFailed], counts[types.StatusPending], counts[types.StatusInFlight]))

	p.printBox("GENERATED OUTFITS", sb.String())
}

// PrintFailures outputs the failed tasks grouped by error message.
func (p *Printer) PrintFailures(tasks []types.StyleTask) {
	byError := make(map[string][]string)
	for _, t := range tasks {
		if t.Status == types.StatusFailed {
			byError[t.Error] = append(byError[t.Error], t.Style.Label())
		}
	}
	if len(byError) == 0 {
		return
	}

	messages := make([]string, 0, len(byError))
	for msg := range byError {
		messages = append(messages, msg)
	}
	sort.Strings(messages)

	var sb strings.Builder
	for i, msg := range messages {
		sb.WriteString(fmt.Sprintf("⚠ %s\n", strings.Join(byError[msg], ", ")))
		sb.WriteString(fmt.Sprintf("  %s", msg))
		if i < len(messages)-1 {
			sb.WriteString("\n\n")
		}
	}

	p.printBox("FAILED STYLES", sb.String())
}

// PrintHistory outputs the edit history position and the prompts applied.
func (p *Printer) PrintHistory(state history.State, prompts []string) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Versions: %d  Cursor: %d\n", state.Length, state.Cursor))
	sb.WriteString(fmt.Sprintf("Undo: %s  Redo: %s", yesNo(state.CanUndo), yesNo(state.CanRedo)))
	if len(prompts) > 0 {
		sb.WriteString("\n")
	}
	for i, prompt := range prompts {
		marker := " "
		if i+1 == state.Cursor {
			marker = "▶"
		}
		sb.WriteString(fmt.Sprintf("\n%s %d. %s", marker, i+1, prompt))
	}

	p.printBox("EDIT HISTORY", sb.String())
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// truncate shortens s to at most width runes, ending with "..." when cut.
func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	runes := []rune(s)
	return string(runes[:width-3]) + "..."
}

// pad right-pads s with spaces to width runes.
func pad(s string, width int) string {
	if n := utf8.RuneCountInString(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}
