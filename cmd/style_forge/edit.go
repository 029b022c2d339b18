package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/style-forge/internal/history"
	"github.com/jonathan/style-forge/internal/observability"
	"github.com/jonathan/style-forge/internal/types"
)

var editCommand = &cobra.Command{
	Use:   "edit",
	Short: "Apply prompt edits to an image, optionally undoing some",
	Long: `Opens an edit history on --image and applies each --prompt in order. --undo N then
steps back N versions. The version under the cursor is written to --out.

A failed edit stops the sequence; versions committed before it are kept.`,
	RunE: runEdit,
}

var (
	editFlags   commonFlags
	editImage   string
	editPrompts []string
	editUndo    int
	editOut     string
)

func init() {
	editFlags.register(editCommand)
	editCommand.Flags().StringVarP(&editImage, "image", "i", "", "Path or URL of the image to edit")
	editCommand.Flags().StringArrayVarP(&editPrompts, "prompt", "p", nil, "Edit instruction (repeatable, applied in order)")
	editCommand.Flags().IntVar(&editUndo, "undo", 0, "Number of versions to step back after editing")
	editCommand.Flags().StringVarP(&editOut, "out", "o", "", "Output file (required)")
	_ = editCommand.MarkFlagRequired("image")
	_ = editCommand.MarkFlagRequired("out")

	rootCmd.AddCommand(editCommand)
}

func runEdit(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	if len(editPrompts) == 0 && editUndo == 0 {
		return fmt.Errorf("at least one --prompt or --undo is required")
	}
	if editUndo < 0 {
		return fmt.Errorf("--undo must be non-negative")
	}

	cfg, err := editFlags.loadSettings(cmd)
	if err != nil {
		return err
	}

	source, err := readArtifact(ctx, editImage)
	if err != nil {
		return err
	}

	client, err := newClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	session := editSession{
		editor:  client,
		timeout: cfg.EditTimeout.Std(),
		out:     cmd.OutOrStdout(),
		verbose: cfg.Verbose,
	}
	h, applied, err := session.run(ctx, source, editPrompts, editUndo)
	if writeErr := writeArtifact(editOut, h.Current()); writeErr != nil {
		return writeErr
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote version %d of %d to %s (%d edits applied)\n", h.Cursor(), h.Len()-1, editOut, applied)
	return err
}

// editSession applies a sequence of prompts to one history.
type editSession struct {
	editor  types.Editor
	timeout time.Duration
	out     io.Writer
	verbose bool
}

// run applies prompts in order, stopping at the first failure, then undoes up to
// undo versions. It returns the history and how many edits were committed.
//
//nolint:errcheck // progress output to stdout
func (e *editSession) run(ctx context.Context, source types.Artifact, prompts []string, undo int) (*history.History, int, error) {
	h := history.Open(source)

	applied := 0
	var editErr error
	for _, prompt := range prompts {
		fmt.Fprintf(e.out, "Editing: %s\n", prompt)
		if editErr = e.apply(ctx, h, prompt); editErr != nil {
			fmt.Fprintf(e.out, "  ✗ %v\n", editErr)
			break
		}
		applied++
	}

	for i := 0; i < undo; i++ {
		if _, ok := h.Undo(); !ok {
			break
		}
	}

	if e.verbose {
		observability.NewPrinter(e.out).PrintHistory(h.State(), prompts[:applied])
	}
	return h, applied, editErr
}

func (e *editSession) apply(ctx context.Context, h *history.History, prompt string) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	_, err := h.Edit(ctx, e.editor, prompt)
	return err
}
