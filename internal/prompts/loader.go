// Package prompts holds the prompt templates sent to the image model.
// Templates are stored as JSON files and embedded at compile time.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jonathan/style-forge/internal/types"
)

//go:embed *.json
var promptFiles embed.FS

// StylingFile is the prompt file used for analysis, generation and editing.
const StylingFile = "styling.json"

// Prompt keys in StylingFile
const (
	KeyAnalyzeItem     = "analyze-item"
	KeyGenerateOutfit  = "generate-outfit"
	KeyEditImage       = "edit-image"
	KeyEditSuggestions = "edit-suggestions"
)

var (
	cache   = make(map[string]map[string]string)
	cacheMu sync.RWMutex
)

// Get retrieves a prompt by filename and key.
func Get(filename, key string) (string, error) {
	prompts, err := loadFile(filename)
	if err != nil {
		return "", err
	}

	prompt, exists := prompts[key]
	if !exists {
		return "", fmt.Errorf("prompt key %q not found in %s", key, filename)
	}
	return prompt, nil
}

// MustGet retrieves a prompt by filename and key, panicking if not found.
func MustGet(filename, key string) string {
	prompt, err := Get(filename, key)
	if err != nil {
		panic(fmt.Sprintf("failed to load prompt: %v", err))
	}
	return prompt
}

// Format replaces {{.Key}} placeholders with values from data.
func Format(template string, data map[string]string) string {
	result := template
	for key, value := range data {
		result = strings.ReplaceAll(result, fmt.Sprintf("{{.%s}}", key), value)
	}
	return result
}

// AnalyzeItem builds the analysis prompt asking for a description and one
// suggestion per style, keyed by style tag.
func AnalyzeItem(styles []types.Style) string {
	var list, keys strings.Builder
	for i, s := range styles {
		fmt.Fprintf(&list, "   - %s\n", s.Label())
		fmt.Fprintf(&keys, "    %q: \"...\"", string(s))
		if i < len(styles)-1 {
			keys.WriteString(",\n")
		}
	}
	return Format(MustGet(StylingFile, KeyAnalyzeItem), map[string]string{
		"Count":          fmt.Sprintf("%d", len(styles)),
		"StyleList":      strings.TrimRight(list.String(), "\n"),
		"SuggestionKeys": keys.String(),
	})
}

// GenerateOutfit builds the flat-lay generation prompt for one style.
func GenerateOutfit(style types.Style, guidance string) string {
	return Format(MustGet(StylingFile, KeyGenerateOutfit), map[string]string{
		"Style":    style.Label(),
		"Guidance": guidance,
	})
}

// EditImage builds the edit instruction prompt.
func EditImage(prompt string) string {
	return Format(MustGet(StylingFile, KeyEditImage), map[string]string{
		"Prompt": strings.TrimSpace(prompt),
	})
}

// EditSuggestions returns the canned edit prompts offered to users, one per line in the file.
func EditSuggestions() []string {
	var out []string
	for _, line := range strings.Split(MustGet(StylingFile, KeyEditSuggestions), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func loadFile(filename string) (map[string]string, error) {
	cacheMu.RLock()
	if prompts, exists := cache[filename]; exists {
		cacheMu.RUnlock()
		return prompts, nil
	}
	cacheMu.RUnlock()

	data, err := promptFiles.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file %s: %w", filename, err)
	}

	var prompts map[string]string
	if err := json.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("failed to parse prompt file %s: %w", filename, err)
	}

	cacheMu.Lock()
	cache[filename] = prompts
	cacheMu.Unlock()

	return prompts, nil
}

// ClearCache clears the prompt cache. Useful for testing.
func ClearCache() {
	cacheMu.Lock()
	cache = make(map[string]map[string]string)
	cacheMu.Unlock()
}

// List returns the prompt keys in a file, sorted.
func List(filename string) ([]string, error) {
	prompts, err := loadFile(filename)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(prompts))
	for key := range prompts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
