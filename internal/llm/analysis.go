package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonathan/style-forge/internal/schemas"
	"github.com/jonathan/style-forge/internal/types"
)

type analysisPayload struct {
	Description string            `json:"description"`
	Suggestions map[string]string `json:"suggestions"`
}

// ParseAnalysis validates and decodes the analysis model's JSON reply.
// Suggestion keys that are not known styles are dropped.
func ParseAnalysis(text string) (*types.Analysis, error) {
	cleaned := CleanJSONBlock(text)
	if err := schemas.Validate(schemas.AnalysisSchema, []byte(cleaned)); err != nil {
		return nil, fmt.Errorf("malformed analysis response: %w", err)
	}

	var payload analysisPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse analysis JSON: %w", err)
	}

	analysis := &types.Analysis{
		ItemDescription: strings.TrimSpace(payload.Description),
		Suggestions:     make(map[types.Style]string, len(payload.Suggestions)),
	}
	for key, guidance := range payload.Suggestions {
		style, err := types.ParseStyle(key)
		if err != nil {
			continue
		}
		analysis.Suggestions[style] = strings.TrimSpace(guidance)
	}
	return analysis, nil
}
