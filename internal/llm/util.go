// Package llm - util.go provides shared utilities for model response processing.
package llm

import "strings"

// CleanJSONBlock strips markdown code fences and any conversational text around
// a JSON object or array. Models often wrap JSON even when asked not to.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		// Skip a language identifier on the first line
		if idx := strings.Index(text, "\n"); idx >= 0 {
			firstLine := text[:idx]
			if len(firstLine) < 20 && !strings.Contains(firstLine, " ") && !strings.Contains(firstLine, "{") {
				text = text[idx+1:]
			}
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
		if balanced := extractBalanced(text); balanced != "" {
			return balanced
		}
		return text
	}

	// Preamble before the payload
	if idx := strings.IndexAny(text, "{["); idx >= 0 {
		if balanced := extractBalanced(text[idx:]); balanced != "" {
			return balanced
		}
	}
	return text
}

// extractBalanced returns the leading JSON object or array of text, honoring string
// literals and escapes. Returns "" when text does not start with { or [ or never closes.
func extractBalanced(text string) string {
	if text == "" {
		return ""
	}
	open := text[0]
	var closing byte
	switch open {
	case '{':
		closing = '}'
	case '[':
		closing = ']'
	default:
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return text[:i+1]
			}
		}
	}
	return ""
}
