package types

import (
	"fmt"
	"strings"
)

// Style is one of the fixed outfit style tags.
type Style string

// Style constants. The string values double as the JSON keys of analysis suggestions.
const (
	StyleCasual     Style = "Casual"
	StyleBusiness   Style = "Business"
	StyleNightOut   Style = "NightOut"
	StyleAthleisure Style = "Athleisure"
	StyleFormal     Style = "Formal"
	StyleBohemian   Style = "Bohemian"
)

// DefaultStyles returns the configured style set in display order.
// A fresh slice is returned on every call.
func DefaultStyles() []Style {
	return []Style{
		StyleCasual,
		StyleBusiness,
		StyleNightOut,
		StyleAthleisure,
		StyleFormal,
		StyleBohemian,
	}
}

// Label returns the human-readable name of the style.
func (s Style) Label() string {
	if s == StyleNightOut {
		return "Night Out"
	}
	return string(s)
}

// Valid reports whether s is one of the known styles.
func (s Style) Valid() bool {
	for _, known := range DefaultStyles() {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStyle accepts either the tag ("NightOut") or the label ("night out"), case-insensitively.
func ParseStyle(raw string) (Style, error) {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""))
	for _, s := range DefaultStyles() {
		if strings.ToLower(string(s)) == normalized {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown style: %q", raw)
}

// ParseStyles parses a comma-separated style list. An empty input yields DefaultStyles.
func ParseStyles(raw string) ([]Style, error) {
	if strings.TrimSpace(raw) == "" {
		return DefaultStyles(), nil
	}
	var styles []Style
	for _, part := range strings.Split(raw, ",") {
		s, err := ParseStyle(part)
		if err != nil {
			return nil, err
		}
		styles = append(styles, s)
	}
	return styles, nil
}
