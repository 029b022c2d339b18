// Package llm provides the Gemini-backed analysis, generation and edit collaborators.
// Model names are grouped in tiers so they can be swapped without touching callers.
package llm

// ModelTier names the job a model is used for
type ModelTier string

const (
	// TierAnalysis describes the uploaded item and proposes outfits (text + JSON out)
	TierAnalysis ModelTier = "analysis"
	// TierImage generates and edits images (image in, image out)
	TierImage ModelTier = "image"
)

// Provider represents an LLM provider
type Provider string

// Provider constants define supported LLM providers
const (
	// ProviderGemini is the Google Gemini provider
	ProviderGemini Provider = "gemini"
)

// Config holds the model configuration for the application
type Config struct {
	Provider Provider
	Models   map[ModelTier]string
}

// DefaultConfig returns the default configuration (currently Gemini)
func DefaultConfig() *Config {
	return DefaultGeminiConfig()
}

// DefaultGeminiConfig returns the default Gemini configuration
func DefaultGeminiConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierAnalysis: "gemini-3-flash-preview",
			TierImage:    "gemini-2.5-flash-image",
		},
	}
}

// GetModel returns the model name for a given tier.
// The image tier has no fallback: a text model cannot produce images.
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok && model != "" {
		return model
	}
	if tier == TierImage {
		return ""
	}
	if model, ok := c.Models[TierAnalysis]; ok {
		return model
	}
	return ""
}

// WithModel returns a new Config with a specific model for a tier
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	newConfig := &Config{
		Provider: c.Provider,
		Models:   make(map[ModelTier]string, len(c.Models)+1),
	}
	for k, v := range c.Models {
		newConfig.Models[k] = v
	}
	newConfig.Models[tier] = model
	return newConfig
}
