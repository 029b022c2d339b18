// Package config provides configuration loading and validation for the CLI and server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jonathan/style-forge/internal/llm"
	"github.com/jonathan/style-forge/internal/types"
)

// Default values applied by MergeWithDefaults
const (
	DefaultTaskTimeout  = 120 * time.Second
	DefaultEditTimeout  = 120 * time.Second
	DefaultRetryBackoff = 2 * time.Second
	DefaultSessionTTL   = time.Hour
	DefaultOutputDir    = "outfits"
)

// Duration is a time.Duration that reads JSON strings like "90s" or plain seconds.
type Duration time.Duration

// UnmarshalJSON accepts "1m30s" style strings or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return fmt.Errorf("duration must be a string or number of seconds")
	}
	*d = Duration(seconds * float64(time.Second))
	return nil
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents configuration that can be loaded from a JSON file.
// All fields are optional; missing values use defaults or come from flags and env.
type Config struct {
	// Models
	APIKey        string `json:"api_key,omitempty"`        // Gemini API key
	AnalysisModel string `json:"analysis_model,omitempty"` // Overrides the analysis tier model
	ImageModel    string `json:"image_model,omitempty"`    // Overrides the image tier model

	// Orchestration
	Styles            []string `json:"styles,omitempty"`             // Subset of styles to generate, default all
	TaskTimeout       Duration `json:"task_timeout,omitempty"`       // Per-generation timeout
	EditTimeout       Duration `json:"edit_timeout,omitempty"`       // Per-edit timeout
	MaxConcurrency    int      `json:"max_concurrency,omitempty"`    // 0 means one goroutine per style
	GenerationRetries int      `json:"generation_retries,omitempty"` // Extra attempts per style task
	RetryBackoff      Duration `json:"retry_backoff,omitempty"`      // First retry delay, doubled after
	SessionTTL        Duration `json:"session_ttl,omitempty"`        // Idle time before the server drops a run and its edit histories

	// Output
	OutputDir   string `json:"output_dir,omitempty"`   // Where the CLI writes images
	DatabaseURL string `json:"database_url,omitempty"` // Optional PostgreSQL run ledger
	Verbose     bool   `json:"verbose,omitempty"`      // Print detailed debug information
}

// LoadConfig loads configuration from a JSON file.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
// Required fields such as the API key are checked by the commands that need them.
func (c *Config) Validate() error {
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("config error: 'max_concurrency' must be non-negative")
	}
	if c.GenerationRetries < 0 {
		return fmt.Errorf("config error: 'generation_retries' must be non-negative")
	}
	if c.TaskTimeout < 0 || c.EditTimeout < 0 || c.RetryBackoff < 0 || c.SessionTTL < 0 {
		return fmt.Errorf("config error: durations must be non-negative")
	}

	seen := make(map[types.Style]bool, len(c.Styles))
	for _, raw := range c.Styles {
		style, err := types.ParseStyle(raw)
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		if seen[style] {
			return fmt.Errorf("config error: style %s listed twice", style)
		}
		seen[style] = true
	}

	return nil
}

// StyleSet returns the configured styles, or every style when none are listed.
// Call Validate first; unknown names are skipped here.
func (c *Config) StyleSet() []types.Style {
	if len(c.Styles) == 0 {
		return types.DefaultStyles()
	}
	styles := make([]types.Style, 0, len(c.Styles))
	for _, raw := range c.Styles {
		if s, err := types.ParseStyle(raw); err == nil {
			styles = append(styles, s)
		}
	}
	return styles
}

// LLMConfig returns the model configuration with any overrides applied.
func (c *Config) LLMConfig() *llm.Config {
	cfg := llm.DefaultConfig()
	if c.AnalysisModel != "" {
		cfg = cfg.WithModel(llm.TierAnalysis, c.AnalysisModel)
	}
	if c.ImageModel != "" {
		cfg = cfg.WithModel(llm.TierImage, c.ImageModel)
	}
	return cfg
}

// ApplyEnv fills empty secrets from the environment (GEMINI_API_KEY, DATABASE_URL).
func (c *Config) ApplyEnv() {
	if c.APIKey == "" {
		c.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults,
// then from the package defaults for timeouts and output.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.APIKey == "" {
		result.APIKey = defaults.APIKey
	}
	if result.AnalysisModel == "" {
		result.AnalysisModel = defaults.AnalysisModel
	}
	if result.ImageModel == "" {
		result.ImageModel = defaults.ImageModel
	}
	if result.OutputDir == "" {
		result.OutputDir = defaults.OutputDir
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if len(result.Styles) == 0 {
		result.Styles = defaults.Styles
	}
	if result.MaxConcurrency == 0 {
		result.MaxConcurrency = defaults.MaxConcurrency
	}
	if result.GenerationRetries == 0 {
		result.GenerationRetries = defaults.GenerationRetries
	}
	if result.TaskTimeout == 0 {
		result.TaskTimeout = defaults.TaskTimeout
	}
	if result.EditTimeout == 0 {
		result.EditTimeout = defaults.EditTimeout
	}
	if result.RetryBackoff == 0 {
		result.RetryBackoff = defaults.RetryBackoff
	}
	if result.SessionTTL == 0 {
		result.SessionTTL = defaults.SessionTTL
	}

	if result.TaskTimeout == 0 {
		result.TaskTimeout = Duration(DefaultTaskTimeout)
	}
	if result.EditTimeout == 0 {
		result.EditTimeout = Duration(DefaultEditTimeout)
	}
	if result.RetryBackoff == 0 {
		result.RetryBackoff = Duration(DefaultRetryBackoff)
	}
	if result.SessionTTL == 0 {
		result.SessionTTL = Duration(DefaultSessionTTL)
	}
	if result.OutputDir == "" {
		result.OutputDir = DefaultOutputDir
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}
