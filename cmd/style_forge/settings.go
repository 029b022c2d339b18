package main

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/style-forge/internal/config"
	"github.com/jonathan/style-forge/internal/db"
	"github.com/jonathan/style-forge/internal/fetch"
	"github.com/jonathan/style-forge/internal/llm"
	"github.com/jonathan/style-forge/internal/types"
)

// commonFlags are shared by every command that talks to the model or the ledger.
type commonFlags struct {
	configPath  string
	apiKey      string
	databaseURL string
	styles      string
	verbose     bool
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configPath, "config", "", "Path to config.json file (values can be overridden by other flags)")
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "Gemini API Key (optional, defaults to GEMINI_API_KEY env var)")
	cmd.Flags().StringVar(&f.databaseURL, "db-url", "", "PostgreSQL URL for the run ledger (optional, defaults to DATABASE_URL env var)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Print detailed debug information")
}

func (f *commonFlags) registerStyles(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.styles, "styles", "", "Comma-separated styles to generate (default all)")
}

// loadSettings layers the config file, explicitly set flags, the environment and
// defaults, in that order of priority after flags.
func (f *commonFlags) loadSettings(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if f.configPath != "" {
		loaded, err := config.LoadConfig(f.configPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
	}

	flags := cmd.Flags()
	if flags.Changed("api-key") {
		cfg.APIKey = f.apiKey
	}
	if flags.Changed("db-url") {
		cfg.DatabaseURL = f.databaseURL
	}
	if flags.Changed("styles") {
		cfg.Styles = splitList(f.styles)
	}
	if flags.Changed("verbose") {
		cfg.Verbose = f.verbose
	}

	cfg.ApplyEnv()
	cfg = cfg.MergeWithDefaults(config.Config{})

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// newClient creates the model client, requiring an API key.
func newClient(ctx context.Context, cfg config.Config) (llm.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable or --api-key flag is required")
	}
	return llm.NewClient(ctx, cfg.LLMConfig(), cfg.APIKey)
}

// openLedger connects to the run ledger when a database URL is configured.
// The returned close func is always safe to call.
func openLedger(ctx context.Context, databaseURL string) (db.Ledger, func(), error) {
	if databaseURL == "" {
		return db.NopLedger{}, func() {}, nil
	}

	database, err := db.Connect(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := database.EnsureSchema(ctx); err != nil {
		database.Close()
		return nil, nil, err
	}
	return database, database.Close, nil
}

// readArtifact loads an image file or URL, taking a file's content type from the extension or,
// failing that, from the bytes.
func readArtifact(ctx context.Context, path string) (types.Artifact, error) {
	if fetch.IsURL(path) {
		return fetch.Image(ctx, path, nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return types.Artifact{}, fmt.Errorf("failed to read image %s: %w", path, err)
	}
	if len(data) == 0 {
		return types.Artifact{}, fmt.Errorf("image %s is empty", path)
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	return types.NewArtifact(data, mimeType), nil
}

// writeArtifact writes a to path, creating parent directories.
func writeArtifact(path string, a types.Artifact) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, a.Data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// outputPath is <dir>/style-forge-<style><ext>.
func outputPath(dir string, style types.Style, a types.Artifact) string {
	return filepath.Join(dir, "style-forge-"+strings.ToLower(string(style))+a.Extension())
}
