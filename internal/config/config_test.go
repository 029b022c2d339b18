package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/style-forge/internal/llm"
	"github.com/jonathan/style-forge/internal/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_ValidJSON(t *testing.T) {
	path := writeConfig(t, `{
		"api_key": "key-123",
		"image_model": "custom-image",
		"styles": ["Casual", "Night Out"],
		"task_timeout": "90s",
		"edit_timeout": 45,
		"max_concurrency": 3,
		"generation_retries": 2,
		"session_ttl": "30m",
		"verbose": true
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "key-123", cfg.APIKey)
	assert.Equal(t, "custom-image", cfg.ImageModel)
	assert.Equal(t, 90*time.Second, cfg.TaskTimeout.Std())
	assert.Equal(t, 45*time.Second, cfg.EditTimeout.Std())
	assert.Equal(t, 3, cfg.MaxConcurrency)
	assert.Equal(t, 2, cfg.GenerationRetries)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL.Std())
	assert.True(t, cfg.Verbose)
	assert.Equal(t, []types.Style{types.StyleCasual, types.StyleNightOut}, cfg.StyleSet())
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{ invalid json }`))
	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config JSON")
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{"task_timeout": "soon"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.json")
	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	assert.Nil(t, cfg)
	assert.EqualError(t, err, "config path is empty")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "empty is valid", cfg: Config{}},
		{name: "negative concurrency", cfg: Config{MaxConcurrency: -1}, wantErr: "max_concurrency"},
		{name: "negative retries", cfg: Config{GenerationRetries: -1}, wantErr: "generation_retries"},
		{name: "negative timeout", cfg: Config{TaskTimeout: Duration(-time.Second)}, wantErr: "durations"},
		{name: "negative session ttl", cfg: Config{SessionTTL: Duration(-time.Minute)}, wantErr: "durations"},
		{name: "unknown style", cfg: Config{Styles: []string{"Grunge"}}, wantErr: "unknown style"},
		{name: "duplicate style", cfg: Config{Styles: []string{"Formal", "formal"}}, wantErr: "listed twice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStyleSet_DefaultsToAll(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, types.DefaultStyles(), cfg.StyleSet())
}

func TestLLMConfig_Overrides(t *testing.T) {
	cfg := Config{AnalysisModel: "a-model"}
	models := cfg.LLMConfig()

	assert.Equal(t, "a-model", models.GetModel(llm.TierAnalysis))
	assert.Equal(t, llm.DefaultConfig().GetModel(llm.TierImage), models.GetModel(llm.TierImage))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("DATABASE_URL", "postgres://env")

	cfg := Config{APIKey: "file-key"}
	cfg.ApplyEnv()

	assert.Equal(t, "file-key", cfg.APIKey)
	assert.Equal(t, "postgres://env", cfg.DatabaseURL)
}

func TestMergeWithDefaults(t *testing.T) {
	cfg := Config{APIKey: "mine", MaxConcurrency: 2}
	merged := cfg.MergeWithDefaults(Config{
		APIKey:            "theirs",
		OutputDir:         "out",
		GenerationRetries: 1,
	})

	assert.Equal(t, "mine", merged.APIKey)
	assert.Equal(t, 2, merged.MaxConcurrency)
	assert.Equal(t, "out", merged.OutputDir)
	assert.Equal(t, 1, merged.GenerationRetries)
	assert.Equal(t, DefaultTaskTimeout, merged.TaskTimeout.Std())
	assert.Equal(t, DefaultEditTimeout, merged.EditTimeout.Std())
	assert.Equal(t, DefaultRetryBackoff, merged.RetryBackoff.Std())
	assert.Equal(t, DefaultSessionTTL, merged.SessionTTL.Std())

	// The receiver is not modified
	assert.Empty(t, cfg.OutputDir)
}

func TestMergeWithDefaults_PackageDefaults(t *testing.T) {
	merged := (&Config{}).MergeWithDefaults(Config{})
	assert.Equal(t, DefaultOutputDir, merged.OutputDir)
}

func TestDuration_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(Duration(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))
}
