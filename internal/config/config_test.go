package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 9090, cfg.Server.MetricsPort)
	assert.Equal(t, "hybrid", cfg.Search.Mode)
	assert.Equal(t, 10, cfg.Search.TopK)
	assert.Equal(t, 30*time.Second, cfg.Search.BackendTimeout.Duration())
	assert.True(t, cfg.Search.KeywordEnabled)
	assert.Equal(t, 0.5, cfg.Citation.LowThreshold)
	assert.Equal(t, 0.8, cfg.Citation.HighThreshold)
	assert.Equal(t, 2, cfg.Summarize.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.Summarize.Primary.Timeout.Duration())
	assert.Equal(t, "PROVENANCE", cfg.Audit.Stream)
}

func TestLoadFromYAML(t *testing.T) {
	content := `
server:
  port: 8181
search:
  mode: keyword
  top_k: 5
  backend_timeout: 10s
summarize:
  primary:
    type: openai
    model: gpt-4o-mini
    api_key: sk-test
  max_retries: 1
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, "keyword", cfg.Search.Mode)
	assert.Equal(t, 5, cfg.Search.TopK)
	assert.Equal(t, 10*time.Second, cfg.Search.BackendTimeout.Duration())
	assert.Equal(t, "gpt-4o-mini", cfg.Summarize.Primary.Model)
	assert.Equal(t, "sk-test", cfg.Summarize.Primary.APIKey.Value())
	assert.Equal(t, 1, cfg.Summarize.MaxRetries)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PROVENANCED_SERVER_PORT", "8282")
	t.Setenv("PROVENANCED_SEARCH_MODE", "keyword")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, 8282, cfg.Server.Port)
	assert.Equal(t, "keyword", cfg.Search.Mode)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadWithFile("/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "invalid search mode",
			mutate:  func(c *Config) { c.Search.Mode = "fuzzy" },
			wantErr: "invalid search mode",
		},
		{
			name:    "invalid vector provider",
			mutate:  func(c *Config) { c.Search.VectorProvider = "pinecone" },
			wantErr: "invalid vector provider",
		},
		{
			name: "semantic mode without vector backend",
			mutate: func(c *Config) {
				c.Search.Mode = "semantic"
				c.Search.VectorProvider = ""
			},
			wantErr: "requires a vector provider",
		},
		{
			name:    "negative fusion weight",
			mutate:  func(c *Config) { c.Search.Weights = map[string]float64{"keyword": -1} },
			wantErr: "negative fusion weight",
		},
		{
			name: "thresholds inverted",
			mutate: func(c *Config) {
				c.Citation.LowThreshold = 0.9
				c.Citation.HighThreshold = 0.5
			},
			wantErr: "exceeds high threshold",
		},
		{
			name: "fallback without primary",
			mutate: func(c *Config) {
				c.Summarize.Fallback.Type = "anthropic"
				c.Summarize.Fallback.Model = "claude-3-haiku"
			},
			wantErr: "without a primary",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			applyDefaults(&cfg)
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("sk-very-secret")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "sk-very-secret", s.Value())
	assert.True(t, s.IsSet())

	data, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-very-secret")

	var empty Secret
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}

func TestDurationParsing(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.Error(t, d.UnmarshalText([]byte("-5s")))
	require.Error(t, d.UnmarshalText([]byte("not-a-duration")))
}
