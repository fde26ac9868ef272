// Package config provides configuration loading for provenanced.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Search     SearchConfig     `koanf:"search"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Citation   CitationConfig   `koanf:"citation"`
	Summarize  SummarizeConfig  `koanf:"summarize"`
	Audit      AuditConfig      `koanf:"audit"`
	Corpus     CorpusConfig     `koanf:"corpus"`
}

// ServerConfig configures the HTTP API and metrics listeners.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	MetricsPort     int      `koanf:"metrics_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// SearchConfig configures retrieval and fusion.
type SearchConfig struct {
	// Mode is the default search mode: keyword, semantic, or hybrid.
	Mode string `koanf:"mode"`

	// TopK is the default fused result count.
	TopK int `koanf:"top_k"`

	// BackendTimeout bounds each backend's search call.
	BackendTimeout Duration `koanf:"backend_timeout"`

	// GroundingLimit caps chunks per summarization prompt.
	GroundingLimit int `koanf:"grounding_limit"`

	// Weights maps backend name to fusion weight.
	Weights map[string]float64 `koanf:"weights"`

	// KeywordEnabled turns the in-process keyword index on.
	KeywordEnabled bool `koanf:"keyword_enabled"`

	// VectorProvider selects the vector backend: qdrant, chromem, or
	// empty to disable vector search.
	VectorProvider string `koanf:"vector_provider"`

	Qdrant  QdrantConfig  `koanf:"qdrant"`
	Chromem ChromemConfig `koanf:"chromem"`
}

// QdrantConfig configures the Qdrant vector backend.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Collection string `koanf:"collection"`
	UseTLS     bool   `koanf:"use_tls"`
}

// ChromemConfig configures the embedded chromem vector backend.
type ChromemConfig struct {
	// Path is the persistence directory; empty means in-memory only.
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
	Compress   bool   `koanf:"compress"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`
}

// CitationConfig configures citation validation thresholds.
type CitationConfig struct {
	LowThreshold   float64 `koanf:"low_threshold"`
	HighThreshold  float64 `koanf:"high_threshold"`
	MaxConcurrency int     `koanf:"max_concurrency"`
}

// ProviderConfig configures one summarization model provider.
type ProviderConfig struct {
	Name        string   `koanf:"name"`
	Type        string   `koanf:"type"`
	BaseURL     string   `koanf:"base_url"`
	Model       string   `koanf:"model"`
	APIKey      Secret   `koanf:"api_key"`
	Temperature float64  `koanf:"temperature"`
	MaxTokens   int      `koanf:"max_tokens"`
	Timeout     Duration `koanf:"timeout"`
}

// Configured reports whether the provider block is filled in.
func (p ProviderConfig) Configured() bool {
	return p.Type != "" || p.Model != ""
}

// SummarizeConfig configures summarization orchestration.
type SummarizeConfig struct {
	Primary  ProviderConfig `koanf:"primary"`
	Fallback ProviderConfig `koanf:"fallback"`

	// MaxRetries bounds primary-provider retries on transient errors.
	MaxRetries int `koanf:"max_retries"`

	// RetryBackoff is the initial retry delay; it doubles per retry.
	RetryBackoff Duration `koanf:"retry_backoff"`

	// MaxConcurrent caps in-flight generation calls.
	MaxConcurrent int `koanf:"max_concurrent"`

	// RatePerSecond throttles provider calls; zero disables.
	RatePerSecond float64 `koanf:"rate_per_second"`
	RateBurst     int     `koanf:"rate_burst"`
}

// AuditConfig configures the provenance audit sink.
type AuditConfig struct {
	// NATSURL enables the JetStream sink; empty keeps records in
	// memory only.
	NATSURL string `koanf:"nats_url"`
	Stream  string `koanf:"stream"`
	Subject string `koanf:"subject"`
}

// CorpusConfig points at the chunk corpus loaded at startup.
type CorpusConfig struct {
	// Path is a JSONL file of chunks.
	Path string `koanf:"path"`
}

// applyDefaults sets default values for missing fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Search.Mode == "" {
		cfg.Search.Mode = "hybrid"
	}
	if cfg.Search.TopK == 0 {
		cfg.Search.TopK = 10
	}
	if cfg.Search.BackendTimeout == 0 {
		cfg.Search.BackendTimeout = Duration(30 * time.Second)
	}
	if cfg.Search.GroundingLimit == 0 {
		cfg.Search.GroundingLimit = 20
	}
	if !cfg.Search.KeywordEnabled && cfg.Search.VectorProvider == "" {
		// A fresh install still answers keyword queries.
		cfg.Search.KeywordEnabled = true
	}
	if cfg.Search.Qdrant.Host == "" {
		cfg.Search.Qdrant.Host = "localhost"
	}
	if cfg.Search.Qdrant.Port == 0 {
		cfg.Search.Qdrant.Port = 6334
	}
	if cfg.Search.Qdrant.Collection == "" {
		cfg.Search.Qdrant.Collection = "provenanced_chunks"
	}
	if cfg.Search.Chromem.Collection == "" {
		cfg.Search.Chromem.Collection = "provenanced_chunks"
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "text-embedding-3-small"
	}

	if cfg.Citation.LowThreshold == 0 {
		cfg.Citation.LowThreshold = 0.5
	}
	if cfg.Citation.HighThreshold == 0 {
		cfg.Citation.HighThreshold = 0.8
	}
	if cfg.Citation.MaxConcurrency == 0 {
		cfg.Citation.MaxConcurrency = 4
	}

	if cfg.Summarize.MaxRetries == 0 {
		cfg.Summarize.MaxRetries = 2
	}
	if cfg.Summarize.RetryBackoff == 0 {
		cfg.Summarize.RetryBackoff = Duration(500 * time.Millisecond)
	}
	if cfg.Summarize.MaxConcurrent == 0 {
		cfg.Summarize.MaxConcurrent = 4
	}
	if cfg.Summarize.Primary.Timeout == 0 {
		cfg.Summarize.Primary.Timeout = Duration(60 * time.Second)
	}
	if cfg.Summarize.Fallback.Timeout == 0 {
		cfg.Summarize.Fallback.Timeout = Duration(60 * time.Second)
	}

	if cfg.Audit.Stream == "" {
		cfg.Audit.Stream = "PROVENANCE"
	}
	if cfg.Audit.Subject == "" {
		cfg.Audit.Subject = "provenance.records"
	}
}

// Validate validates cross-field constraints the component constructors
// cannot see.
func (cfg *Config) Validate() error {
	switch cfg.Search.Mode {
	case "keyword", "semantic", "hybrid":
	default:
		return fmt.Errorf("invalid search mode %q", cfg.Search.Mode)
	}
	switch cfg.Search.VectorProvider {
	case "", "qdrant", "chromem":
	default:
		return fmt.Errorf("invalid vector provider %q", cfg.Search.VectorProvider)
	}
	if cfg.Search.Mode == "semantic" && cfg.Search.VectorProvider == "" {
		return fmt.Errorf("search mode %q requires a vector provider", cfg.Search.Mode)
	}
	for name, w := range cfg.Search.Weights {
		if w < 0 {
			return fmt.Errorf("negative fusion weight %f for backend %q", w, name)
		}
	}
	if cfg.Citation.LowThreshold > cfg.Citation.HighThreshold {
		return fmt.Errorf("citation low threshold %f exceeds high threshold %f",
			cfg.Citation.LowThreshold, cfg.Citation.HighThreshold)
	}
	if cfg.Summarize.Fallback.Configured() && !cfg.Summarize.Primary.Configured() {
		return fmt.Errorf("fallback provider configured without a primary")
	}
	return nil
}
