// Package summarize coordinates grounded summary generation against
// external model providers, with retry and fallback policy.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
)

// Sentinel errors for provider calls and orchestration.
var (
	// ErrProviderTimeout indicates the provider did not answer within
	// the call deadline. Transient.
	ErrProviderTimeout = errors.New("model provider timed out")

	// ErrRateLimited indicates the provider rejected the call for rate
	// limiting. Transient; retry with backoff.
	ErrRateLimited = errors.New("model provider rate limited")

	// ErrProviderUnavailable indicates a server-side (5xx-equivalent)
	// failure. Transient.
	ErrProviderUnavailable = errors.New("model provider unavailable")

	// ErrPermanent indicates an input-validation or authorization
	// failure. Never retried.
	ErrPermanent = errors.New("model provider permanent error")

	// ErrSummarizationUnavailable is surfaced when the primary provider
	// exhausted its retries and the fallback also failed. The engine
	// never synthesizes a partial or mock summary in its place.
	ErrSummarizationUnavailable = errors.New("summarization unavailable")

	// ErrOverCapacity is the backpressure signal: too many generation
	// calls are already outstanding. Callers should retry later with
	// backoff.
	ErrOverCapacity = errors.New("summarization over capacity")

	// ErrInvalidRequest indicates a malformed summarization request
	// (e.g. no grounding chunks). Caller error; never retried.
	ErrInvalidRequest = errors.New("invalid summarization request")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid provider configuration")
)

// IsTransient reports whether a provider error is worth retrying:
// timeouts, rate limiting, and 5xx-equivalent unavailability.
func IsTransient(err error) bool {
	return errors.Is(err, ErrProviderTimeout) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrProviderUnavailable)
}

// Generation is the outcome of one successful provider call.
type Generation struct {
	// Text is the generated summary text.
	Text string

	// Model is the concrete model that produced the text.
	Model string

	// Latency is the wall-clock duration of the call.
	Latency time.Duration
}

// Provider is the external generation capability the orchestrator
// invokes. Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the provider's configured name, used in attempt
	// audit entries and provenance records.
	Name() string

	// Generate produces text for the prompt. Failures are classified
	// into the package's sentinel errors.
	Generate(ctx context.Context, prompt string) (*Generation, error)
}

// Provider types selectable via configuration.
const (
	TypeOpenAI    = "openai"
	TypeAnthropic = "anthropic"
)

// ProviderConfig configures one model provider.
type ProviderConfig struct {
	// Name is the logical provider name (e.g. "primary", "fallback").
	// Defaults to Type when empty.
	Name string

	// Type selects the client implementation: "openai" (also serves
	// any OpenAI-compatible endpoint via BaseURL) or "anthropic".
	Type string

	// BaseURL overrides the API endpoint. OpenAI-compatible local
	// servers go here.
	BaseURL string

	// Model is the model identifier.
	Model string

	// APIKey authenticates the provider.
	APIKey string

	// Temperature for generation. Default: 0.1, kept low so output
	// stays close to the grounding text.
	Temperature float64

	// MaxTokens caps generated output. Default: 1024.
	MaxTokens int

	// Timeout is the per-call deadline. Default: 60s.
	Timeout time.Duration
}

// applyDefaults sets default values for unset fields.
func (c *ProviderConfig) applyDefaults() {
	if c.Name == "" {
		c.Name = c.Type
	}
	if c.Temperature == 0 {
		c.Temperature = 0.1
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
}

// Validate validates the configuration.
func (c ProviderConfig) Validate() error {
	switch c.Type {
	case TypeOpenAI, TypeAnthropic:
	default:
		return fmt.Errorf("%w: unknown provider type %q", ErrInvalidConfig, c.Type)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// LLMProvider is a Provider over langchaingo's model clients.
type LLMProvider struct {
	name   string
	llm    llms.Model
	config ProviderConfig
}

// NewProvider creates a provider from configuration. Provider selection
// happens here at construction time; the orchestrator never inspects
// provider types at runtime.
func NewProvider(cfg ProviderConfig) (*LLMProvider, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var llm llms.Model
	var err error

	switch cfg.Type {
	case TypeOpenAI:
		opts := []openai.Option{
			openai.WithModel(cfg.Model),
			openai.WithToken(cfg.APIKey),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err = openai.New(opts...)
	case TypeAnthropic:
		llm, err = anthropic.New(
			anthropic.WithModel(cfg.Model),
			anthropic.WithToken(cfg.APIKey),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", cfg.Type, err)
	}

	return &LLMProvider{
		name:   cfg.Name,
		llm:    llm,
		config: cfg,
	}, nil
}

// Name returns the provider name.
func (p *LLMProvider) Name() string { return p.name }

// Parameters returns the generation parameters for provenance records.
func (p *LLMProvider) Parameters() map[string]any {
	return map[string]any{
		"model":       p.config.Model,
		"temperature": p.config.Temperature,
		"max_tokens":  p.config.MaxTokens,
		"provider":    p.config.Type,
	}
}

// Model returns the configured model identifier.
func (p *LLMProvider) Model() string { return p.config.Model }

// Generate invokes the model with the configured call deadline.
func (p *LLMProvider) Generate(ctx context.Context, prompt string) (*Generation, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	start := time.Now()
	text, err := llms.GenerateFromSinglePrompt(ctx, p.llm, prompt,
		llms.WithTemperature(p.config.Temperature),
		llms.WithMaxTokens(p.config.MaxTokens),
	)
	latency := time.Since(start)

	if err != nil {
		return nil, classifyProviderErr(err)
	}

	return &Generation{
		Text:    text,
		Model:   p.config.Model,
		Latency: latency,
	}, nil
}

// classifyProviderErr maps client errors onto the package taxonomy.
// langchaingo surfaces HTTP failures as opaque errors, so status-class
// detection falls back to message matching.
func classifyProviderErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "unavailable"):
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
}
