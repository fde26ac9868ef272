package summarize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/provenanced/internal/chunkstore"
	"github.com/fyrsmithlabs/provenanced/internal/provenance"
)

var orchTracer = otel.Tracer("provenanced.summarize")

// Config holds orchestration policy.
type Config struct {
	// MaxRetries is the number of retries (beyond the first attempt)
	// against the primary provider, for transient errors only.
	// Default: 2.
	MaxRetries int

	// RetryBackoff is the initial delay before the first retry; each
	// subsequent retry doubles it. Default: 500ms.
	RetryBackoff time.Duration

	// MaxConcurrent caps in-flight generation calls across the whole
	// process. Calls beyond the cap fail fast with ErrOverCapacity
	// rather than queue. Default: 4.
	MaxConcurrent int

	// RatePerSecond throttles provider calls. Zero disables throttling.
	RatePerSecond float64

	// RateBurst is the limiter burst size. Default: 1 when throttling
	// is enabled.
	RateBurst int
}

// applyDefaults sets default values for unset fields.
func (c *Config) applyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 4
	}
	if c.RatePerSecond > 0 && c.RateBurst == 0 {
		c.RateBurst = 1
	}
}

// Request is one summarization call: the grounding chunks plus prompt
// shaping options.
type Request struct {
	// Chunks is the exact ordered grounding set shown to the model.
	Chunks []chunkstore.Chunk

	// Options shape the prompt.
	Options PromptOptions
}

// Result is a successful orchestration outcome. Attempts covers every
// provider call made, failed ones included, so the provenance record can
// carry the full fallback chain.
type Result struct {
	// Text is the generated summary.
	Text string

	// Provider is the name of the provider that produced the text.
	Provider string

	// Model is the model that produced the text. After a fallback this
	// is the fallback's model, never the primary's.
	Model string

	// Parameters are the generation parameters of the producing
	// provider.
	Parameters map[string]any

	// Attempts is the ordered log of every attempt made.
	Attempts []provenance.Attempt

	// InputChunkIDs is the ordered list of chunk IDs in the prompt.
	InputChunkIDs []string
}

// parameterized is implemented by providers that expose their generation
// parameters for provenance records.
type parameterized interface {
	Parameters() map[string]any
	Model() string
}

// Orchestrator drives generation through a primary provider with bounded
// retries, then a fallback provider, strictly in that order. It never
// fabricates a summary: when both providers fail the caller gets
// ErrSummarizationUnavailable and nothing else.
type Orchestrator struct {
	primary  Provider
	fallback Provider // nil when no fallback is configured
	config   Config
	sem      chan struct{}
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewOrchestrator creates an orchestrator. The fallback provider may be
// nil; primary must not be.
func NewOrchestrator(cfg Config, primary, fallback Provider, logger *zap.Logger) (*Orchestrator, error) {
	if primary == nil {
		return nil, fmt.Errorf("%w: primary provider required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst)
	}

	return &Orchestrator{
		primary:  primary,
		fallback: fallback,
		config:   cfg,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		limiter:  limiter,
		logger:   logger,
	}, nil
}

// Summarize generates a grounded summary from the request's chunks.
//
// The attempt sequence is: primary, up to MaxRetries primary retries on
// transient errors with doubling backoff, then a single fallback
// attempt. Permanent primary errors skip straight to the fallback.
// Cancellation aborts between attempts and is returned as the context's
// error, never converted into a retry.
func (o *Orchestrator) Summarize(ctx context.Context, req Request) (*Result, error) {
	if len(req.Chunks) == 0 {
		return nil, fmt.Errorf("%w: no grounding chunks", ErrInvalidRequest)
	}

	// Fail fast under load; callers retry with backoff.
	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	default:
		return nil, ErrOverCapacity
	}

	ctx, span := orchTracer.Start(ctx, "summarize.orchestrate")
	defer span.End()
	span.SetAttributes(
		attribute.Int("grounding.chunks", len(req.Chunks)),
		attribute.String("provider.primary", o.primary.Name()),
	)

	prompt := BuildPrompt(req.Chunks, req.Options)
	chunkIDs := make([]string, len(req.Chunks))
	for i, c := range req.Chunks {
		chunkIDs[i] = c.ID
	}

	var attempts []provenance.Attempt

	gen, primaryErr := o.tryPrimary(ctx, prompt, &attempts)
	if primaryErr == nil {
		return o.result(gen, o.primary, attempts, chunkIDs), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		span.RecordError(ctxErr)
		span.SetStatus(codes.Error, "cancelled")
		return nil, ctxErr
	}

	if o.fallback == nil {
		span.RecordError(primaryErr)
		span.SetStatus(codes.Error, "primary exhausted, no fallback")
		return nil, fmt.Errorf("%w: primary %s failed: %v",
			ErrSummarizationUnavailable, o.primary.Name(), primaryErr)
	}

	o.logger.Warn("primary provider exhausted, falling back",
		zap.String("primary", o.primary.Name()),
		zap.String("fallback", o.fallback.Name()),
		zap.Error(primaryErr))

	gen, fallbackErr := o.attempt(ctx, o.fallback, prompt, 1, &attempts)
	if fallbackErr == nil {
		return o.result(gen, o.fallback, attempts, chunkIDs), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		span.RecordError(ctxErr)
		span.SetStatus(codes.Error, "cancelled")
		return nil, ctxErr
	}

	span.RecordError(fallbackErr)
	span.SetStatus(codes.Error, "all providers failed")
	return nil, fmt.Errorf("%w: primary %s: %v; fallback %s: %v",
		ErrSummarizationUnavailable,
		o.primary.Name(), primaryErr,
		o.fallback.Name(), fallbackErr)
}

// tryPrimary runs the primary provider with bounded transient-only
// retries and doubling backoff. It returns the last error when the
// retry budget is exhausted or the error is permanent.
func (o *Orchestrator) tryPrimary(ctx context.Context, prompt string, attempts *[]provenance.Attempt) (*Generation, error) {
	backoff := o.config.RetryBackoff
	var lastErr error

	for n := 1; n <= o.config.MaxRetries+1; n++ {
		gen, err := o.attempt(ctx, o.primary, prompt, n, attempts)
		if err == nil {
			return gen, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if !IsTransient(err) {
			o.logger.Warn("primary provider permanent error, not retrying",
				zap.String("provider", o.primary.Name()),
				zap.Error(err))
			return nil, err
		}
		if n > o.config.MaxRetries {
			break
		}

		o.logger.Debug("transient provider error, backing off",
			zap.String("provider", o.primary.Name()),
			zap.Int("attempt", n),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return nil, lastErr
}

// attempt makes one provider call, honoring the rate limiter, and
// appends its audit entry.
func (o *Orchestrator) attempt(ctx context.Context, p Provider, prompt string, number int, attempts *[]provenance.Attempt) (*Generation, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	gen, err := p.Generate(ctx, prompt)
	latency := time.Since(start)

	entry := provenance.Attempt{
		Provider: p.Name(),
		Number:   number,
		Latency:  latency,
	}
	if err != nil {
		entry.Outcome = "failure"
		entry.Error = err.Error()
	} else {
		entry.Outcome = "success"
		entry.Latency = gen.Latency
	}
	*attempts = append(*attempts, entry)

	return gen, err
}

// result assembles the orchestration outcome for the winning provider.
func (o *Orchestrator) result(gen *Generation, p Provider, attempts []provenance.Attempt, chunkIDs []string) *Result {
	res := &Result{
		Text:          gen.Text,
		Provider:      p.Name(),
		Model:         gen.Model,
		Attempts:      attempts,
		InputChunkIDs: chunkIDs,
	}
	if pp, ok := p.(parameterized); ok {
		res.Parameters = pp.Parameters()
	}
	return res
}
