// Package engine is the core surface of provenanced: multi-backend
// search with score fusion, and grounded summarization with citation
// validation and auditable provenance.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/provenanced/internal/audit"
	"github.com/fyrsmithlabs/provenanced/internal/backend"
	"github.com/fyrsmithlabs/provenanced/internal/chunkstore"
	"github.com/fyrsmithlabs/provenanced/internal/citation"
	"github.com/fyrsmithlabs/provenanced/internal/fusion"
	"github.com/fyrsmithlabs/provenanced/internal/provenance"
	"github.com/fyrsmithlabs/provenanced/internal/summarize"
)

var tracer = otel.Tracer("provenanced.engine")

// Search modes.
const (
	ModeKeyword  = "keyword"
	ModeSemantic = "semantic"
	ModeHybrid   = "hybrid"
)

var (
	// ErrEmptyQuery indicates a search request without query text.
	ErrEmptyQuery = errors.New("query text required")

	// ErrUnknownMode indicates an unrecognized search mode.
	ErrUnknownMode = errors.New("unknown search mode")

	// ErrModeUnavailable indicates the requested mode needs a backend
	// that is not configured.
	ErrModeUnavailable = errors.New("search mode unavailable")
)

// Config holds engine-level policy.
type Config struct {
	// Mode is the default search mode. Default: hybrid.
	Mode string `koanf:"mode"`

	// TopK is the default result count. Default: 10.
	TopK int `koanf:"top_k"`

	// BackendTimeout bounds each backend's search call. Default: 30s.
	BackendTimeout time.Duration `koanf:"backend_timeout"`

	// GroundingLimit caps how many chunks are sent to the model per
	// summarization. Default: 20.
	GroundingLimit int `koanf:"grounding_limit"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeHybrid
	}
	if c.TopK == 0 {
		c.TopK = 10
	}
	if c.BackendTimeout == 0 {
		c.BackendTimeout = 30 * time.Second
	}
	if c.GroundingLimit == 0 {
		c.GroundingLimit = 20
	}
}

// SearchRequest is one retrieval call.
type SearchRequest struct {
	// Query is the search text. Required.
	Query string `json:"query"`

	// Mode selects backends: keyword, semantic, or hybrid. Empty uses
	// the configured default.
	Mode string `json:"mode,omitempty"`

	// Filters narrow candidates by document metadata.
	Filters backend.Filters `json:"filters,omitempty"`

	// TopK caps the fused result count. Zero uses the configured
	// default.
	TopK int `json:"top_k,omitempty"`
}

// SummarizeRequest is one grounded summarization call.
type SummarizeRequest struct {
	// DocumentID selects the document to summarize. Required.
	DocumentID string `json:"document_id"`

	// SectionIDs restricts grounding to the named sections. Empty means
	// the whole document.
	SectionIDs []string `json:"section_ids,omitempty"`

	// MaxLength caps the summary length in words. Zero uses the prompt
	// default.
	MaxLength int `json:"max_length,omitempty"`

	// Style is an optional prompt style instruction.
	Style string `json:"style,omitempty"`

	// PreserveClinicalTerms keeps clinical terminology verbatim.
	PreserveClinicalTerms bool `json:"preserve_clinical_terms,omitempty"`

	// IncludeCitations enables sentence-level citation extraction.
	IncludeCitations bool `json:"include_citations,omitempty"`

	// Supersedes marks this summary as a correction of a prior one.
	Supersedes string `json:"supersedes,omitempty"`
}

// SummaryResult is a successful summarization with its provenance.
type SummaryResult struct {
	SummaryID   string              `json:"summary_id"`
	Text        string              `json:"text"`
	Model       string              `json:"model_name"`
	Provider    string              `json:"provider"`
	Citations   []citation.Citation `json:"citations"`
	GeneratedAt time.Time           `json:"generated_at"`
	Record      *provenance.Record  `json:"provenance"`
}

// Deps are the engine's collaborators, constructed by the caller.
type Deps struct {
	Backends     map[string]backend.Backend
	Fusion       *fusion.Engine
	Validator    *citation.Validator
	Orchestrator *summarize.Orchestrator
	Store        chunkstore.Store
	Audit        audit.Sink
	Logger       *zap.Logger
	Metrics      *Metrics
}

// Engine ties retrieval, fusion, generation, citation validation, and
// provenance together. Safe for concurrent use.
type Engine struct {
	config   Config
	backends map[string]backend.Backend
	fusion   *fusion.Engine
	valid    *citation.Validator
	orch     *summarize.Orchestrator
	store    chunkstore.Store
	sink     audit.Sink
	logger   *zap.Logger
	metrics  *Metrics
}

// New creates an engine. Fusion, store, and audit sink are required;
// the validator and orchestrator may be nil when summarization is not
// served.
func New(cfg Config, deps Deps) (*Engine, error) {
	cfg.ApplyDefaults()
	if len(deps.Backends) == 0 {
		return nil, errors.New("at least one search backend required")
	}
	if deps.Fusion == nil {
		return nil, errors.New("fusion engine required")
	}
	if deps.Store == nil {
		return nil, errors.New("chunk store required")
	}
	if deps.Audit == nil {
		return nil, errors.New("audit sink required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}

	return &Engine{
		config:   cfg,
		backends: deps.Backends,
		fusion:   deps.Fusion,
		valid:    deps.Validator,
		orch:     deps.Orchestrator,
		store:    deps.Store,
		sink:     deps.Audit,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
	}, nil
}

// Search fans the query out to the mode's backends, each under its own
// timeout, and fuses the results.
//
// A backend failure or timeout degrades the result instead of failing
// the call; only explicit cancellation of the caller's context aborts
// the whole search.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*fusion.Fused, error) {
	if req.Query == "" {
		return nil, ErrEmptyQuery
	}

	mode := req.Mode
	if mode == "" {
		mode = e.config.Mode
	}
	names, err := e.backendsFor(mode)
	if err != nil {
		return nil, err
	}

	topK := req.TopK
	if topK <= 0 {
		topK = e.config.TopK
	}

	ctx, span := tracer.Start(ctx, "engine.search")
	defer span.End()
	span.SetAttributes(
		attribute.String("search.mode", mode),
		attribute.Int("search.top_k", topK),
	)

	start := time.Now()

	inputs := make([]fusion.Input, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		b := e.backends[name]
		g.Go(func() error {
			bctx, cancel := context.WithTimeout(gctx, e.config.BackendTimeout)
			defer cancel()

			cands, err := b.Search(bctx, req.Query, req.Filters, topK)
			if err != nil {
				// Caller cancellation aborts the search; backend
				// failures degrade it.
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					return err
				}
				e.logger.Warn("search backend failed",
					zap.String("backend", name),
					zap.Error(err))
				e.metrics.backendFailures.WithLabelValues(name).Inc()
				inputs[i] = fusion.Input{Backend: name, Err: err}
				return nil
			}
			inputs[i] = fusion.Input{Backend: name, Candidates: cands}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.metrics.searchesTotal.WithLabelValues(mode, "cancelled").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		return nil, err
	}

	fused, err := e.fusion.Fuse(inputs, topK)
	if err != nil {
		e.metrics.searchesTotal.WithLabelValues(mode, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "fusion failed")
		return nil, fmt.Errorf("fusing results: %w", err)
	}

	e.metrics.searchDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if fused.Degraded {
		e.metrics.searchesTotal.WithLabelValues(mode, "degraded").Inc()
		e.metrics.searchDegraded.Inc()
	} else {
		e.metrics.searchesTotal.WithLabelValues(mode, "ok").Inc()
	}

	span.SetAttributes(
		attribute.Int("search.results", len(fused.Results)),
		attribute.Bool("search.degraded", fused.Degraded),
	)
	return fused, nil
}

// backendsFor resolves a mode to configured backend names, sorted for
// deterministic fan-out order.
func (e *Engine) backendsFor(mode string) ([]string, error) {
	var names []string
	switch mode {
	case ModeKeyword:
		names = []string{backend.KeywordName}
	case ModeSemantic:
		names = []string{backend.VectorName}
	case ModeHybrid:
		for name := range e.backends {
			names = append(names, name)
		}
		slices.Sort(names)
		return names, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	for _, name := range names {
		if _, ok := e.backends[name]; !ok {
			return nil, fmt.Errorf("%w: mode %q needs backend %q", ErrModeUnavailable, mode, name)
		}
	}
	return names, nil
}

// Summarize generates a grounded summary for a document, validates its
// citations, and persists the provenance record.
//
// The call succeeds only once the audit sink has acknowledged the
// record. When generation fails on every provider, no record is written
// and no substitute summary is fabricated.
func (e *Engine) Summarize(ctx context.Context, req SummarizeRequest) (*SummaryResult, error) {
	if e.orch == nil || e.valid == nil {
		return nil, fmt.Errorf("%w: no summarization provider configured",
			summarize.ErrSummarizationUnavailable)
	}

	ctx, span := tracer.Start(ctx, "engine.summarize")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", req.DocumentID))

	start := time.Now()

	chunks, err := e.groundingChunks(ctx, req)
	if err != nil {
		e.metrics.summariesTotal.WithLabelValues("invalid").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "grounding failed")
		return nil, err
	}

	res, err := e.orch.Summarize(ctx, summarize.Request{
		Chunks: chunks,
		Options: summarize.PromptOptions{
			MaxLength:             req.MaxLength,
			Style:                 req.Style,
			PreserveClinicalTerms: req.PreserveClinicalTerms,
		},
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, summarize.ErrSummarizationUnavailable) {
			outcome = "unavailable"
		} else if errors.Is(err, summarize.ErrOverCapacity) {
			outcome = "over_capacity"
		}
		e.metrics.summariesTotal.WithLabelValues(outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return nil, err
	}

	citations := []citation.Citation{}
	if req.IncludeCitations {
		citations, err = e.valid.Extract(ctx, res.Text, chunks)
		if err != nil {
			e.metrics.summariesTotal.WithLabelValues("error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "citation validation failed")
			return nil, fmt.Errorf("validating citations: %w", err)
		}
		for _, c := range citations {
			e.metrics.citationStatuses.WithLabelValues(string(c.Status)).Inc()
		}
	}

	generatedAt := time.Now().UTC()
	in := provenance.Input{
		SummaryID:       provenance.NewSummaryID(),
		Citations:       citations,
		ModelName:       res.Model,
		ModelParameters: res.Parameters,
		GeneratedAt:     generatedAt,
		InputChunkIDs:   res.InputChunkIDs,
		Attempts:        res.Attempts,
	}

	var rec *provenance.Record
	if req.Supersedes != "" {
		rec, err = provenance.Supersede(&provenance.Record{SummaryID: req.Supersedes}, in)
	} else {
		rec, err = provenance.Build(in)
	}
	if err != nil {
		e.metrics.summariesTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "provenance build failed")
		return nil, fmt.Errorf("building provenance record: %w", err)
	}

	// The summary is not usable until its provenance is durable.
	if err := e.sink.Record(ctx, rec); err != nil {
		e.metrics.auditFailures.Inc()
		e.metrics.summariesTotal.WithLabelValues("audit_failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit failed")
		return nil, fmt.Errorf("recording provenance for summary %s: %w", rec.SummaryID, err)
	}

	if len(res.Attempts) > 0 && res.Provider != res.Attempts[0].Provider {
		e.metrics.summaryFallbacks.Inc()
	}
	e.metrics.summariesTotal.WithLabelValues("ok").Inc()
	e.metrics.summaryDuration.Observe(time.Since(start).Seconds())

	e.logger.Info("summary generated",
		zap.String("summary_id", rec.SummaryID),
		zap.String("document_id", req.DocumentID),
		zap.String("provider", res.Provider),
		zap.Int("citations", len(citations)),
		zap.Int("attempts", len(res.Attempts)))

	return &SummaryResult{
		SummaryID:   rec.SummaryID,
		Text:        res.Text,
		Model:       res.Model,
		Provider:    res.Provider,
		Citations:   citations,
		GeneratedAt: generatedAt,
		Record:      rec,
	}, nil
}

// groundingChunks loads and bounds the chunk set shown to the model.
func (e *Engine) groundingChunks(ctx context.Context, req SummarizeRequest) ([]chunkstore.Chunk, error) {
	if req.DocumentID == "" {
		return nil, fmt.Errorf("%w: document ID required", citation.ErrInvalidGroundingInput)
	}

	chunks, err := e.store.GetChunks(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("loading chunks for %s: %w", req.DocumentID, err)
	}

	if len(req.SectionIDs) > 0 {
		filtered := chunks[:0:0]
		for _, c := range chunks {
			if slices.Contains(req.SectionIDs, c.Section) {
				filtered = append(filtered, c)
			}
		}
		chunks = filtered
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks matched document %s",
			citation.ErrInvalidGroundingInput, req.DocumentID)
	}

	if len(chunks) > e.config.GroundingLimit {
		chunks = chunks[:e.config.GroundingLimit]
	}
	return chunks, nil
}
