// Package citation extracts claim-level citations from generated summary
// text and validates them against the grounding chunks the text was
// generated from.
//
// Validation is a deterministic text-similarity measure, not a model
// confidence: running the same (summary, chunks) pair twice yields
// identical support statuses and confidence scores.
package citation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/provenanced/internal/chunkstore"
)

// ErrInvalidGroundingInput is returned when the summary text is empty or
// no grounding chunks were supplied. The orchestrator must not call the
// validator without at least one chunk.
var ErrInvalidGroundingInput = errors.New("invalid grounding input")

// SupportStatus classifies how well a cited chunk supports a summary
// segment.
type SupportStatus string

const (
	// StatusVerified: the segment matches a contiguous span in the
	// cited chunk at or above the high threshold.
	StatusVerified SupportStatus = "verified"

	// StatusPartial: the best match falls between the low and high
	// thresholds.
	StatusPartial SupportStatus = "partial"

	// StatusUnverified: no chunk meets even the low threshold. The
	// segment is flagged, never silently dropped.
	StatusUnverified SupportStatus = "unverified"
)

// citationNamespace makes citation IDs deterministic per
// (chunk, segment) pair, which keeps repeated validation runs
// byte-identical.
var citationNamespace = uuid.MustParse("8c9e6a2b-41d3-4ef0-9b6a-5f1c2d3e4a5b")

// Citation links one summary segment to its best-supporting chunk.
// Immutable after validation.
type Citation struct {
	// ID is deterministic for a given (chunk, segment) pair.
	ID string `json:"citation_id"`

	// ChunkID is the best-supporting chunk, empty when unverified and
	// no chunk scored above zero.
	ChunkID string `json:"chunk_id"`

	// Segment is the summary segment the citation covers.
	Segment string `json:"segment"`

	// Excerpt is the best-matching contiguous span from the cited
	// chunk.
	Excerpt string `json:"text_excerpt"`

	// Confidence is the best match ratio found in [0,1]. It is a
	// deterministic text-similarity measure, not a probability and
	// not model calibration confidence.
	Confidence float64 `json:"confidence_score"`

	// Status is the support classification.
	Status SupportStatus `json:"support_status"`
}

// Config holds validator thresholds.
type Config struct {
	// LowThreshold is the minimum match ratio for partial support.
	// Default: 0.5.
	LowThreshold float64

	// HighThreshold is the minimum match ratio for verified support.
	// Default: 0.8.
	HighThreshold float64

	// MaxConcurrency caps concurrent segment validations. Segments are
	// independent and read-only against shared chunk data. Default: 4.
	MaxConcurrency int
}

// applyDefaults sets default values for unset fields.
func (c *Config) applyDefaults() {
	if c.LowThreshold == 0 {
		c.LowThreshold = 0.5
	}
	if c.HighThreshold == 0 {
		c.HighThreshold = 0.8
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = 4
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.LowThreshold < 0 || c.LowThreshold > 1 {
		return fmt.Errorf("low threshold must be in [0,1], got %f", c.LowThreshold)
	}
	if c.HighThreshold < 0 || c.HighThreshold > 1 {
		return fmt.Errorf("high threshold must be in [0,1], got %f", c.HighThreshold)
	}
	if c.LowThreshold > c.HighThreshold {
		return fmt.Errorf("low threshold %f exceeds high threshold %f", c.LowThreshold, c.HighThreshold)
	}
	return nil
}

// Validator extracts and validates citations.
type Validator struct {
	config Config
}

// NewValidator creates a Validator with the given thresholds.
func NewValidator(cfg Config) (*Validator, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid citation config: %w", err)
	}
	return &Validator{config: cfg}, nil
}

// Extract splits the summary into sentence-level segments and locates
// supporting evidence for each among the grounding chunks.
//
// Per segment, the match score against a chunk is the better of:
//   - token-overlap ratio: fraction of segment tokens present anywhere
//     in the chunk, and
//   - windowed LCS ratio: longest common subsequence of tokens between
//     the segment and the best contiguous chunk window, relative to
//     segment length.
//
// Confidence is the best score found even when it is below the low
// threshold, so downstream consumers can filter on it.
func (v *Validator) Extract(ctx context.Context, summary string, chunks []chunkstore.Chunk) ([]Citation, error) {
	if summary == "" {
		return nil, fmt.Errorf("%w: summary text is empty", ErrInvalidGroundingInput)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no grounding chunks supplied", ErrInvalidGroundingInput)
	}

	segments := SplitSentences(summary)
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: summary has no sentence segments", ErrInvalidGroundingInput)
	}

	// Tokenize chunks once; segments share them read-only.
	chunkTokens := make([][]string, len(chunks))
	for i, c := range chunks {
		chunkTokens[i] = Tokenize(c.Text)
	}

	citations := make([]Citation, len(segments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.config.MaxConcurrency)
	for i := range segments {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			citations[i] = v.validateSegment(segments[i], chunks, chunkTokens)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return citations, nil
}

// validateSegment scores one segment against every chunk and builds its
// citation.
func (v *Validator) validateSegment(segment string, chunks []chunkstore.Chunk, chunkTokens [][]string) Citation {
	segTokens := Tokenize(segment)

	best := Citation{
		Segment:    segment,
		Status:     StatusUnverified,
		Confidence: 0,
	}

	if len(segTokens) == 0 {
		best.ID = deterministicID("", segment)
		return best
	}

	for i, tokens := range chunkTokens {
		score, excerpt := matchSegment(segTokens, tokens, chunks[i].Text)
		if score > best.Confidence {
			best.Confidence = score
			best.ChunkID = chunks[i].ID
			best.Excerpt = excerpt
		}
	}

	switch {
	case best.Confidence >= v.config.HighThreshold:
		best.Status = StatusVerified
	case best.Confidence >= v.config.LowThreshold:
		best.Status = StatusPartial
	default:
		best.Status = StatusUnverified
	}

	best.ID = deterministicID(best.ChunkID, segment)
	return best
}

// deterministicID derives a stable citation UUID from the cited chunk
// and segment text.
func deterministicID(chunkID, segment string) string {
	return uuid.NewSHA1(citationNamespace, []byte(chunkID+"\x00"+segment)).String()
}
