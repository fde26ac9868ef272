// Package provenance assembles immutable, auditable records linking a
// generated summary back to its citations, input chunks, and generation
// parameters.
//
// Records are append-only: nothing mutates a record after creation. A
// correction is a NEW record that references the prior one through its
// Supersedes field.
package provenance

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/provenanced/internal/citation"
)

// ErrIncompleteProvenanceInput is returned when the build input is
// malformed (missing summary ID or missing citations list). Building is
// a pure assembly step; this is its only failure mode.
var ErrIncompleteProvenanceInput = errors.New("incomplete provenance input")

// Attempt records one generation attempt against a model provider, for
// audit purposes. Successful and failed attempts are both kept.
type Attempt struct {
	// Provider is the provider's configured name.
	Provider string `json:"provider"`

	// Number is the 1-indexed attempt number within the provider.
	Number int `json:"attempt"`

	// Outcome is "success" or "failure".
	Outcome string `json:"outcome"`

	// Latency is the wall-clock duration of the attempt.
	Latency time.Duration `json:"latency_ns"`

	// Error holds the failure reason, empty on success.
	Error string `json:"error,omitempty"`
}

// Record is the auditable provenance of one summarization call.
//
// InputChunkIDs is the exact ordered list of chunk IDs supplied to the
// model, not the full fused list, so an inspector can reconstruct
// precisely what the model saw.
type Record struct {
	SummaryID       string              `json:"summary_id"`
	Citations       []citation.Citation `json:"citations"`
	ModelName       string              `json:"model_name"`
	ModelParameters map[string]any      `json:"model_parameters,omitempty"`
	GeneratedAt     time.Time           `json:"generated_at"`
	InputChunkIDs   []string            `json:"input_chunk_ids"`
	Attempts        []Attempt           `json:"attempts,omitempty"`

	// Supersedes references a prior record this one corrects; empty for
	// first-generation records.
	Supersedes string `json:"supersedes,omitempty"`
}

// Input carries everything needed to build a Record.
type Input struct {
	SummaryID       string
	Citations       []citation.Citation
	ModelName       string
	ModelParameters map[string]any
	GeneratedAt     time.Time
	InputChunkIDs   []string
	Attempts        []Attempt
}

// Build assembles a Record from the input. It is deterministic and pure:
// no retries, no I/O, and it fails only on malformed input.
//
// Citations must be non-nil; an empty slice is valid (the caller opted
// out of citation extraction) but nil indicates the extraction step was
// skipped by mistake.
func Build(in Input) (*Record, error) {
	if in.SummaryID == "" {
		return nil, fmt.Errorf("%w: missing summary ID", ErrIncompleteProvenanceInput)
	}
	if in.Citations == nil {
		return nil, fmt.Errorf("%w: missing citations list", ErrIncompleteProvenanceInput)
	}
	if in.ModelName == "" {
		return nil, fmt.Errorf("%w: missing model name", ErrIncompleteProvenanceInput)
	}
	if in.GeneratedAt.IsZero() {
		return nil, fmt.Errorf("%w: missing generation timestamp", ErrIncompleteProvenanceInput)
	}

	rec := &Record{
		SummaryID:   in.SummaryID,
		ModelName:   in.ModelName,
		GeneratedAt: in.GeneratedAt.UTC(),
	}

	// Copy every slice and map so the record cannot alias caller-held
	// mutable state.
	rec.Citations = make([]citation.Citation, len(in.Citations))
	copy(rec.Citations, in.Citations)

	rec.InputChunkIDs = make([]string, len(in.InputChunkIDs))
	copy(rec.InputChunkIDs, in.InputChunkIDs)

	if len(in.Attempts) > 0 {
		rec.Attempts = make([]Attempt, len(in.Attempts))
		copy(rec.Attempts, in.Attempts)
	}

	if len(in.ModelParameters) > 0 {
		rec.ModelParameters = make(map[string]any, len(in.ModelParameters))
		maps.Copy(rec.ModelParameters, in.ModelParameters)
	}

	return rec, nil
}

// Supersede builds a correction record that references the prior record.
// The prior record itself is never modified.
func Supersede(prior *Record, in Input) (*Record, error) {
	if prior == nil || prior.SummaryID == "" {
		return nil, fmt.Errorf("%w: missing prior record", ErrIncompleteProvenanceInput)
	}

	rec, err := Build(in)
	if err != nil {
		return nil, err
	}
	rec.Supersedes = prior.SummaryID
	return rec, nil
}

// NewSummaryID generates a fresh summary identifier.
func NewSummaryID() string {
	return uuid.NewString()
}
