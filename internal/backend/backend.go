// Package backend defines the uniform interface over heterogeneous search
// backends and provides the concrete adapters.
//
// Each adapter returns candidates scored on its own backend-native scale
// (BM25 for keyword, cosine similarity for vector search). Score
// normalization is deliberately NOT an adapter concern; it happens
// downstream in the fusion engine, which is the only component that sees
// all backends' scales side by side.
package backend

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/provenanced/internal/chunkstore"
)

// Sentinel errors for backend operations.
var (
	// ErrBackendUnavailable indicates the backend cannot be reached or
	// reported a server-side failure. Retryable at the backend level;
	// absorbed at the fusion boundary.
	ErrBackendUnavailable = errors.New("search backend unavailable")

	// ErrBackendTimeout indicates the caller-supplied deadline expired
	// before the backend responded. The fusion engine treats this as
	// zero candidates from the backend, never a whole-query failure.
	ErrBackendTimeout = errors.New("search backend timed out")

	// ErrInvalidConfig indicates invalid adapter configuration.
	ErrInvalidConfig = errors.New("invalid backend configuration")
)

// Candidate is a chunk proposed by a single backend with its
// backend-native score. Candidates are transient: created per search
// call and discarded after fusion.
type Candidate struct {
	Chunk    chunkstore.Chunk
	Backend  string
	RawScore float64
}

// Filters narrows a search to matching chunks. Zero values mean
// "no constraint". Field semantics follow clinical document metadata:
// document type is CSR or TMF, study ID identifies the trial.
type Filters struct {
	DocumentType string
	StudyID      string
	SectionCodes []string
}

// Empty reports whether no filter constraints are set.
func (f Filters) Empty() bool {
	return f.DocumentType == "" && f.StudyID == "" && len(f.SectionCodes) == 0
}

// Match reports whether a chunk satisfies the filters. Adapters that
// cannot push filters down to their engine apply this in-process.
func (f Filters) Match(c chunkstore.Chunk) bool {
	if f.DocumentType != "" && c.Meta["document_type"] != f.DocumentType {
		return false
	}
	if f.StudyID != "" && c.Meta["study_id"] != f.StudyID {
		return false
	}
	if len(f.SectionCodes) > 0 {
		found := false
		for _, code := range f.SectionCodes {
			if c.Section == code {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Backend is the uniform search interface over retrieval backends.
//
// Search returns up to topK candidates ordered by descending raw score.
// The context carries the caller-supplied deadline; implementations must
// return ErrBackendTimeout (wrapped) when it expires rather than
// blocking. Implementations must be safe for concurrent use.
type Backend interface {
	// Name returns the backend's configured name (e.g. "keyword",
	// "vector"). Names key the fusion engine's weight vector.
	Name() string

	// Search returns scored candidate chunks for the query.
	Search(ctx context.Context, query string, filters Filters, topK int) ([]Candidate, error)
}

// Embedder generates vector embeddings from text. Vector adapters use it
// to embed queries; the embedded store also uses it for documents.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// classifyCtxErr maps a context error observed during a backend call to
// the backend error taxonomy. Caller cancellation is passed through
// untouched so the pipeline can distinguish it from a backend deadline.
func classifyCtxErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrBackendTimeout
	}
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
