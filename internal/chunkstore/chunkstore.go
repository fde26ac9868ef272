// Package chunkstore defines read access to document text chunks.
//
// The engine never owns chunk persistence. Ingestion (an external
// collaborator) produces chunks; this package only specifies the read
// interface the engine borrows per call, plus an in-memory implementation
// for embedded deployments and tests.
package chunkstore

import (
	"context"
	"errors"
)

// Sentinel errors for chunk retrieval.
var (
	// ErrChunkNotFound is returned when a chunk ID does not exist.
	ErrChunkNotFound = errors.New("chunk not found")

	// ErrDocumentNotFound is returned when a document has no chunks.
	ErrDocumentNotFound = errors.New("document not found")
)

// Chunk is a bounded span of a source document's text with page and
// section provenance. Chunks are immutable once created.
type Chunk struct {
	// ID uniquely identifies the chunk.
	ID string `json:"chunk_id"`

	// DocumentID identifies the source document.
	DocumentID string `json:"document_id"`

	// Section is the section reference within the document (e.g. "9.2").
	Section string `json:"section_reference"`

	// Page is the page number the chunk starts on.
	Page int `json:"page_number"`

	// Ordinal is the chunk's position within the document, 0-indexed.
	Ordinal int `json:"ordinal_index"`

	// Text is the chunk content.
	Text string `json:"text"`

	// Embedding is an optional precomputed vector for the chunk.
	Embedding []float32 `json:"embedding,omitempty"`

	// Meta carries document-level attributes used for filtering,
	// such as document_type (CSR, TMF) and study_id.
	Meta map[string]string `json:"metadata,omitempty"`
}

// Store provides read-only access to chunks.
//
// Implementations must be safe for concurrent use: chunk data is shared
// read-only across concurrent calls.
type Store interface {
	// GetChunks returns all chunks for a document, ordered by Ordinal.
	// Returns ErrDocumentNotFound if the document has no chunks.
	GetChunks(ctx context.Context, documentID string) ([]Chunk, error)

	// GetChunk returns a single chunk by ID.
	// Returns ErrChunkNotFound if the chunk does not exist.
	GetChunk(ctx context.Context, chunkID string) (*Chunk, error)
}
