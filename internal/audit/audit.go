// Package audit persists provenance records to a durable sink. A record
// is only considered recorded once the sink has acknowledged it; the
// engine fails the summarization call otherwise.
package audit

import (
	"context"
	"errors"
	"sync"

	"github.com/fyrsmithlabs/provenanced/internal/provenance"
)

// ErrSinkClosed is returned when recording to a closed sink.
var ErrSinkClosed = errors.New("audit sink closed")

// Sink receives completed provenance records. Record must not return
// until the record is durably accepted; a nil error means the record is
// persisted, an error means the caller must treat the summarization as
// failed.
type Sink interface {
	// Record persists one provenance record.
	Record(ctx context.Context, rec *provenance.Record) error

	// Close releases sink resources.
	Close() error
}

// MemorySink retains records in memory, in arrival order. Used in tests
// and as the default when no durable sink is configured.
type MemorySink struct {
	mu      sync.Mutex
	records []*provenance.Record
	closed  bool
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record appends the record.
func (s *MemorySink) Record(_ context.Context, rec *provenance.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.records = append(s.records, rec)
	return nil
}

// Records returns a snapshot of everything recorded so far.
func (s *MemorySink) Records() []*provenance.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*provenance.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Close marks the sink closed.
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
