package chunkstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store implementation.
//
// It backs embedded deployments (chunks loaded from a JSONL corpus at
// startup) and tests. All data is read-only after loading, guarded by a
// RWMutex so loading and serving can overlap safely.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]Chunk
	byDocID map[string][]Chunk
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]Chunk),
		byDocID: make(map[string][]Chunk),
	}
}

// Add inserts chunks into the store. Chunks with duplicate IDs replace
// earlier entries. Document chunk lists are kept sorted by Ordinal.
func (s *MemoryStore) Add(chunks ...Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		if c.ID == "" {
			return fmt.Errorf("chunk missing ID (document %q, ordinal %d)", c.DocumentID, c.Ordinal)
		}
		if c.DocumentID == "" {
			return fmt.Errorf("chunk %q missing document ID", c.ID)
		}
		s.byID[c.ID] = c
	}
	s.reindexLocked()
	return nil
}

// reindexLocked rebuilds the per-document index. Caller holds s.mu.
func (s *MemoryStore) reindexLocked() {
	s.byDocID = make(map[string][]Chunk, len(s.byDocID))
	for _, c := range s.byID {
		s.byDocID[c.DocumentID] = append(s.byDocID[c.DocumentID], c)
	}
	for _, chunks := range s.byDocID {
		sort.Slice(chunks, func(i, j int) bool {
			return chunks[i].Ordinal < chunks[j].Ordinal
		})
	}
}

// GetChunks returns all chunks for a document, ordered by Ordinal.
func (s *MemoryStore) GetChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks, ok := s.byDocID[documentID]
	if !ok {
		return nil, fmt.Errorf("document %q: %w", documentID, ErrDocumentNotFound)
	}

	out := make([]Chunk, len(chunks))
	copy(out, chunks)
	return out, nil
}

// GetChunk returns a single chunk by ID.
func (s *MemoryStore) GetChunk(ctx context.Context, chunkID string) (*Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[chunkID]
	if !ok {
		return nil, fmt.Errorf("chunk %q: %w", chunkID, ErrChunkNotFound)
	}
	return &c, nil
}

// All returns every chunk in the store in deterministic order
// (document ID, then ordinal). Used by keyword backends to build their
// index at startup.
func (s *MemoryStore) All() []Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docIDs := make([]string, 0, len(s.byDocID))
	for id := range s.byDocID {
		docIDs = append(docIDs, id)
	}
	sort.Strings(docIDs)

	var out []Chunk
	for _, id := range docIDs {
		out = append(out, s.byDocID[id]...)
	}
	return out
}

// LoadJSONL loads chunks from a JSONL file, one Chunk object per line.
// Blank lines are skipped. Returns the number of chunks loaded.
func (s *MemoryStore) LoadJSONL(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening corpus file: %w", err)
	}
	defer f.Close()

	return s.loadJSONL(f)
}

func (s *MemoryStore) loadJSONL(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var chunks []Chunk
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var c Chunk
		if err := json.Unmarshal(raw, &c); err != nil {
			return 0, fmt.Errorf("parsing corpus line %d: %w", line, err)
		}
		chunks = append(chunks, c)
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("reading corpus: %w", err)
	}

	if err := s.Add(chunks...); err != nil {
		return 0, err
	}
	return len(chunks), nil
}
