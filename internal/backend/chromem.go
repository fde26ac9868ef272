package backend

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/provenanced/internal/chunkstore"
)

// ChromemConfig holds configuration for the embedded vector backend.
type ChromemConfig struct {
	// Name overrides the backend name. Default: "vector".
	Name string

	// Path is the persistence directory. Empty means in-memory only.
	Path string

	// Collection is the collection name. Default: "provenanced_chunks".
	Collection string

	// Compress enables gzip compression of persisted collections.
	Compress bool
}

// Chromem is an embedded vector-similarity Backend over chromem-go.
//
// It is the default vector backend when no external Qdrant endpoint is
// configured: zero external dependencies, suitable for single-node
// deployments and tests. Chunks are indexed at construction; precomputed
// chunk embeddings are used when present, otherwise the embedder runs at
// load time.
type Chromem struct {
	name       string
	collection *chromem.Collection
	chunks     map[string]chunkstore.Chunk
	logger     *zap.Logger
}

// NewChromem builds an embedded vector backend over the given chunks.
func NewChromem(cfg ChromemConfig, embedder Embedder, chunks []chunkstore.Chunk, logger *zap.Logger) (*Chromem, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder required for vector backend", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.Name
	if name == "" {
		name = VectorName
	}
	if cfg.Collection == "" {
		cfg.Collection = "provenanced_chunks"
	}

	var db *chromem.DB
	var err error
	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem db at %s: %w", cfg.Path, err)
		}
	} else {
		db = chromem.NewDB()
	}

	embedFunc := chromem.EmbeddingFunc(func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedQuery(ctx, text)
	})

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", cfg.Collection, err)
	}

	c := &Chromem{
		name:       name,
		collection: collection,
		chunks:     make(map[string]chunkstore.Chunk, len(chunks)),
		logger:     logger,
	}

	if len(chunks) > 0 {
		docs := make([]chromem.Document, 0, len(chunks))
		for _, chunk := range chunks {
			c.chunks[chunk.ID] = chunk
			doc := chromem.Document{
				ID:        chunk.ID,
				Content:   chunk.Text,
				Embedding: chunk.Embedding,
				Metadata: map[string]string{
					"document_id": chunk.DocumentID,
					"section":     chunk.Section,
					"page":        strconv.Itoa(chunk.Page),
					"ordinal":     strconv.Itoa(chunk.Ordinal),
				},
			}
			for k, v := range chunk.Meta {
				doc.Metadata[k] = v
			}
			docs = append(docs, doc)
		}

		ctx := context.Background()
		if err := collection.AddDocuments(ctx, docs, 4); err != nil {
			return nil, fmt.Errorf("indexing chunks: %w", err)
		}
	}

	logger.Info("embedded vector index ready",
		zap.String("backend", name),
		zap.String("collection", cfg.Collection),
		zap.Int("chunks", len(chunks)))

	return c, nil
}

// Name returns the backend name.
func (c *Chromem) Name() string { return c.name }

// Search runs a similarity query. Exact-match filters are pushed down as
// chromem metadata constraints; section-code disjunctions are applied
// in-process since chromem's where clause is conjunctive only.
func (c *Chromem) Search(ctx context.Context, queryText string, filters Filters, topK int) ([]Candidate, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidConfig, topK)
	}
	if err := ctx.Err(); err != nil {
		return nil, classifyCtxErr(ctx, err)
	}

	count := c.collection.Count()
	if count == 0 {
		return nil, nil
	}

	// Over-fetch when a section filter must be applied in-process.
	k := topK
	if len(filters.SectionCodes) > 0 {
		k = topK * 3
	}
	if k > count {
		k = count
	}

	where := map[string]string{}
	if filters.DocumentType != "" {
		where["document_type"] = filters.DocumentType
	}
	if filters.StudyID != "" {
		where["study_id"] = filters.StudyID
	}
	if len(where) == 0 {
		where = nil
	}

	results, err := c.collection.Query(ctx, queryText, k, where, nil)
	if err != nil {
		if cerr := classifyCtxErr(ctx, err); errors.Is(cerr, ErrBackendTimeout) || errors.Is(cerr, context.Canceled) {
			return nil, cerr
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	candidates := make([]Candidate, 0, len(results))
	for _, r := range results {
		chunk, ok := c.chunks[r.ID]
		if !ok {
			c.logger.Warn("indexed chunk missing from corpus", zap.String("chunk_id", r.ID))
			continue
		}
		if !filters.Match(chunk) {
			continue
		}
		candidates = append(candidates, Candidate{
			Chunk:    chunk,
			Backend:  c.name,
			RawScore: float64(r.Similarity),
		})
		if len(candidates) == topK {
			break
		}
	}
	return candidates, nil
}
