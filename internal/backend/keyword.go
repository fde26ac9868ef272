package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/search/query"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/provenanced/internal/chunkstore"
)

// KeywordName is the canonical name of the keyword backend.
const KeywordName = "keyword"

// KeywordConfig holds configuration for the keyword backend.
type KeywordConfig struct {
	// Name overrides the backend name. Default: "keyword".
	Name string
}

// keywordDoc is the shape indexed into bleve. Filter fields use the
// keyword analyzer so term queries match exact values.
type keywordDoc struct {
	Text         string `json:"text"`
	DocumentType string `json:"document_type"`
	StudyID      string `json:"study_id"`
	Section      string `json:"section"`
}

// Keyword is a Backend over an in-memory bleve full-text index.
//
// The index is built once at construction from the supplied chunks and is
// immutable afterward, so searches need no locking beyond bleve's own.
// Scores are bleve's tf-idf values: unbounded and backend-specific, which
// is exactly what the fusion engine's normalization step expects.
type Keyword struct {
	name   string
	index  bleve.Index
	chunks map[string]chunkstore.Chunk
	logger *zap.Logger

	closeOnce sync.Once
}

// NewKeyword builds a keyword backend over the given chunks.
func NewKeyword(cfg KeywordConfig, chunks []chunkstore.Chunk, logger *zap.Logger) (*Keyword, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.Name
	if name == "" {
		name = KeywordName
	}

	indexMapping := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	docMapping.AddFieldMappingsAt("text", textField)

	for _, field := range []string{"document_type", "study_id", "section"} {
		kw := bleve.NewTextFieldMapping()
		kw.Analyzer = keyword.Name
		docMapping.AddFieldMappingsAt(field, kw)
	}
	indexMapping.DefaultMapping = docMapping

	index, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("creating bleve index: %w", err)
	}

	byID := make(map[string]chunkstore.Chunk, len(chunks))
	batch := index.NewBatch()
	for _, c := range chunks {
		byID[c.ID] = c
		doc := keywordDoc{
			Text:         c.Text,
			DocumentType: c.Meta["document_type"],
			StudyID:      c.Meta["study_id"],
			Section:      c.Section,
		}
		if err := batch.Index(c.ID, doc); err != nil {
			return nil, fmt.Errorf("indexing chunk %q: %w", c.ID, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, fmt.Errorf("committing index batch: %w", err)
	}

	logger.Info("keyword index built",
		zap.String("backend", name),
		zap.Int("chunks", len(chunks)))

	return &Keyword{
		name:   name,
		index:  index,
		chunks: byID,
		logger: logger,
	}, nil
}

// Name returns the backend name.
func (k *Keyword) Name() string { return k.name }

// Search runs a full-text match query with filter conditions pushed down
// as term queries.
func (k *Keyword) Search(ctx context.Context, queryText string, filters Filters, topK int) ([]Candidate, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidConfig, topK)
	}
	if err := ctx.Err(); err != nil {
		return nil, classifyCtxErr(ctx, err)
	}

	match := bleve.NewMatchQuery(queryText)
	match.SetField("text")

	q := k.buildQuery(match, filters)

	req := bleve.NewSearchRequestOptions(q, topK, 0, false)
	res, err := k.index.SearchInContext(ctx, req)
	if err != nil {
		if cerr := classifyCtxErr(ctx, err); errors.Is(cerr, ErrBackendTimeout) || errors.Is(cerr, context.Canceled) {
			return nil, cerr
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	candidates := make([]Candidate, 0, len(res.Hits))
	for _, hit := range res.Hits {
		chunk, ok := k.chunks[hit.ID]
		if !ok {
			// Index and chunk map are built together; a miss means the
			// index outlived its corpus.
			k.logger.Warn("indexed chunk missing from corpus", zap.String("chunk_id", hit.ID))
			continue
		}
		candidates = append(candidates, Candidate{
			Chunk:    chunk,
			Backend:  k.name,
			RawScore: hit.Score,
		})
	}
	return candidates, nil
}

// buildQuery combines the text match with filter term queries.
func (k *Keyword) buildQuery(match query.Query, filters Filters) query.Query {
	if filters.Empty() {
		return match
	}

	conjuncts := []query.Query{match}

	if filters.DocumentType != "" {
		tq := bleve.NewTermQuery(filters.DocumentType)
		tq.SetField("document_type")
		conjuncts = append(conjuncts, tq)
	}
	if filters.StudyID != "" {
		tq := bleve.NewTermQuery(filters.StudyID)
		tq.SetField("study_id")
		conjuncts = append(conjuncts, tq)
	}
	if len(filters.SectionCodes) > 0 {
		sections := make([]query.Query, 0, len(filters.SectionCodes))
		for _, code := range filters.SectionCodes {
			tq := bleve.NewTermQuery(code)
			tq.SetField("section")
			sections = append(sections, tq)
		}
		conjuncts = append(conjuncts, bleve.NewDisjunctionQuery(sections...))
	}

	return bleve.NewConjunctionQuery(conjuncts...)
}

// Close releases the bleve index.
func (k *Keyword) Close() error {
	var err error
	k.closeOnce.Do(func() {
		err = k.index.Close()
	})
	return err
}
