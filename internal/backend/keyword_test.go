package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/provenanced/internal/chunkstore"
)

func indexedChunks() []chunkstore.Chunk {
	return []chunkstore.Chunk{
		{
			ID: "c1", DocumentID: "doc-1", Section: "9.2", Ordinal: 0,
			Text: "Treatment X reduced symptom severity by 40% compared to placebo.",
			Meta: map[string]string{"document_type": "CSR", "study_id": "ST-401"},
		},
		{
			ID: "c2", DocumentID: "doc-1", Section: "9.3", Ordinal: 1,
			Text: "Adverse events were mild and transient.",
			Meta: map[string]string{"document_type": "CSR", "study_id": "ST-401"},
		},
		{
			ID: "c3", DocumentID: "doc-2", Section: "2.1", Ordinal: 0,
			Text: "The trial master file lists all treatment sites.",
			Meta: map[string]string{"document_type": "TMF", "study_id": "ST-402"},
		},
	}
}

func newKeywordBackend(t *testing.T) *Keyword {
	t.Helper()
	kw, err := NewKeyword(KeywordConfig{}, indexedChunks(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kw.Close() })
	return kw
}

func TestKeywordSearch(t *testing.T) {
	kw := newKeywordBackend(t)

	cands, err := kw.Search(context.Background(), "symptom severity", Filters{}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, cands)

	assert.Equal(t, "c1", cands[0].Chunk.ID)
	assert.Equal(t, KeywordName, cands[0].Backend)
	assert.Greater(t, cands[0].RawScore, 0.0)
}

func TestKeywordSearchNoMatches(t *testing.T) {
	kw := newKeywordBackend(t)

	cands, err := kw.Search(context.Background(), "cryptocurrency blockchain", Filters{}, 10)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestKeywordSearchFilters(t *testing.T) {
	kw := newKeywordBackend(t)

	t.Run("document type", func(t *testing.T) {
		cands, err := kw.Search(context.Background(), "treatment", Filters{DocumentType: "TMF"}, 10)
		require.NoError(t, err)
		require.Len(t, cands, 1)
		assert.Equal(t, "c3", cands[0].Chunk.ID)
	})

	t.Run("study id", func(t *testing.T) {
		cands, err := kw.Search(context.Background(), "treatment", Filters{StudyID: "ST-401"}, 10)
		require.NoError(t, err)
		require.Len(t, cands, 1)
		assert.Equal(t, "c1", cands[0].Chunk.ID)
	})

	t.Run("section codes", func(t *testing.T) {
		cands, err := kw.Search(context.Background(), "adverse events", Filters{SectionCodes: []string{"9.3"}}, 10)
		require.NoError(t, err)
		require.Len(t, cands, 1)
		assert.Equal(t, "c2", cands[0].Chunk.ID)
	})

	t.Run("filter excludes everything", func(t *testing.T) {
		cands, err := kw.Search(context.Background(), "treatment", Filters{DocumentType: "protocol"}, 10)
		require.NoError(t, err)
		assert.Empty(t, cands)
	})
}

func TestKeywordSearchTopK(t *testing.T) {
	kw := newKeywordBackend(t)

	cands, err := kw.Search(context.Background(), "treatment", Filters{}, 1)
	require.NoError(t, err)
	assert.Len(t, cands, 1)
}

func TestKeywordSearchInvalidTopK(t *testing.T) {
	kw := newKeywordBackend(t)

	_, err := kw.Search(context.Background(), "treatment", Filters{}, 0)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestKeywordSearchCancelled(t *testing.T) {
	kw := newKeywordBackend(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := kw.Search(ctx, "treatment", Filters{}, 10)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFiltersMatch(t *testing.T) {
	chunk := chunkstore.Chunk{
		ID: "c1", DocumentID: "doc-1", Section: "9.2",
		Meta: map[string]string{"document_type": "CSR", "study_id": "ST-401"},
	}

	tests := []struct {
		name    string
		filters Filters
		want    bool
	}{
		{name: "empty filters match everything", filters: Filters{}, want: true},
		{name: "matching document type", filters: Filters{DocumentType: "CSR"}, want: true},
		{name: "mismatched document type", filters: Filters{DocumentType: "TMF"}, want: false},
		{name: "matching study", filters: Filters{StudyID: "ST-401"}, want: true},
		{name: "mismatched study", filters: Filters{StudyID: "ST-999"}, want: false},
		{name: "section in list", filters: Filters{SectionCodes: []string{"9.1", "9.2"}}, want: true},
		{name: "section not in list", filters: Filters{SectionCodes: []string{"10.1"}}, want: false},
		{name: "all conditions", filters: Filters{DocumentType: "CSR", StudyID: "ST-401", SectionCodes: []string{"9.2"}}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filters.Match(chunk))
		})
	}
}
