package fusion

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/provenanced/internal/backend"
	"github.com/fyrsmithlabs/provenanced/internal/chunkstore"
)

func cand(id, docID, section string, ordinal int, score float64) backend.Candidate {
	return backend.Candidate{
		Chunk: chunkstore.Chunk{
			ID:         id,
			DocumentID: docID,
			Section:    section,
			Ordinal:    ordinal,
			Text:       "text for " + id,
		},
		RawScore: score,
	}
}

func TestNewEngine(t *testing.T) {
	t.Run("accepts empty weights", func(t *testing.T) {
		_, err := NewEngine(Config{})
		require.NoError(t, err)
	})

	t.Run("rejects negative weight", func(t *testing.T) {
		_, err := NewEngine(Config{Weights: map[string]float64{"keyword": -0.5}})
		require.Error(t, err)
	})
}

func TestFuseWeightedCombination(t *testing.T) {
	// Two backends at weight 0.5 each, scores already in [0,1] so they
	// pass through normalization unchanged. A chunk present in both
	// backends outranks a single-backend chunk with a higher raw score.
	eng, err := NewEngine(Config{Weights: map[string]float64{
		"keyword": 0.5,
		"vector":  0.5,
	}})
	require.NoError(t, err)

	inputs := []Input{
		{
			Backend: "keyword",
			Candidates: []backend.Candidate{
				cand("A", "doc-1", "s1", 0, 0.9),
				cand("B", "doc-1", "s2", 1, 0.7),
			},
		},
		{
			Backend: "vector",
			Candidates: []backend.Candidate{
				cand("B", "doc-1", "s2", 1, 0.5),
				cand("C", "doc-1", "s3", 2, 0.6),
			},
		},
	}

	fused, err := eng.Fuse(inputs, 10)
	require.NoError(t, err)
	require.Len(t, fused.Results, 3)

	// B appears in both backends: 0.5*0.7 + 0.5*0.5 = 0.6
	// A keyword only:             0.5*0.9           = 0.45
	// C vector only:              0.5*0.6           = 0.3
	assert.Equal(t, "B", fused.Results[0].ChunkID)
	assert.InDelta(t, 0.6, fused.Results[0].Score, 1e-9)
	assert.Equal(t, "A", fused.Results[1].ChunkID)
	assert.InDelta(t, 0.45, fused.Results[1].Score, 1e-9)
	assert.Equal(t, "C", fused.Results[2].ChunkID)
	assert.InDelta(t, 0.3, fused.Results[2].Score, 1e-9)

	assert.ElementsMatch(t, []string{"keyword", "vector"}, fused.Results[0].Backends)
	assert.False(t, fused.Degraded)
}

func TestFuseInvariants(t *testing.T) {
	eng, err := NewEngine(Config{})
	require.NoError(t, err)

	inputs := []Input{
		{
			Backend: "keyword",
			Candidates: []backend.Candidate{
				cand("A", "doc-1", "s1", 0, 12.0),
				cand("B", "doc-2", "s1", 0, 4.0),
				cand("C", "doc-1", "s2", 1, 8.0),
				cand("A", "doc-1", "s1", 0, 6.0), // duplicate within backend
			},
		},
		{
			Backend: "vector",
			Candidates: []backend.Candidate{
				cand("C", "doc-1", "s2", 1, 0.8),
				cand("D", "doc-3", "s1", 0, 0.95),
			},
		},
	}

	fused, err := eng.Fuse(inputs, 10)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i, r := range fused.Results {
		assert.False(t, seen[r.ChunkID], "duplicate chunk %s in results", r.ChunkID)
		seen[r.ChunkID] = true
		assert.Equal(t, i+1, r.Rank)
		if i > 0 {
			assert.GreaterOrEqual(t, fused.Results[i-1].Score, r.Score,
				"scores must be non-increasing with rank")
		}
	}
}

func TestFuseNormalizationRescalesOutOfRangeScores(t *testing.T) {
	eng, err := NewEngine(Config{Weights: map[string]float64{"keyword": 1.0}})
	require.NoError(t, err)

	inputs := []Input{{
		Backend: "keyword",
		Candidates: []backend.Candidate{
			cand("A", "doc-1", "s1", 0, 14.0),
			cand("B", "doc-1", "s2", 1, 7.0),
			cand("C", "doc-1", "s3", 2, 2.0),
		},
	}}

	fused, err := eng.Fuse(inputs, 10)
	require.NoError(t, err)
	require.Len(t, fused.Results, 3)

	// BM25-style scores rescale to [0,1]: max -> 1, min -> 0.
	assert.InDelta(t, 1.0, fused.Results[0].Score, 1e-9)
	assert.InDelta(t, (7.0-2.0)/12.0, fused.Results[1].Score, 1e-9)
	assert.InDelta(t, 0.0, fused.Results[2].Score, 1e-9)
}

func TestFuseDeterministicTieBreak(t *testing.T) {
	eng, err := NewEngine(Config{})
	require.NoError(t, err)

	inputs := []Input{{
		Backend: "keyword",
		Candidates: []backend.Candidate{
			cand("X", "doc-2", "s1", 0, 0.5),
			cand("Y", "doc-1", "s2", 3, 0.5),
			cand("Z", "doc-1", "s2", 1, 0.5),
		},
	}}

	for range 5 {
		fused, err := eng.Fuse(inputs, 10)
		require.NoError(t, err)
		require.Len(t, fused.Results, 3)
		// Equal scores order by (document, section, ordinal) ascending.
		assert.Equal(t, "Z", fused.Results[0].ChunkID)
		assert.Equal(t, "Y", fused.Results[1].ChunkID)
		assert.Equal(t, "X", fused.Results[2].ChunkID)
	}
}

func TestFuseTruncatesAfterRanking(t *testing.T) {
	eng, err := NewEngine(Config{Weights: map[string]float64{"keyword": 1.0}})
	require.NoError(t, err)

	inputs := []Input{{
		Backend: "keyword",
		Candidates: []backend.Candidate{
			cand("low", "doc-1", "s1", 0, 0.1),
			cand("high", "doc-1", "s2", 1, 0.9),
			cand("mid", "doc-1", "s3", 2, 0.5),
		},
	}}

	fused, err := eng.Fuse(inputs, 2)
	require.NoError(t, err)
	require.Len(t, fused.Results, 2)
	assert.Equal(t, "high", fused.Results[0].ChunkID)
	assert.Equal(t, "mid", fused.Results[1].ChunkID)
}

func TestFuseAbsorbsBackendFailure(t *testing.T) {
	eng, err := NewEngine(Config{})
	require.NoError(t, err)

	inputs := []Input{
		{
			Backend: "keyword",
			Candidates: []backend.Candidate{
				cand("A", "doc-1", "s1", 0, 0.8),
			},
		},
		{
			Backend: "vector",
			Err:     errors.New("deadline exceeded"),
		},
	}

	fused, err := eng.Fuse(inputs, 10)
	require.NoError(t, err)

	// The healthy backend's results survive; the failure is flagged,
	// never propagated as an error or an empty list.
	require.Len(t, fused.Results, 1)
	assert.Equal(t, "A", fused.Results[0].ChunkID)
	assert.True(t, fused.Degraded)
	assert.Equal(t, []string{"vector"}, fused.FailedBackends)
}

func TestFuseEmptyInputs(t *testing.T) {
	eng, err := NewEngine(Config{})
	require.NoError(t, err)

	t.Run("no inputs is an error", func(t *testing.T) {
		_, err := eng.Fuse(nil, 10)
		require.ErrorIs(t, err, ErrNoInputs)
	})

	t.Run("zero candidates is empty, not an error", func(t *testing.T) {
		fused, err := eng.Fuse([]Input{{Backend: "keyword"}}, 10)
		require.NoError(t, err)
		assert.Empty(t, fused.Results)
		assert.False(t, fused.Degraded)
	})

	t.Run("invalid topK", func(t *testing.T) {
		_, err := eng.Fuse([]Input{{Backend: "keyword"}}, 0)
		require.Error(t, err)
	})
}

func TestFuseGroupsByDocument(t *testing.T) {
	eng, err := NewEngine(Config{Weights: map[string]float64{"keyword": 1.0}})
	require.NoError(t, err)

	inputs := []Input{{
		Backend: "keyword",
		Candidates: []backend.Candidate{
			cand("A", "doc-1", "s1", 0, 0.9),
			cand("B", "doc-2", "s1", 0, 0.8),
			cand("C", "doc-1", "s2", 1, 0.7),
		},
	}}

	fused, err := eng.Fuse(inputs, 10)
	require.NoError(t, err)
	require.Len(t, fused.ByDocument, 2)

	assert.Equal(t, "doc-1", fused.ByDocument[0].DocumentID)
	require.Len(t, fused.ByDocument[0].Results, 2)
	assert.Equal(t, "A", fused.ByDocument[0].Results[0].ChunkID)
	assert.Equal(t, "C", fused.ByDocument[0].Results[1].ChunkID)

	assert.Equal(t, "doc-2", fused.ByDocument[1].DocumentID)
	require.Len(t, fused.ByDocument[1].Results, 1)
}
