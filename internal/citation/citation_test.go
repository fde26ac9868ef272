package citation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/provenanced/internal/chunkstore"
)

func testChunks() []chunkstore.Chunk {
	return []chunkstore.Chunk{
		{
			ID:         "chunk-1",
			DocumentID: "doc-1",
			Section:    "9.2",
			Text:       "Treatment X reduced symptom severity by 40% compared to placebo over the 12-week study period.",
		},
		{
			ID:         "chunk-2",
			DocumentID: "doc-1",
			Section:    "9.3",
			Text:       "Adverse events were mild and transient, resolving without intervention in most participants.",
		},
	}
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(Config{})
	require.NoError(t, err)
	return v
}

func TestNewValidator(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "defaults", config: Config{}},
		{name: "explicit thresholds", config: Config{LowThreshold: 0.4, HighThreshold: 0.9}},
		{name: "low above high", config: Config{LowThreshold: 0.9, HighThreshold: 0.5}, wantErr: true},
		{name: "threshold out of range", config: Config{LowThreshold: 0.2, HighThreshold: 1.5}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewValidator(tt.config)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestExtractVerifiedSegment(t *testing.T) {
	v := newTestValidator(t)

	summary := "Treatment X reduced symptom severity by 40%."
	citations, err := v.Extract(context.Background(), summary, testChunks())
	require.NoError(t, err)
	require.Len(t, citations, 1)

	c := citations[0]
	assert.Equal(t, StatusVerified, c.Status)
	assert.Equal(t, "chunk-1", c.ChunkID)
	assert.GreaterOrEqual(t, c.Confidence, 0.8)
	assert.Contains(t, c.Excerpt, "Treatment X reduced symptom severity by 40")
}

func TestExtractUnverifiedSegment(t *testing.T) {
	v := newTestValidator(t)

	summary := "Quarterly revenue exceeded analyst projections substantially."
	citations, err := v.Extract(context.Background(), summary, testChunks())
	require.NoError(t, err)
	require.Len(t, citations, 1)

	// The unsupported claim is flagged, never dropped.
	assert.Equal(t, StatusUnverified, citations[0].Status)
	assert.Less(t, citations[0].Confidence, 0.5)
}

func TestExtractPartialSegment(t *testing.T) {
	v := newTestValidator(t)

	// Most of the claim is grounded in chunk-2; "the study" is not,
	// which keeps the match ratio between the two thresholds.
	summary := "Adverse events were mild and transient in the study."
	citations, err := v.Extract(context.Background(), summary, testChunks())
	require.NoError(t, err)
	require.Len(t, citations, 1)

	c := citations[0]
	assert.Equal(t, "chunk-2", c.ChunkID)
	assert.GreaterOrEqual(t, c.Confidence, 0.5)
	assert.Less(t, c.Confidence, 0.8)
	assert.Equal(t, StatusPartial, c.Status)
}

func TestExtractDeterministic(t *testing.T) {
	v := newTestValidator(t)

	summary := "Treatment X reduced symptom severity by 40%. Adverse events were mild and transient."

	first, err := v.Extract(context.Background(), summary, testChunks())
	require.NoError(t, err)

	for range 3 {
		again, err := v.Extract(context.Background(), summary, testChunks())
		require.NoError(t, err)
		// Same inputs yield byte-identical citations, IDs included.
		assert.Equal(t, first, again)
	}
}

func TestExtractMultipleSegments(t *testing.T) {
	v := newTestValidator(t)

	summary := "Treatment X reduced symptom severity by 40% compared to placebo. Adverse events were mild and transient."
	citations, err := v.Extract(context.Background(), summary, testChunks())
	require.NoError(t, err)
	require.Len(t, citations, 2)

	assert.Equal(t, "chunk-1", citations[0].ChunkID)
	assert.Equal(t, "chunk-2", citations[1].ChunkID)
	for _, c := range citations {
		assert.Equal(t, StatusVerified, c.Status)
		assert.NotEmpty(t, c.ID)
	}
}

func TestExtractInvalidInput(t *testing.T) {
	v := newTestValidator(t)

	t.Run("empty summary", func(t *testing.T) {
		_, err := v.Extract(context.Background(), "", testChunks())
		require.ErrorIs(t, err, ErrInvalidGroundingInput)
	})

	t.Run("no chunks", func(t *testing.T) {
		_, err := v.Extract(context.Background(), "Some claim.", nil)
		require.ErrorIs(t, err, ErrInvalidGroundingInput)
	})
}

func TestExtractCancellation(t *testing.T) {
	v := newTestValidator(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.Extract(ctx, "Treatment X reduced symptom severity by 40%.", testChunks())
	require.ErrorIs(t, err, context.Canceled)
}
