package provenance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/provenanced/internal/citation"
)

func validInput() Input {
	return Input{
		SummaryID: "sum-1",
		Citations: []citation.Citation{
			{ID: "cit-1", ChunkID: "chunk-1", Segment: "A claim.", Confidence: 0.9, Status: citation.StatusVerified},
		},
		ModelName:       "gpt-4o-mini",
		ModelParameters: map[string]any{"temperature": 0.1},
		GeneratedAt:     time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC),
		InputChunkIDs:   []string{"chunk-1", "chunk-2"},
		Attempts: []Attempt{
			{Provider: "primary", Number: 1, Outcome: "success", Latency: 1200 * time.Millisecond},
		},
	}
}

func TestBuild(t *testing.T) {
	rec, err := Build(validInput())
	require.NoError(t, err)

	assert.Equal(t, "sum-1", rec.SummaryID)
	assert.Equal(t, "gpt-4o-mini", rec.ModelName)
	assert.Equal(t, []string{"chunk-1", "chunk-2"}, rec.InputChunkIDs)
	assert.Len(t, rec.Attempts, 1)
	assert.Empty(t, rec.Supersedes)
}

func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Input)
	}{
		{"missing summary ID", func(in *Input) { in.SummaryID = "" }},
		{"nil citations", func(in *Input) { in.Citations = nil }},
		{"missing model name", func(in *Input) { in.ModelName = "" }},
		{"zero timestamp", func(in *Input) { in.GeneratedAt = time.Time{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			_, err := Build(in)
			require.ErrorIs(t, err, ErrIncompleteProvenanceInput)
		})
	}
}

func TestBuildEmptyCitationsIsValid(t *testing.T) {
	in := validInput()
	in.Citations = []citation.Citation{}

	rec, err := Build(in)
	require.NoError(t, err)
	assert.NotNil(t, rec.Citations)
	assert.Empty(t, rec.Citations)
}

func TestBuildCopiesInput(t *testing.T) {
	in := validInput()
	rec, err := Build(in)
	require.NoError(t, err)

	// Mutating the caller's slices and maps must not reach the record.
	in.InputChunkIDs[0] = "tampered"
	in.Citations[0].Segment = "tampered"
	in.ModelParameters["temperature"] = 2.0
	in.Attempts[0].Outcome = "tampered"

	assert.Equal(t, "chunk-1", rec.InputChunkIDs[0])
	assert.Equal(t, "A claim.", rec.Citations[0].Segment)
	assert.Equal(t, 0.1, rec.ModelParameters["temperature"])
	assert.Equal(t, "success", rec.Attempts[0].Outcome)
}

func TestBuildNormalizesTimestampToUTC(t *testing.T) {
	in := validInput()
	loc := time.FixedZone("UTC+5", 5*3600)
	in.GeneratedAt = time.Date(2026, 3, 10, 19, 30, 0, 0, loc)

	rec, err := Build(in)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, rec.GeneratedAt.Location())
	assert.Equal(t, 14, rec.GeneratedAt.Hour())
}

func TestSupersede(t *testing.T) {
	prior, err := Build(validInput())
	require.NoError(t, err)

	in := validInput()
	in.SummaryID = "sum-2"

	rec, err := Supersede(prior, in)
	require.NoError(t, err)

	// The correction references the prior record; the prior record is
	// untouched.
	assert.Equal(t, "sum-2", rec.SummaryID)
	assert.Equal(t, "sum-1", rec.Supersedes)
	assert.Empty(t, prior.Supersedes)
}

func TestSupersedeRequiresPrior(t *testing.T) {
	_, err := Supersede(nil, validInput())
	require.ErrorIs(t, err, ErrIncompleteProvenanceInput)
}

func TestNewSummaryID(t *testing.T) {
	a := NewSummaryID()
	b := NewSummaryID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
