package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/provenanced/internal/citation"
	"github.com/fyrsmithlabs/provenanced/internal/provenance"
)

func testRecord(id string) *provenance.Record {
	return &provenance.Record{
		SummaryID:     id,
		Citations:     []citation.Citation{},
		ModelName:     "gpt-4o-mini",
		GeneratedAt:   time.Now().UTC(),
		InputChunkIDs: []string{"c1"},
	}
}

func TestMemorySinkRecordsInOrder(t *testing.T) {
	s := NewMemorySink()

	require.NoError(t, s.Record(context.Background(), testRecord("sum-1")))
	require.NoError(t, s.Record(context.Background(), testRecord("sum-2")))

	records := s.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "sum-1", records[0].SummaryID)
	assert.Equal(t, "sum-2", records[1].SummaryID)
}

func TestMemorySinkClosed(t *testing.T) {
	s := NewMemorySink()
	require.NoError(t, s.Close())

	err := s.Record(context.Background(), testRecord("sum-1"))
	require.ErrorIs(t, err, ErrSinkClosed)
}

func TestNATSConfigDefaults(t *testing.T) {
	var cfg NATSConfig
	cfg.applyDefaults()

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.URL)
	assert.Equal(t, "PROVENANCE", cfg.Stream)
	assert.Equal(t, "provenance.records", cfg.Subject)
	assert.Equal(t, 5, cfg.MaxReconnects)
}
