package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/provenanced/internal/provenance"
)

// NATSConfig configures the JetStream audit sink.
type NATSConfig struct {
	// URL is the NATS server URL. Default: nats://localhost:4222.
	URL string

	// Stream is the JetStream stream name. Default: PROVENANCE.
	Stream string

	// Subject is the publish subject. Default: provenance.records.
	Subject string

	// MaxReconnects bounds reconnection attempts. Default: 5.
	MaxReconnects int
}

// applyDefaults sets default values for unset fields.
func (c *NATSConfig) applyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Stream == "" {
		c.Stream = "PROVENANCE"
	}
	if c.Subject == "" {
		c.Subject = "provenance.records"
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 5
	}
}

// NATSSink publishes provenance records to a JetStream stream. Publish
// waits for the stream's acknowledgment, so a nil error from Record
// means the record is persisted on the server.
type NATSSink struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
	logger  *zap.Logger
}

// NewNATSSink connects to NATS and ensures the provenance stream exists.
func NewNATSSink(cfg NATSConfig, logger *zap.Logger) (*NATSSink, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	// Idempotent: AddStream succeeds when the stream already exists with
	// the same configuration.
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.Subject},
		Storage:  nats.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensuring stream %s: %w", cfg.Stream, err)
	}

	logger.Info("audit sink connected",
		zap.String("url", cfg.URL),
		zap.String("stream", cfg.Stream),
		zap.String("subject", cfg.Subject))

	return &NATSSink{
		conn:    nc,
		js:      js,
		subject: cfg.Subject,
		logger:  logger,
	}, nil
}

// Record publishes the record and waits for the JetStream ack.
func (s *NATSSink) Record(ctx context.Context, rec *provenance.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling provenance record %s: %w", rec.SummaryID, err)
	}

	ack, err := s.js.Publish(s.subject, data, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publishing provenance record %s: %w", rec.SummaryID, err)
	}

	s.logger.Debug("provenance record persisted",
		zap.String("summary_id", rec.SummaryID),
		zap.Uint64("stream_seq", ack.Sequence))
	return nil
}

// Close drains and closes the NATS connection.
func (s *NATSSink) Close() error {
	s.conn.Close()
	return nil
}
