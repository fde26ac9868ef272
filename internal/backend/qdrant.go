package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/provenanced/internal/chunkstore"
)

// Tracer for OpenTelemetry instrumentation.
var qdrantTracer = otel.Tracer("provenanced.backend.qdrant")

// VectorName is the canonical name of the vector-similarity backend.
const VectorName = "vector"

// QdrantConfig holds configuration for the Qdrant gRPC adapter.
type QdrantConfig struct {
	// Name overrides the backend name. Default: "vector".
	Name string

	// Host is the Qdrant server hostname. Default: "localhost".
	Host string

	// Port is the Qdrant gRPC port (6334), not the HTTP REST port.
	Port int

	// Collection is the collection holding chunk vectors.
	Collection string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: qdrant host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid qdrant port: %d", ErrInvalidConfig, c.Port)
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: qdrant collection required", ErrInvalidConfig)
	}
	return nil
}

// Qdrant is a vector-similarity Backend over Qdrant's native gRPC client.
//
// Chunk payloads are written by the ingestion pipeline; this adapter only
// queries. Raw scores are cosine similarities on the collection's
// configured metric.
type Qdrant struct {
	name     string
	client   *qdrant.Client
	embedder Embedder
	config   QdrantConfig
}

// NewQdrant creates a Qdrant vector backend.
func NewQdrant(cfg QdrantConfig, embedder Embedder) (*Qdrant, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder required for vector backend", ErrInvalidConfig)
	}

	name := cfg.Name
	if name == "" {
		name = VectorName
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	q := &Qdrant{
		name:     name,
		client:   client,
		embedder: embedder,
		config:   cfg,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrBackendUnavailable, err)
	}

	return q, nil
}

// Name returns the backend name.
func (q *Qdrant) Name() string { return q.name }

// Search embeds the query and runs a similarity query with filters pushed
// down as payload match conditions.
func (q *Qdrant) Search(ctx context.Context, queryText string, filters Filters, topK int) ([]Candidate, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", q.config.Collection),
		attribute.Int("top_k", topK),
	)

	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidConfig, topK)
	}

	vector, err := q.embedder.EmbedQuery(ctx, queryText)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classifyGRPCErr(ctx, fmt.Errorf("embedding query: %w", err))
	}

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.config.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         buildQdrantFilter(filters),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classifyGRPCErr(ctx, err)
	}

	candidates := make([]Candidate, 0, len(points))
	for _, point := range points {
		candidates = append(candidates, Candidate{
			Chunk:    chunkFromPayload(point.Payload),
			Backend:  q.name,
			RawScore: float64(point.Score),
		})
	}

	span.SetAttributes(attribute.Int("results", len(candidates)))
	span.SetStatus(codes.Ok, "success")
	return candidates, nil
}

// Close closes the gRPC connection.
func (q *Qdrant) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}

// buildQdrantFilter converts Filters to Qdrant payload match conditions.
func buildQdrantFilter(filters Filters) *qdrant.Filter {
	if filters.Empty() {
		return nil
	}

	var must []*qdrant.Condition
	if filters.DocumentType != "" {
		must = append(must, keywordCondition("document_type", filters.DocumentType))
	}
	if filters.StudyID != "" {
		must = append(must, keywordCondition("study_id", filters.StudyID))
	}
	if len(filters.SectionCodes) > 0 {
		should := make([]*qdrant.Condition, 0, len(filters.SectionCodes))
		for _, code := range filters.SectionCodes {
			should = append(should, keywordCondition("section", code))
		}
		must = append(must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Filter{Filter: &qdrant.Filter{Should: should}},
		})
	}
	return &qdrant.Filter{Must: must}
}

// keywordCondition builds an exact-match payload condition.
func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

// chunkFromPayload reconstructs a chunk from a Qdrant point payload.
func chunkFromPayload(payload map[string]*qdrant.Value) chunkstore.Chunk {
	c := chunkstore.Chunk{Meta: map[string]string{}}
	for key, v := range payload {
		switch val := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			switch key {
			case "chunk_id":
				c.ID = val.StringValue
			case "document_id":
				c.DocumentID = val.StringValue
			case "section":
				c.Section = val.StringValue
			case "content":
				c.Text = val.StringValue
			default:
				c.Meta[key] = val.StringValue
			}
		case *qdrant.Value_IntegerValue:
			switch key {
			case "page":
				c.Page = int(val.IntegerValue)
			case "ordinal":
				c.Ordinal = int(val.IntegerValue)
			}
		}
	}
	return c
}

// classifyGRPCErr maps gRPC and context errors to the backend taxonomy.
// DeadlineExceeded becomes ErrBackendTimeout; Unavailable and resource
// exhaustion become ErrBackendUnavailable; caller cancellation passes
// through unchanged.
func classifyGRPCErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case grpccodes.DeadlineExceeded:
			return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
		case grpccodes.Unavailable, grpccodes.Aborted, grpccodes.ResourceExhausted:
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		case grpccodes.Canceled:
			return context.Canceled
		}
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}
