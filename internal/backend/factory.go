package backend

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/provenanced/internal/chunkstore"
)

// Vector backend providers selectable via configuration.
const (
	ProviderQdrant  = "qdrant"
	ProviderChromem = "chromem"
)

// FactoryConfig selects and configures the concrete backends. Provider
// selection happens here, at construction time; nothing downstream
// inspects adapter types at runtime.
type FactoryConfig struct {
	// KeywordEnabled enables the bleve keyword backend.
	KeywordEnabled bool

	// Keyword configures the keyword backend.
	Keyword KeywordConfig

	// VectorProvider selects the vector backend implementation:
	// "chromem" (embedded, default) or "qdrant" (external gRPC).
	// Empty disables vector search.
	VectorProvider string

	// Qdrant configures the external vector backend.
	Qdrant QdrantConfig

	// Chromem configures the embedded vector backend.
	Chromem ChromemConfig
}

// New constructs the configured backends keyed by name.
//
// The chunks slice seeds the embedded backends (keyword index, chromem
// collection); the external Qdrant adapter assumes ingestion has already
// populated its collection. At least one backend must be enabled.
func New(cfg FactoryConfig, embedder Embedder, chunks []chunkstore.Chunk, logger *zap.Logger) (map[string]Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	backends := make(map[string]Backend)

	if cfg.KeywordEnabled {
		kw, err := NewKeyword(cfg.Keyword, chunks, logger)
		if err != nil {
			return nil, fmt.Errorf("creating keyword backend: %w", err)
		}
		backends[kw.Name()] = kw
	}

	switch cfg.VectorProvider {
	case "":
		// Vector search disabled.
	case ProviderChromem:
		vec, err := NewChromem(cfg.Chromem, embedder, chunks, logger)
		if err != nil {
			return nil, fmt.Errorf("creating embedded vector backend: %w", err)
		}
		backends[vec.Name()] = vec
	case ProviderQdrant:
		vec, err := NewQdrant(cfg.Qdrant, embedder)
		if err != nil {
			return nil, fmt.Errorf("creating qdrant vector backend: %w", err)
		}
		backends[vec.Name()] = vec
	default:
		return nil, fmt.Errorf("%w: unknown vector provider %q", ErrInvalidConfig, cfg.VectorProvider)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("%w: no backends enabled", ErrInvalidConfig)
	}
	return backends, nil
}
