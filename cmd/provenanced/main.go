// Provenanced is a search and summarization provenance engine.
//
// It serves fused multi-backend retrieval over a chunked document corpus
// and grounded AI summarization with validated citations, persisting an
// auditable provenance record for every summary it returns.
//
// Usage:
//
//	# Start server with defaults
//	provenanced
//
//	# Load configuration from file
//	provenanced -config /etc/provenanced/config.yaml
//
//	# Configure via environment
//	PROVENANCED_SERVER_PORT=8081 provenanced
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/provenanced/internal/audit"
	"github.com/fyrsmithlabs/provenanced/internal/backend"
	"github.com/fyrsmithlabs/provenanced/internal/chunkstore"
	"github.com/fyrsmithlabs/provenanced/internal/citation"
	"github.com/fyrsmithlabs/provenanced/internal/config"
	"github.com/fyrsmithlabs/provenanced/internal/embed"
	"github.com/fyrsmithlabs/provenanced/internal/engine"
	"github.com/fyrsmithlabs/provenanced/internal/fusion"
	"github.com/fyrsmithlabs/provenanced/internal/httpapi"
	"github.com/fyrsmithlabs/provenanced/internal/logging"
	"github.com/fyrsmithlabs/provenanced/internal/summarize"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  provenanced           Start the provenanced server\n")
			fmt.Fprintf(os.Stderr, "  provenanced version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("provenanced by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the provenanced server and blocks until the context is
// cancelled.
//
// Initialization order:
//  1. Configuration and logger
//  2. Chunk corpus
//  3. Embedding service and search backends
//  4. Fusion, citation validator, summarization orchestrator
//  5. Audit sink (NATS JetStream or in-memory)
//  6. Engine, HTTP API, and metrics listener
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Fields: map[string]string{"service": "provenanced"},
	})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("starting provenanced",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("search_mode", cfg.Search.Mode),
		zap.String("vector_provider", cfg.Search.VectorProvider))

	deps, err := initDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close()

	eng, err := initEngine(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("initializing engine: %w", err)
	}

	srv, err := httpapi.NewServer(eng, logger, httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler: promhttp.HandlerFor(deps.registry, promhttp.HandlerOpts{}),
	}

	errCh := make(chan error, 2)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		logger.Info("starting metrics server", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown error", zap.Error(err))
	}
	return nil
}

// dependencies holds the engine's infrastructure collaborators.
type dependencies struct {
	store    *chunkstore.MemoryStore
	backends map[string]backend.Backend
	sink     audit.Sink
	registry *prometheus.Registry
	logger   *zap.Logger
}

// Close releases infrastructure resources.
func (d *dependencies) Close() {
	if d.sink != nil {
		_ = d.sink.Close()
	}
	for _, b := range d.backends {
		if c, ok := b.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
}

// initDependencies loads the corpus and builds backends and the audit
// sink.
func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	store := chunkstore.NewMemoryStore()
	if cfg.Corpus.Path != "" {
		start := time.Now()
		n, err := store.LoadJSONL(cfg.Corpus.Path)
		if err != nil {
			return nil, fmt.Errorf("loading corpus from %s: %w", cfg.Corpus.Path, err)
		}
		logger.Info("corpus loaded",
			zap.String("path", cfg.Corpus.Path),
			zap.Int("chunks", n),
			zap.Duration("elapsed", time.Since(start)))
	} else {
		logger.Warn("no corpus configured, starting with an empty store")
	}

	var embedder backend.Embedder
	if cfg.Search.VectorProvider != "" {
		svc, err := embed.NewService(embed.Config{
			BaseURL: cfg.Embeddings.BaseURL,
			Model:   cfg.Embeddings.Model,
			APIKey:  cfg.Embeddings.APIKey.Value(),
		})
		if err != nil {
			return nil, fmt.Errorf("creating embedding service: %w", err)
		}
		embedder = svc
	}

	backends, err := backend.New(backend.FactoryConfig{
		KeywordEnabled: cfg.Search.KeywordEnabled,
		VectorProvider: cfg.Search.VectorProvider,
		Qdrant: backend.QdrantConfig{
			Host:       cfg.Search.Qdrant.Host,
			Port:       cfg.Search.Qdrant.Port,
			Collection: cfg.Search.Qdrant.Collection,
			UseTLS:     cfg.Search.Qdrant.UseTLS,
		},
		Chromem: backend.ChromemConfig{
			Path:       cfg.Search.Chromem.Path,
			Collection: cfg.Search.Chromem.Collection,
			Compress:   cfg.Search.Chromem.Compress,
		},
	}, embedder, store.All(), logger)
	if err != nil {
		return nil, fmt.Errorf("creating search backends: %w", err)
	}

	var sink audit.Sink
	if cfg.Audit.NATSURL != "" {
		sink, err = audit.NewNATSSink(audit.NATSConfig{
			URL:     cfg.Audit.NATSURL,
			Stream:  cfg.Audit.Stream,
			Subject: cfg.Audit.Subject,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating audit sink: %w", err)
		}
	} else {
		logger.Warn("no NATS audit sink configured, provenance records stay in memory")
		sink = audit.NewMemorySink()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &dependencies{
		store:    store,
		backends: backends,
		sink:     sink,
		registry: registry,
		logger:   logger,
	}, nil
}

// initEngine wires fusion, citation validation, and summarization into
// the engine.
func initEngine(cfg *config.Config, deps *dependencies, logger *zap.Logger) (*engine.Engine, error) {
	fusionEngine, err := fusion.NewEngine(fusion.Config{Weights: cfg.Search.Weights})
	if err != nil {
		return nil, fmt.Errorf("creating fusion engine: %w", err)
	}

	validator, err := citation.NewValidator(citation.Config{
		LowThreshold:   cfg.Citation.LowThreshold,
		HighThreshold:  cfg.Citation.HighThreshold,
		MaxConcurrency: cfg.Citation.MaxConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("creating citation validator: %w", err)
	}

	var orch *summarize.Orchestrator
	if cfg.Summarize.Primary.Configured() {
		primary, err := summarize.NewProvider(providerConfig(cfg.Summarize.Primary, "primary"))
		if err != nil {
			return nil, fmt.Errorf("creating primary provider: %w", err)
		}

		var fallback summarize.Provider
		if cfg.Summarize.Fallback.Configured() {
			fb, err := summarize.NewProvider(providerConfig(cfg.Summarize.Fallback, "fallback"))
			if err != nil {
				return nil, fmt.Errorf("creating fallback provider: %w", err)
			}
			fallback = fb
		}

		orch, err = summarize.NewOrchestrator(summarize.Config{
			MaxRetries:    cfg.Summarize.MaxRetries,
			RetryBackoff:  cfg.Summarize.RetryBackoff.Duration(),
			MaxConcurrent: cfg.Summarize.MaxConcurrent,
			RatePerSecond: cfg.Summarize.RatePerSecond,
			RateBurst:     cfg.Summarize.RateBurst,
		}, primary, fallback, logger)
		if err != nil {
			return nil, fmt.Errorf("creating orchestrator: %w", err)
		}
	} else {
		logger.Warn("no summarization provider configured, summarize endpoint disabled")
	}

	return engine.New(engine.Config{
		Mode:           cfg.Search.Mode,
		TopK:           cfg.Search.TopK,
		BackendTimeout: cfg.Search.BackendTimeout.Duration(),
		GroundingLimit: cfg.Search.GroundingLimit,
	}, engine.Deps{
		Backends:     deps.backends,
		Fusion:       fusionEngine,
		Validator:    validator,
		Orchestrator: orch,
		Store:        deps.store,
		Audit:        deps.sink,
		Logger:       logger,
		Metrics:      engine.NewMetrics(deps.registry),
	})
}

// providerConfig converts a config provider block.
func providerConfig(p config.ProviderConfig, defaultName string) summarize.ProviderConfig {
	name := p.Name
	if name == "" {
		name = defaultName
	}
	return summarize.ProviderConfig{
		Name:        name,
		Type:        p.Type,
		BaseURL:     p.BaseURL,
		Model:       p.Model,
		APIKey:      p.APIKey.Value(),
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		Timeout:     p.Timeout.Duration(),
	}
}
