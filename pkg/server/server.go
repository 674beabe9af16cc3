// Package server provides the public entry point for initializing the
// DealDesk control plane server.
//
// This package exists in pkg/ (not internal/) so embedding deployments
// can compose the full server and wrap its handler.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dealdesk/dealdesk/internal/api"
	"github.com/dealdesk/dealdesk/internal/api/handlers"
	"github.com/dealdesk/dealdesk/internal/chat"
	"github.com/dealdesk/dealdesk/internal/config"
	"github.com/dealdesk/dealdesk/internal/embeddings"
	"github.com/dealdesk/dealdesk/internal/extract"
	"github.com/dealdesk/dealdesk/internal/generation"
	"github.com/dealdesk/dealdesk/internal/pipeline"
	"github.com/dealdesk/dealdesk/internal/rag"
	"github.com/dealdesk/dealdesk/internal/retention"
	"github.com/dealdesk/dealdesk/internal/store"
	"github.com/dealdesk/dealdesk/internal/telemetry"
	"github.com/dealdesk/dealdesk/internal/vectorstore"
	"github.com/dealdesk/dealdesk/pkg/contracts"
)

// Server holds the initialized DealDesk control plane.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the persistence backend (in-memory by default).
	Store store.Store

	// Config is the loaded configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all control plane components from the environment and
// returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the control plane with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	embedder, err := buildEmbeddings(cfg)
	if err != nil {
		return nil, err
	}

	index, err := buildIndex(ctx, cfg, embedder)
	if err != nil {
		return nil, err
	}

	generator, err := buildGeneration(cfg)
	if err != nil {
		return nil, err
	}

	chunker := rag.ChunkerConfig{
		ChunkSize:    cfg.Pipeline.ChunkSize,
		ChunkOverlap: cfg.Pipeline.ChunkOverlap,
		Separator:    "\n\n",
	}
	ingester := rag.NewIngester(embedder, index, chunker)
	retriever := rag.NewRetriever(embedder, index, cfg.Chat.TopK)

	retries := cfg.Pipeline.MaxGenerationRetries
	runner := pipeline.NewRunner(dataStore, extract.NewPlainText(), ingester, []pipeline.Agent{
		pipeline.NewAnalyzer(generator, index, retries),
		pipeline.NewSummarizer(generator, retries),
		pipeline.NewArchitect(generator, retries),
		pipeline.NewEngagement(generator, retries),
	})

	assembler := chat.NewAssembler(dataStore, retriever, cfg.Chat.ContextBudget)
	chatManager := chat.NewManager(dataStore, assembler, generator, cfg.Chat.HistoryWindow)

	h := handlers.New(dataStore, runner, chatManager)
	router := api.NewRouter(cfg, h)

	janitorShutdown := startJanitor(cfg, dataStore, index)
	telemetryShutdown := shutdown
	shutdown = func(ctx context.Context) error {
		janitorShutdown()
		return telemetryShutdown(ctx)
	}

	log.Info().
		Str("store", cfg.Store.Driver).
		Str("index", index.Kind()).
		Str("embeddings", embedder.Kind()).
		Str("generation", generator.Kind()).
		Msg("Control plane initialized")

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

// startJanitor launches the retention sweep when enabled and returns a
// stop func (a no-op when disabled).
func startJanitor(cfg *config.Config, dataStore store.Store, index contracts.VectorIndex) func() {
	if !cfg.Retention.Enabled {
		return func() {}
	}

	janitor := retention.NewJanitor(dataStore, index,
		time.Duration(cfg.Retention.IntervalMinutes)*time.Minute,
		cfg.Retention.DealDays, cfg.Retention.SessionDays)
	if cfg.Retention.ArchivePath != "" {
		janitor.SetArchiver(retention.NewLocalFileArchiver(cfg.Retention.ArchivePath, cfg.Retention.CompressArchives))
	}

	janitorCtx, stop := context.WithCancel(context.Background())
	go janitor.Start(janitorCtx)
	return stop
}

func buildStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "postgres":
		s, err := store.NewPostgresStore(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func buildEmbeddings(cfg *config.Config) (contracts.EmbeddingDriver, error) {
	switch cfg.Providers.EmbeddingDriver {
	case "", "openai":
		var opts []embeddings.OpenAIOption
		if cfg.Providers.OpenAIEndpoint != "" {
			opts = append(opts, embeddings.WithOpenAIEndpoint(cfg.Providers.OpenAIEndpoint+"/embeddings"))
		}
		return embeddings.NewOpenAIDriver(cfg.Providers.OpenAIAPIKey, cfg.Providers.EmbeddingModel, opts...), nil
	case "ollama":
		return embeddings.NewOllamaDriver(cfg.Providers.OllamaEndpoint, cfg.Providers.EmbeddingModel), nil
	default:
		return nil, fmt.Errorf("unknown embedding driver %q", cfg.Providers.EmbeddingDriver)
	}
}

func buildIndex(ctx context.Context, cfg *config.Config, embedder contracts.EmbeddingDriver) (contracts.VectorIndex, error) {
	// The chunk index follows the store driver: postgres deployments get
	// pgvector, everything else the embedded index.
	if cfg.Store.Driver == "postgres" {
		idx, err := vectorstore.NewPgvectorIndex(ctx, cfg.Store.DatabaseURL, embedder.Dimensions())
		if err != nil {
			return nil, fmt.Errorf("init pgvector index: %w", err)
		}
		return idx, nil
	}
	return vectorstore.NewEmbeddedIndex(), nil
}

func buildGeneration(cfg *config.Config) (contracts.GenerationDriver, error) {
	switch cfg.Providers.GenerationDriver {
	case "", "openai":
		var opts []generation.OpenAIOption
		if cfg.Providers.OpenAIEndpoint != "" {
			opts = append(opts, generation.WithOpenAIEndpoint(cfg.Providers.OpenAIEndpoint))
		}
		return generation.NewOpenAIDriver(cfg.Providers.OpenAIAPIKey, cfg.Providers.GenerationModel, opts...), nil
	default:
		return nil, fmt.Errorf("unknown generation driver %q", cfg.Providers.GenerationDriver)
	}
}
