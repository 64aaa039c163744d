// Package app wires configuration into the running components shared by the
// API server and the CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/zettel-agent/backend/internal/api"
	"github.com/zettel-agent/backend/internal/cache"
	"github.com/zettel-agent/backend/internal/cache/redis"
	"github.com/zettel-agent/backend/internal/ingestion"
	"github.com/zettel-agent/backend/internal/kg/neo4j"
	"github.com/zettel-agent/backend/internal/linking"
	"github.com/zettel-agent/backend/internal/llm"
	"github.com/zettel-agent/backend/internal/query"
	"github.com/zettel-agent/backend/internal/responder"
	"github.com/zettel-agent/backend/internal/similarity"
	"github.com/zettel-agent/backend/internal/storage"
	"github.com/zettel-agent/backend/internal/storage/memory"
	"github.com/zettel-agent/backend/internal/storage/sqlite"
	"github.com/zettel-agent/backend/pkg/config"
	"github.com/zettel-agent/backend/pkg/logger"
)

const intentCacheTTL = time.Hour

type App struct {
	Config    *config.Config
	Store     storage.NoteStore
	Notes     *linking.Engine
	Processor *ingestion.Processor
	Resolver  *query.Resolver
	Sessions  *responder.Sessions
	// History is set only when the store keeps query history.
	History *sqlite.Client

	ping    func(ctx context.Context) error
	closers []func() error
}

// New builds every component for cfg. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	if err := a.openStore(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	client := llm.NewClient(cfg.LLM)

	var embedder similarity.Embedder = client
	parser := query.NewLLMParser(client)

	if cfg.Redis.Enabled {
		rdb, err := redis.NewClient(cfg.Redis)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)

		ttl := time.Duration(cfg.Redis.EmbeddingTTL) * time.Second
		embedder = cache.NewCachedEmbedder(client, rdb, cfg.LLM.EmbeddingModel, ttl)
		parser.WithCache(rdb, intentCacheTTL)
	}

	a.Notes = linking.NewEngine(a.Store, similarity.NewEngine(embedder), cfg.Novelty)
	a.Processor = ingestion.NewProcessor(
		ingestion.DefaultRegistry(nil),
		llm.NewSummarizer(client),
		a.Notes,
		cfg.Novelty.IngestConcurrency,
	)
	a.Resolver = query.NewResolver(parser, a.Notes, cfg.Novelty)
	if a.History != nil {
		a.Resolver.WithHistory(a.History)
	}
	a.Sessions = responder.NewSessions(a.Notes, client)

	logger.Info("Application initialized",
		zap.String("store", cfg.Store.Backend),
		zap.String("model", cfg.LLM.Model),
		zap.Bool("redis", cfg.Redis.Enabled),
	)

	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.Store.Backend {
	case config.BackendMemory:
		a.Store = memory.NewStore()
		a.ping = func(context.Context) error { return nil }

	case config.BackendSQLite:
		db, err := sqlite.NewClient(a.Config.SQLite.Path)
		if err != nil {
			return fmt.Errorf("failed to open sqlite store: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := db.InitSchema(); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		a.Store, a.History, a.ping = db, db, db.Ping

	case config.BackendNeo4j:
		graph, err := neo4j.NewClient(a.Config.Neo4j)
		if err != nil {
			return fmt.Errorf("failed to connect to neo4j: %w", err)
		}
		a.closers = append(a.closers, func() error { return graph.Close(context.Background()) })
		if err := graph.Setup(ctx); err != nil {
			return fmt.Errorf("failed to set up graph schema: %w", err)
		}
		a.Store, a.ping = graph, graph.Ping

	default:
		return fmt.Errorf("unknown store backend %q", a.Config.Store.Backend)
	}
	return nil
}

// Ready reports whether the note store is reachable.
func (a *App) Ready(ctx context.Context) error {
	return a.ping(ctx)
}

// Server builds the HTTP front end over the application's components.
func (a *App) Server() *api.Server {
	svc := api.Services{
		Notes:     a.Notes,
		Processor: a.Processor,
		Resolver:  a.Resolver,
		Sessions:  a.Sessions,
		Novelty:   a.Config.Novelty,
		Ready:     a.Ready,
	}
	if a.History != nil {
		svc.History = a.History
	}
	return api.NewServer(a.Config.Server, svc)
}

func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}
