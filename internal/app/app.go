// Package app wires configuration into a ready coaching service. The server
// and the operator CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/rallycoach/internal/api"
	"github.com/ashureev/rallycoach/internal/coach"
	"github.com/ashureev/rallycoach/internal/completion"
	"github.com/ashureev/rallycoach/internal/config"
	"github.com/ashureev/rallycoach/internal/continuity"
	"github.com/ashureev/rallycoach/internal/retrieval"
	"github.com/ashureev/rallycoach/internal/store"
	"github.com/ashureev/rallycoach/internal/summary"
	"github.com/redis/go-redis/v9"
)

// App holds the long-lived dependencies of a running controller.
type App struct {
	Config  *config.Config
	Repo    store.Repository
	Service *coach.Service
	// Checks are optional upstream probes for the health endpoint.
	Checks map[string]api.Checker

	closers []func() error
}

// Build connects every backend selected by cfg. On error, anything already
// opened is closed.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Checks: make(map[string]api.Checker)}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Repo, err = OpenRepository(cfg.Store)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Repo.Close)
	if err := a.Repo.Ping(ctx); err != nil {
		return nil, fmt.Errorf("record store health check: %w", err)
	}
	logger.Info("Record store connected", "backend", cfg.Store.Backend)

	retriever, err := newRetriever(cfg.Retrieval, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Retrieval configured", "backend", cfg.Retrieval.Backend, "top_k", cfg.Retrieval.TopK)

	gen, err := a.newGenerator(cfg.Completion, logger)
	if err != nil {
		return nil, err
	}
	completer := completion.NewClient(gen, completion.Options{
		MaxRetries: cfg.Completion.MaxRetries,
		BaseDelay:  cfg.Completion.BaseDelay,
		Logger:     logger,
	})
	logger.Info("Completion configured", "backend", cfg.Completion.Backend, "model", cfg.Completion.Model)

	history, err := a.newGreetingHistory(ctx, cfg.Greetings)
	if err != nil {
		return nil, err
	}

	convLog, err := coach.NewConversationLogger(coach.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("conversation logger: %w", err)
	}
	a.closers = append(a.closers, convLog.Close)

	a.Service = coach.NewService(coach.Deps{
		Repo:       a.Repo,
		Retriever:  retriever,
		Completer:  completer,
		Continuity: continuity.NewManager(continuity.Options{History: history, Logger: logger}),
		Summarizer: summary.New(completer, logger),
		ConvLog:    convLog,
		Logger:     logger,
	}, coach.Config{
		TopK:      cfg.Retrieval.TopK,
		MaxTokens: cfg.Completion.MaxTokens,
	})
	return a, nil
}

// Close ends active sessions and releases every backend, newest first.
func (a *App) Close() error {
	if a.Service != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		a.Service.Shutdown(ctx)
		cancel()
		a.Service = nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenRepository opens the configured record store.
func OpenRepository(cfg config.StoreConfig) (store.Repository, error) {
	switch cfg.Backend {
	case "rest":
		repo, err := store.NewREST(store.RESTConfig{BaseURL: cfg.RESTURL, APIKey: cfg.RESTKey, Timeout: cfg.Timeout})
		if err != nil {
			return nil, fmt.Errorf("rest record store: %w", err)
		}
		return repo, nil
	default:
		repo, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("sqlite record store: %w", err)
		}
		return repo, nil
	}
}

func newRetriever(cfg config.RetrievalConfig, logger *slog.Logger) (*retrieval.Client, error) {
	embedder, err := retrieval.NewOpenAIEmbedder(cfg.EmbeddingAPIKey, cfg.EmbeddingBaseURL, cfg.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	var index retrieval.Index
	switch cfg.Backend {
	case "weaviate":
		index, err = retrieval.NewWeaviateIndex(cfg.WeaviateURL, cfg.WeaviateAPIKey, cfg.WeaviateClass)
	default:
		index, err = retrieval.NewPineconeIndex(retrieval.PineconeConfig{
			APIKey:    cfg.PineconeAPIKey,
			Host:      cfg.PineconeHost,
			Namespace: cfg.PineconeNS,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("vector index: %w", err)
	}
	return retrieval.NewClient(embedder, index, logger), nil
}

func (a *App) newGenerator(cfg config.CompletionConfig, logger *slog.Logger) (completion.Generator, error) {
	if cfg.Backend == "grpc" {
		gen, err := completion.NewGRPCGenerator(completion.DefaultGRPCConfig(cfg.GRPCAddress), logger)
		if err != nil {
			return nil, fmt.Errorf("completion gateway: %w", err)
		}
		a.closers = append(a.closers, func() error { gen.Close(); return nil })
		a.Checks["completion"] = gen.Health
		return gen, nil
	}
	gen, err := completion.NewOpenAIGenerator(cfg.APIKey, cfg.BaseURL, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}
	return gen, nil
}

func (a *App) newGreetingHistory(ctx context.Context, cfg config.GreetingConfig) (continuity.History, error) {
	if cfg.Backend != "redis" {
		return continuity.NewMemoryHistory(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	a.closers = append(a.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis greeting history at %s: %w", cfg.RedisAddr, err)
	}
	a.Checks["greeting_history"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	return continuity.NewRedisHistory(client), nil
}
