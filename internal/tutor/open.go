package tutor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bull/course-tutor/internal/config"
	"github.com/bull/course-tutor/internal/embedding"
	"github.com/bull/course-tutor/internal/github"
	"github.com/bull/course-tutor/internal/llm"
	"github.com/bull/course-tutor/internal/retry"
	"github.com/bull/course-tutor/internal/storage"
)

// Open builds a service and its gateways and index from cfg.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	policy := Policy(cfg.Gateway)

	embedder, err := NewEmbedder(cfg, policy, logger)
	if err != nil {
		return nil, err
	}
	gateway, err := llm.New(cfg.LLM, cfg.Azure, policy, logger)
	if err != nil {
		return nil, err
	}
	index, err := OpenIndex(ctx, cfg.Index, embedder.Dimension(), logger)
	if err != nil {
		return nil, err
	}

	svc, err := New(cfg, Deps{Index: index, Embedder: embedder, LLM: gateway}, logger)
	if err != nil {
		index.Close()
		return nil, err
	}
	return svc, nil
}

// Policy converts gateway settings into a retry policy.
func Policy(g config.GatewayConfig) retry.Policy {
	p := retry.DefaultPolicy()
	if g.MaxAttempts > 0 {
		p.MaxAttempts = g.MaxAttempts
	}
	p.AttemptTimeout = g.AttemptTimeout
	if g.InitialBackoff > 0 {
		p.InitialInterval = g.InitialBackoff
	}
	if g.MaxBackoff > 0 {
		p.MaxInterval = g.MaxBackoff
	}
	return p
}

// NewEmbedder builds the embedding gateway for cfg.Embedding.Provider.
func NewEmbedder(cfg config.Config, policy retry.Policy, logger *slog.Logger) (embedding.Gateway, error) {
	switch cfg.Embedding.Provider {
	case config.ProviderHash:
		return embedding.NewHashEmbedder(cfg.Embedding.Dimension), nil
	case config.ProviderOpenAI, config.ProviderAzure:
		client, err := embedding.NewClient(cfg.Embedding.Provider, cfg.Embedding.APIKey, cfg.Embedding.BaseURL, cfg.Azure)
		if err != nil {
			return nil, err
		}
		return embedding.NewEmbedder(client, cfg.Embedding, policy, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", config.ErrConfig, cfg.Embedding.Provider)
	}
}

// OpenIndex opens the configured vector index backend.
func OpenIndex(ctx context.Context, cfg config.IndexConfig, dimension int, logger *slog.Logger) (storage.Index, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemory(dimension), nil
	case config.BackendSQLite:
		return storage.NewSQLite(ctx, cfg.Path, dimension, logger)
	case config.BackendPGVector:
		return storage.NewPGVector(ctx, cfg.PostgresDSN, dimension, logger)
	case config.BackendQdrant:
		store, err := storage.NewQdrantStorage(cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantCollection, dimension, logger)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureCollection(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown index backend %q", config.ErrConfig, cfg.Backend)
	}
}

// NewGitHubFetcher builds a fetcher for the configured course repository.
func NewGitHubFetcher(cfg config.GitHubConfig) (*github.Fetcher, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("%w: github owner and repo are required", config.ErrConfig)
	}
	client, err := github.NewClient(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating GitHub client: %w", err)
	}
	return github.NewFetcher(client, cfg.Owner, cfg.Repo, cfg.Path, cfg.Ref), nil
}
