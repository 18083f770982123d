package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docchat/docchat/internal/config"
	"github.com/docchat/docchat/internal/embeddings"
	"github.com/docchat/docchat/internal/engine"
	"github.com/docchat/docchat/internal/llm"
	"github.com/docchat/docchat/internal/store"
)

// buildEngine assembles the full stack from configuration: store,
// embedder with cache, provider registry, and the engine on top. The
// returned cleanup closes the store and drains background ingestions.
func buildEngine(cfg *config.Config) (*engine.Engine, func(), error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating data directory: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "docchat.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	registry := llm.NewRegistry(defaultProviderConfig(cfg), llm.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     time.Duration(cfg.Retry.BackoffMS) * time.Millisecond,
	}, cfg.ProviderRPM)

	eng, err := engine.New(cfg, engine.Options{
		Store:    st,
		Embedder: embedder,
		Registry: registry,
		IndexDir: filepath.Join(cfg.DataDir, "indexes"),
	})
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("creating engine: %w", err)
	}

	cleanup := func() {
		eng.Close()
		st.Close()
	}
	return eng, cleanup, nil
}

// buildEmbedder creates the configured embedder wrapped in a cache:
// Redis-backed when an address is configured, in-process otherwise.
func buildEmbedder(cfg *config.Config) (embeddings.Embedder, error) {
	inner, err := embeddings.NewEmbedder(cfg.EmbeddingProvider, cfg.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	var cache embeddings.Cache
	if cfg.RedisAddr != "" {
		cache = embeddings.NewRedisCache(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	} else {
		cache = embeddings.NewMemoryCache()
	}

	return embeddings.NewCachingEmbedder(inner, cache, embeddings.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     time.Duration(cfg.Retry.BackoffMS) * time.Millisecond,
	}), nil
}

// defaultProviderConfig is the process-wide generation fallback, keyed
// from the environment.
func defaultProviderConfig(cfg *config.Config) llm.ProviderConfig {
	return llm.ProviderConfig{
		Provider: string(cfg.Provider),
		APIKey:   os.Getenv(config.APIKeyEnvVar(cfg.Provider)),
		Model:    cfg.Model,
	}
}
