// Package setup builds the embedder and vector index selected by config.
package setup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/WessleyAI/medknowledge/engine/boltindex"
	"github.com/WessleyAI/medknowledge/engine/domain"
	"github.com/WessleyAI/medknowledge/engine/embedding"
	"github.com/WessleyAI/medknowledge/engine/semantic"
	"github.com/WessleyAI/medknowledge/pkg/config"
	"github.com/WessleyAI/medknowledge/pkg/ollama"
	"github.com/WessleyAI/medknowledge/pkg/openaiembed"
	"github.com/WessleyAI/medknowledge/pkg/rediscache"
)

// Embedder returns the configured provider wrapped so every vector is unit
// length.
func Embedder(cfg config.EmbedderConfig) (embedding.Provider, error) {
	var p embedding.Provider
	switch cfg.Kind {
	case config.EmbedderOllama:
		p = ollama.NewEmbedClient(cfg.BaseURL, cfg.Model, cfg.Dims)
	case config.EmbedderOpenAI:
		oc, err := openaiembed.New(openaiembed.Config{
			APIKey:         cfg.APIKey,
			BaseURL:        openAIBaseURL(cfg),
			Model:          cfg.Model,
			Dims:           cfg.Dims,
			RequestsPerSec: cfg.RequestsPerSec,
		})
		if err != nil {
			return nil, err
		}
		p = oc
	case config.EmbedderHash:
		p = embedding.NewHashing(cfg.Dims)
	default:
		return nil, fmt.Errorf("setup: unknown embedder %q", cfg.Kind)
	}
	return embedding.Normalize(p), nil
}

// QueryCache puts the Redis embedding cache in front of p when one is
// configured. The returned func closes the connection and is never nil.
func QueryCache(ctx context.Context, p embedding.Provider, emb config.EmbedderConfig, cfg config.CacheConfig, log *slog.Logger) (embedding.Provider, func(), error) {
	if cfg.RedisAddr == "" {
		return p, func() {}, nil
	}
	c, err := rediscache.New(ctx, rediscache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.TTL,
	})
	if err != nil {
		return nil, nil, err
	}
	ns := emb.Kind + "/" + emb.Model
	return embedding.Cached(p, c, ns, log), func() { c.Close() }, nil
}

// openAIBaseURL ignores the Ollama default so a config that only switches
// the kind still talks to api.openai.com.
func openAIBaseURL(cfg config.EmbedderConfig) string {
	if cfg.BaseURL == config.Default().Embedder.BaseURL {
		return ""
	}
	return cfg.BaseURL
}

// WritableIndex opens the index for ingestion, creating the bolt file if
// needed. The collection itself may not exist yet.
func WritableIndex(cfg config.IndexConfig) (semantic.Index, error) {
	switch cfg.Backend {
	case config.BackendBolt:
		return boltindex.Open(cfg.BoltPath, cfg.Collection)
	case config.BackendQdrant:
		return semantic.New(cfg.QdrantAddr, cfg.Collection)
	default:
		return nil, fmt.Errorf("setup: unknown index backend %q", cfg.Backend)
	}
}

// ExistingIndex opens a populated index for serving. A missing file or
// collection yields domain.ErrIndexMissing.
func ExistingIndex(ctx context.Context, cfg config.IndexConfig) (semantic.Index, error) {
	var (
		idx semantic.Index
		err error
	)
	switch cfg.Backend {
	case config.BackendBolt:
		idx, err = boltindex.OpenExisting(cfg.BoltPath, cfg.Collection)
	case config.BackendQdrant:
		idx, err = semantic.New(cfg.QdrantAddr, cfg.Collection)
	default:
		return nil, fmt.Errorf("setup: unknown index backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	ok, err := idx.Exists(ctx)
	if err != nil {
		idx.Close()
		return nil, fmt.Errorf("setup: check collection: %w", err)
	}
	if !ok {
		idx.Close()
		return nil, fmt.Errorf("%w: collection %q", domain.ErrIndexMissing, cfg.Collection)
	}
	return idx, nil
}
