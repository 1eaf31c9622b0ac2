// Package embeddings provides embedding generation via multiple providers.
//
// Supports FastEmbed (local ONNX, requires CGO) and TEI (external HTTP
// service) providers, plus a deterministic mock for tests. Embeddings are
// optional in memoryd: without a provider the retrieval executor falls back
// to lexical-only ranking.
package embeddings

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder generates embedding vectors for queries and documents.
type Embedder interface {
	// EmbedQuery embeds a single retrieval query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// EmbedDocuments embeds a batch of documents for indexing.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the vector dimension of the model.
	Dimension() int
	// Close releases provider resources.
	Close() error
}

// ProviderConfig selects and configures an embedding provider.
type ProviderConfig struct {
	// Provider is "fastembed", "tei", or "none".
	Provider string
	// Model is the embedding model name, e.g. "BAAI/bge-small-en-v1.5".
	Model string
	// CacheDir caches FastEmbed model files.
	CacheDir string
	// BaseURL is the TEI service endpoint.
	BaseURL string
}

// NewEmbedder creates an embedding provider from configuration. Provider
// "none" (or empty) returns nil; callers treat a nil Embedder as
// lexical-only mode.
func NewEmbedder(cfg ProviderConfig) (Embedder, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "fastembed":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case "tei":
		return NewTEIService(TEIConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
