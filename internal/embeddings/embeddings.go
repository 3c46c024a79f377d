// Package embeddings provides text embedding services for the vector index.
package embeddings

import (
	"context"
	"fmt"

	"github.com/nickcecere/vaultidx/internal/config"
)

// Provider represents an embedding provider type.
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
	ProviderNone   Provider = "none"
)

// Service defines the interface for embedding services.
type Service interface {
	// Embed generates an embedding for the given text (for documents).
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedQuery generates an embedding for a query (may use different task prefix).
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimensions for this model.
	Dimensions() int

	// Provider returns the provider name.
	Provider() Provider

	// ModelName returns the model name.
	ModelName() string
}

// Known model dimensions
var modelDimensions = map[string]int{
	// Ollama models
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,

	// OpenAI models
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// GetModelDimensions returns the known dimensions for a model, or 0 if unknown.
func GetModelDimensions(model string) int {
	return modelDimensions[normalizeModel(model)]
}

// NewService creates an embedding service based on the configuration.
// A provider that cannot be used at all yields an error matching ErrUnavailable.
func NewService(cfg *config.Config) (Service, error) {
	switch Provider(cfg.Embeddings.Provider) {
	case ProviderOllama:
		return NewOllamaService(
			cfg.Embeddings.Ollama.URL,
			cfg.Embeddings.Ollama.Model,
		)
	case ProviderOpenAI:
		return NewOpenAIService(
			cfg.Embeddings.OpenAI.APIKey,
			cfg.Embeddings.OpenAI.Model,
			cfg.Embeddings.OpenAI.BaseURL,
			cfg.Embeddings.OpenAI.Dimensions,
		)
	case ProviderNone, "":
		return nil, fmt.Errorf("%w: embeddings are disabled", ErrUnavailable)
	default:
		return nil, fmt.Errorf("%w: unsupported embedding provider %q", ErrUnavailable, cfg.Embeddings.Provider)
	}
}

// NewGatedService builds the configured provider wrapped in the rate-limited
// gate and the query cache, which is the stack the indexer runs against.
func NewGatedService(cfg *config.Config) (Service, error) {
	svc, err := NewService(cfg)
	if err != nil {
		return nil, err
	}
	gated := NewGate(svc, GateOptions{
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
		Burst:             cfg.Embeddings.Burst,
	})
	return NewQueryCache(gated, cfg.Embeddings.QueryCacheSize, cfg.Embeddings.QueryCacheTTL), nil
}
