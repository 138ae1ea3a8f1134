package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/agentjj/internal/config"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates an unusable provider configuration.
	ErrInvalidConfig = errors.New("invalid embedding configuration")

	// ErrEmbeddingFailed wraps provider-level generation failures.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder generates vectors for documents and queries.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider is an Embedder with a known dimension and a lifecycle.
type Provider interface {
	Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// NewProvider selects a provider from configuration.
//
// "hash" (and empty) needs nothing external and is fully deterministic.
// "fastembed" runs local ONNX models and requires a CGO build.
// "openai" talks to any OpenAI-compatible endpoint, including local TEI
// servers.
func NewProvider(cfg config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case "hash", "":
		return NewHashProvider(0), nil
	case "fastembed":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey.Value(),
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// detectDimension returns the embedding dimension for a model name,
// falling back to 384 for small models when the name is unknown.
func detectDimension(model string) int {
	if dim, ok := knownModelDimension(model); ok {
		return dim
	}
	switch {
	case strings.Contains(model, "3-large"):
		return 3072
	case strings.Contains(model, "3-small"), strings.Contains(model, "ada"):
		return 1536
	case strings.Contains(model, "base"):
		return 768
	case strings.Contains(model, "large"):
		return 1024
	default:
		return 384
	}
}

// knownModelDimension covers the models named in the configuration
// reference. Model families not listed fall through to the pattern
// rules in detectDimension.
func knownModelDimension(model string) (int, bool) {
	dims := map[string]int{
		"BAAI/bge-small-en-v1.5":                 384,
		"BAAI/bge-base-en-v1.5":                  768,
		"sentence-transformers/all-MiniLM-L6-v2": 384,
		"text-embedding-3-small":                 1536,
		"text-embedding-3-large":                 3072,
		"text-embedding-ada-002":                 1536,
	}
	dim, ok := dims[model]
	return dim, ok
}
