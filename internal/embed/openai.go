package embed

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIConfig configures the OpenAI-compatible provider. It works
// against the OpenAI API and against local TEI servers that speak the
// same protocol.
type OpenAIConfig struct {
	// Model is the embedding model, e.g. text-embedding-3-small.
	Model string

	// BaseURL overrides the endpoint. Empty means api.openai.com.
	BaseURL string

	// APIKey authenticates the endpoint. TEI servers ignore it but
	// the client requires a non-empty token.
	APIKey string
}

// OpenAIProvider generates embeddings over HTTP via langchaingo.
type OpenAIProvider struct {
	embedder  *embeddings.EmbedderImpl
	modelName string
	dimension int
}

// NewOpenAIProvider builds the langchaingo client and embedder.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// The client refuses an empty token even when the endpoint
		// does not check it.
		apiKey = "unused"
	}

	opts := []openai.Option{
		openai.WithModel(model),
		openai.WithToken(apiKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &OpenAIProvider{
		embedder:  embedder,
		modelName: model,
		dimension: detectDimension(model),
	}, nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vector, nil
}

// Dimension returns the dimension detected from the model name.
func (p *OpenAIProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op; the provider is a plain HTTP client.
func (p *OpenAIProvider) Close() error {
	return nil
}
