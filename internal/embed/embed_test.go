package embed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentjj/internal/config"
)

func TestNewProviderDefaultsToHash(t *testing.T) {
	t.Parallel()

	p, err := NewProvider(config.EmbeddingConfig{})
	require.NoError(t, err)
	defer p.Close()

	_, ok := p.(*HashProvider)
	assert.True(t, ok)
	assert.Equal(t, DefaultHashDimension, p.Dimension())
}

func TestNewProviderOpenAI(t *testing.T) {
	t.Parallel()

	// Construction is offline; only Embed* calls touch the endpoint.
	p, err := NewProvider(config.EmbeddingConfig{
		Provider: "openai",
		Model:    "text-embedding-3-small",
		BaseURL:  "http://localhost:8080/v1",
		APIKey:   config.Secret("test-key"),
	})
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 1536, p.Dimension())
}

func TestNewProviderRejectsUnknown(t *testing.T) {
	t.Parallel()

	_, err := NewProvider(config.EmbeddingConfig{Provider: "tei"})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDetectDimension(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  int
	}{
		{"BAAI/bge-small-en-v1.5", 384},
		{"BAAI/bge-base-en-v1.5", 768},
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"custom-base-model", 768},
		{"custom-large-model", 1024},
		{"something-else", 384},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, detectDimension(tt.model))
		})
	}
}
