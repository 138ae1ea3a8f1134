//go:build !cgo

package embed

import (
	"context"
	"errors"
)

// ErrFastEmbedUnavailable is returned when the binary was built without
// CGO. Local ONNX inference needs the onnxruntime C library.
var ErrFastEmbedUnavailable = errors.New("fastembed: not available (built without CGO; use the hash or openai provider)")

// FastEmbedConfig configures the local ONNX provider.
type FastEmbedConfig struct {
	Model     string
	CacheDir  string
	MaxLength int
}

// FastEmbedProvider is a stub on non-CGO builds.
type FastEmbedProvider struct{}

// NewFastEmbedProvider always fails without CGO.
func NewFastEmbedProvider(_ FastEmbedConfig) (*FastEmbedProvider, error) {
	return nil, ErrFastEmbedUnavailable
}

// EmbedDocuments always fails without CGO.
func (p *FastEmbedProvider) EmbedDocuments(_ context.Context, _ []string) ([][]float32, error) {
	return nil, ErrFastEmbedUnavailable
}

// EmbedQuery always fails without CGO.
func (p *FastEmbedProvider) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrFastEmbedUnavailable
}

// Dimension returns 0 without CGO.
func (p *FastEmbedProvider) Dimension() int {
	return 0
}

// Close is a no-op without CGO.
func (p *FastEmbedProvider) Close() error {
	return nil
}
