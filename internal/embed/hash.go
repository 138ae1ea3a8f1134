package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDimension matches the small sentence-transformer models so
// a store filled by one provider stays readable by the other.
const DefaultHashDimension = 384

// HashProvider embeds text by feature hashing: each token (and each
// adjacent token pair) is hashed into a bucket with a hash-derived
// sign, and the result is L2-normalized. The same text always yields
// the same vector, no model files or network required. Nearness is
// token overlap, which is enough for "commands that looked like this
// conflicted before" retrieval.
type HashProvider struct {
	dim int
}

// NewHashProvider returns a provider with the given dimension, or
// DefaultHashDimension when dim is not positive.
func NewHashProvider(dim int) *HashProvider {
	if dim <= 0 {
		dim = DefaultHashDimension
	}
	return &HashProvider{dim: dim}
}

// EmbedDocuments generates one vector per input text.
func (p *HashProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		out[i] = p.embed(text)
	}
	return out, nil
}

// EmbedQuery generates a vector for a single query string.
func (p *HashProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return p.embed(text), nil
}

// Dimension returns the configured vector width.
func (p *HashProvider) Dimension() int {
	return p.dim
}

// Close is a no-op; the provider holds no resources.
func (p *HashProvider) Close() error {
	return nil
}

func (p *HashProvider) embed(text string) []float32 {
	vec := make([]float32, p.dim)

	tokens := tokenize(text)
	if len(tokens) == 0 {
		// No word-like content. Hash the raw text so distinct inputs
		// still land apart.
		tokens = []string{text}
	}

	for i, tok := range tokens {
		p.add(vec, tok)
		if i+1 < len(tokens) {
			p.add(vec, tok+" "+tokens[i+1])
		}
	}

	normalize(vec)
	return vec
}

// add hashes one feature into its bucket. The top hash bit picks the
// sign, which keeps colliding features from only ever reinforcing each
// other.
func (p *HashProvider) add(vec []float32, feature string) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()

	bucket := int(sum % uint64(p.dim))
	if sum&(1<<63) != 0 {
		vec[bucket]--
	} else {
		vec[bucket]++
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
