// internal/embeddings/mock.go
package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
)

// MockProvider generates deterministic embeddings from text content.
// Identical texts produce identical vectors; different texts almost always
// differ. Intended for tests and offline development.
type MockProvider struct {
	dimension int
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a mock provider with the given dimension.
func NewMockProvider(dimension int) *MockProvider {
	if dimension <= 0 {
		dimension = 384
	}
	return &MockProvider{dimension: dimension}
}

// EmbedDocuments generates deterministic embeddings for multiple texts.
func (p *MockProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

// EmbedQuery generates a deterministic embedding for a single query.
func (p *MockProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return p.vector(text), nil
}

// Dimension returns the configured embedding dimension.
func (p *MockProvider) Dimension() int { return p.dimension }

// Close is a no-op.
func (p *MockProvider) Close() error { return nil }

// vector hashes the text into a unit-length pseudo-embedding.
func (p *MockProvider) vector(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, p.dimension)
	var norm float64
	state := seed
	for i := range vec {
		// xorshift64 keeps the sequence deterministic per seed
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		v := float64(int64(state)) / float64(math.MaxInt64)
		vec[i] = float32(v)
		norm += v * v
	}

	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}
