package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
)

// MockEmbedder produces deterministic pseudo-embeddings from token hashes.
// Identical texts always embed identically and texts sharing tokens land
// closer together, which is enough signal for tests.
type MockEmbedder struct {
	Dim int
}

// NewMockEmbedder returns a mock with the given dimension (default 16).
func NewMockEmbedder(dim int) *MockEmbedder {
	if dim <= 0 {
		dim = 16
	}
	return &MockEmbedder{Dim: dim}
}

func (m *MockEmbedder) embedOne(text string) []float32 {
	vec := make([]float64, m.Dim)
	for _, r := range text {
		h := fnv.New32a()
		fmt.Fprintf(h, "%c", r)
		idx := int(h.Sum32()) % m.Dim
		if idx < 0 {
			idx += m.Dim
		}
		vec[idx]++
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, m.Dim)
	if norm == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func (m *MockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	return m.embedOne(text), nil
}

func (m *MockEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.embedOne(t)
	}
	return out, nil
}

func (m *MockEmbedder) Dimension() int { return m.Dim }

func (m *MockEmbedder) Close() error { return nil }

var _ Embedder = (*MockEmbedder)(nil)
