// Package mock provides a deterministic embedder for tests and offline use.
package mock

import (
	"context"
	"hash/fnv"
	"math"
)

// Embedder generates deterministic unit vectors from a text hash. Similar
// texts do not get similar vectors; determinism is the only guarantee, which
// is exactly what ranking tests need.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder.
func New() *Embedder {
	return &Embedder{dimensions: 384}
}

// Embed derives a pseudo-random unit vector seeded by the text's FNV hash.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, e.dimensions)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(vec), nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int { return e.dimensions }

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
