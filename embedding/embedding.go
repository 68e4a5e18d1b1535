// Package embedding defines the embedding-model collaborator contract used by
// the hybrid search engine's dense sub-ranker. Implementations live in
// sub-packages; select one at wiring time.
package embedding

import "context"

// Embedder converts text to vector embeddings.
// Implementations: mock.Embedder (testing), openai.Embedder (production).
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}
