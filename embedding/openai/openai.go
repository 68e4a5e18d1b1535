// Package openai implements the embedding collaborator using the OpenAI
// Embeddings API via the official client.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
)

// Options configure the OpenAI embedder. Fields mirror a subset of the
// Embeddings API parameters intentionally kept minimal.
type Options struct {
	Model      openai.EmbeddingModel
	Dimensions int
}

// Embedder wraps the OpenAI Embeddings API behind the embedding.Embedder
// interface.
type Embedder struct {
	client *openai.Client
	opts   Options
}

// New creates an embedder using the official client (API key from the
// environment).
func New(optFns ...func(o *Options)) *Embedder {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates an embedder from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Embedder {
	opts := Options{
		Model:      openai.EmbeddingModelTextEmbedding3Small,
		Dimensions: 1536,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Embedder{client: client, opts: opts}
}

// Embed requests an embedding for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: e.opts.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings api error: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Dimensions returns the embedding size of the configured model.
func (e *Embedder) Dimensions() int { return e.opts.Dimensions }
