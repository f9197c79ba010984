// Package embedder turns text into vectors for similarity search.
package embedder

import "context"

// Embedder produces a dense vector for a piece of text. Implementations
// must return an error rather than a zero vector on failure so callers
// can degrade explicitly.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
