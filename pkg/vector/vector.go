// Package vector abstracts vector storage for knowledge-base retrieval.
package vector

import "context"

// Document is a stored chunk with its pre-computed embedding.
type Document struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]string
}

// Result is one search hit. Score is cosine similarity in [0, 1] where
// higher is more similar.
type Result struct {
	ID       string
	Score    float32
	Content  string
	Metadata map[string]string
}

// Store holds document embeddings and answers nearest-neighbor queries.
// Embedding happens outside the store; all vectors are pre-computed.
type Store interface {
	Upsert(ctx context.Context, docs []Document) error
	Search(ctx context.Context, embedding []float32, topK int) ([]Result, error)
	Delete(ctx context.Context, id string) error
	Close() error
}
