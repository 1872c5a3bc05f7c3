// Package vectordb defines the vector-index boundary consumed by the
// broker's queued wrappers, with a Milvus-backed and an in-memory
// implementation.
package vectordb

import "context"

// Document is one entry in a vector index.
type Document struct {
	ID      int64     `json:"id"`
	Vector  []float32 `json:"vector"`
	Content string    `json:"content"`
}

// SearchResult is one similarity hit, highest score first.
type SearchResult struct {
	ID      int64   `json:"id"`
	Score   float32 `json:"score"`
	Content string  `json:"content"`
}

// VectorStore is the resource-client surface for vector indexes.
type VectorStore interface {
	// Upsert inserts or replaces documents by ID.
	Upsert(ctx context.Context, docs []Document) error

	// Search returns up to topK nearest documents for the query vector,
	// ordered by descending similarity.
	Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error)

	// Delete removes documents by ID. Missing IDs are not an error.
	Delete(ctx context.Context, ids []int64) error

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int64, error)

	// Close releases the underlying connection.
	Close() error
}
