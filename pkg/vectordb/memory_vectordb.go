package vectordb

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore is a brute-force in-memory VectorStore for tests and
// single-process deployments.
type MemoryStore struct {
	mu   sync.RWMutex
	dim  int
	docs map[int64]Document
}

// NewMemoryStore creates an empty in-memory store for vectors of the
// given dimension.
func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{
		dim:  dim,
		docs: make(map[int64]Document),
	}
}

// Upsert inserts or replaces documents by ID.
func (m *MemoryStore) Upsert(ctx context.Context, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range docs {
		if len(d.Vector) != m.dim {
			return fmt.Errorf("document %d: vector dimension %d, want %d", d.ID, len(d.Vector), m.dim)
		}
		vec := make([]float32, len(d.Vector))
		copy(vec, d.Vector)
		d.Vector = vec
		m.docs[d.ID] = d
	}
	return nil
}

// Search scans all documents and returns the topK by cosine similarity.
func (m *MemoryStore) Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error) {
	if len(vector) != m.dim {
		return nil, fmt.Errorf("query vector dimension %d, want %d", len(vector), m.dim)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]SearchResult, 0, len(m.docs))
	for _, d := range m.docs {
		results = append(results, SearchResult{
			ID:      d.ID,
			Score:   cosineSimilarity(vector, d.Vector),
			Content: d.Content,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Delete removes documents by ID. Missing IDs are ignored.
func (m *MemoryStore) Delete(ctx context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.docs, id)
	}
	return nil
}

// Count returns the number of stored documents.
func (m *MemoryStore) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.docs)), nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
