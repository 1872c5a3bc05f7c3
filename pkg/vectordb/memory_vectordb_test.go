package vectordb

import (
	"context"
	"testing"
)

var _ VectorStore = (*MemoryStore)(nil)

// ── upsert and count ──────────────────────────────────────────────────

func TestMemoryStoreUpsertAndCount(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(3)

	docs := []Document{
		{ID: 1, Vector: []float32{1, 0, 0}, Content: "first"},
		{ID: 2, Vector: []float32{0, 1, 0}, Content: "second"},
	}
	if err := s.Upsert(ctx, docs); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}

	// Upsert replaces by ID, not duplicates.
	if err := s.Upsert(ctx, []Document{{ID: 1, Vector: []float32{0, 0, 1}, Content: "replaced"}}); err != nil {
		t.Fatalf("Upsert replace: %v", err)
	}
	n, _ = s.Count(ctx)
	if n != 2 {
		t.Errorf("Count after replace = %d, want 2", n)
	}
}

func TestMemoryStoreDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(3)

	if err := s.Upsert(ctx, []Document{{ID: 1, Vector: []float32{1, 0}}}); err == nil {
		t.Error("expected error upserting vector of wrong dimension")
	}
	if _, err := s.Search(ctx, []float32{1, 0}, 5); err == nil {
		t.Error("expected error searching with vector of wrong dimension")
	}
}

// ── search ordering ───────────────────────────────────────────────────

func TestMemoryStoreSearchOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)

	docs := []Document{
		{ID: 1, Vector: []float32{1, 0}, Content: "aligned"},
		{ID: 2, Vector: []float32{0, 1}, Content: "orthogonal"},
		{ID: 3, Vector: []float32{1, 1}, Content: "diagonal"},
	}
	if err := s.Upsert(ctx, docs); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hits, err := s.Search(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].ID != 1 {
		t.Errorf("top hit = %d, want 1", hits[0].ID)
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("hits not ordered by descending score: %v then %v", hits[0].Score, hits[1].Score)
	}
	if hits[0].Content != "aligned" {
		t.Errorf("top hit content = %q, want %q", hits[0].Content, "aligned")
	}
}

func TestMemoryStoreSearchTopKLargerThanStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)

	_ = s.Upsert(ctx, []Document{{ID: 1, Vector: []float32{1, 0}}})

	hits, err := s.Search(ctx, []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("got %d hits, want 1", len(hits))
	}
}

// ── delete ────────────────────────────────────────────────────────────

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)

	_ = s.Upsert(ctx, []Document{
		{ID: 1, Vector: []float32{1, 0}},
		{ID: 2, Vector: []float32{0, 1}},
	})

	// Deleting a missing ID is not an error.
	if err := s.Delete(ctx, []int64{2, 99}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	n, _ := s.Count(ctx)
	if n != 1 {
		t.Errorf("Count after delete = %d, want 1", n)
	}

	hits, _ := s.Search(ctx, []float32{0, 1}, 10)
	for _, h := range hits {
		if h.ID == 2 {
			t.Error("deleted document still returned by Search")
		}
	}
}

// ── factory ───────────────────────────────────────────────────────────

func TestFactoryDefaultsToMemory(t *testing.T) {
	s, err := New(Config{Dim: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("got %T, want *MemoryStore", s)
	}
}

func TestFactoryRejectsBadConfig(t *testing.T) {
	if _, err := New(Config{Dim: 0}); err == nil {
		t.Error("expected error for zero dimension")
	}
	if _, err := New(Config{Dim: 4, BackendType: "bogus"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
