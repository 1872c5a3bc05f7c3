package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/plugrun/resource-broker/pkg/kvstore"
)

var _ Backend = (*DistributedBackend)(nil)

func newDistributed(t *testing.T) (*DistributedBackend, *kvstore.MemoryStore) {
	t.Helper()
	store := kvstore.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	return NewDistributedBackend(store), store
}

// ── Acquire ──

func TestDistributedBackendRPM(t *testing.T) {
	b, _ := newDistributed(t)
	ctx := context.Background()
	cfg := Config{RequestsPerMinute: 2, SafetyMargin: 1.0}

	for i := 0; i < 2; i++ {
		res, err := b.Acquire(ctx, "llm", 1, cfg)
		if err != nil {
			t.Fatalf("acquire %d: %v", i+1, err)
		}
		if !res.Allowed {
			t.Fatalf("acquire %d: expected allowed", i+1)
		}
	}

	res, err := b.Acquire(ctx, "llm", 1, cfg)
	if err != nil {
		t.Fatalf("acquire 3: %v", err)
	}
	if res.Allowed {
		t.Error("acquire 3: expected denied")
	}
	if res.Wait <= 0 || res.Wait > time.Minute+minuteWaitPad {
		t.Errorf("Wait = %v, want (0, 60.1s]", res.Wait)
	}
}

func TestDistributedBackendTPM(t *testing.T) {
	b, _ := newDistributed(t)
	ctx := context.Background()
	cfg := Config{TokensPerMinute: 100, SafetyMargin: 1.0}

	res, _ := b.Acquire(ctx, "llm", 70, cfg)
	if !res.Allowed {
		t.Fatal("70 tokens should be admitted")
	}
	res, _ = b.Acquire(ctx, "llm", 70, cfg)
	if res.Allowed {
		t.Error("second 70 tokens should be denied")
	}
}

// ── Key scheme ──

func TestDistributedBackendKeyScheme(t *testing.T) {
	b, store := newDistributed(t)
	ctx := context.Background()

	res, err := b.Acquire(ctx, "llm", 1, Config{RequestsPerMinute: 10, SafetyMargin: 1.0})
	if err != nil || !res.Allowed {
		t.Fatalf("acquire: allowed=%v err=%v", res != nil && res.Allowed, err)
	}

	now := time.Now().UTC()
	wantMinute := fmt.Sprintf("ratelimit:llm:minute:%s", now.Format("2006-01-02T15:04"))
	if _, err := store.Get(ctx, wantMinute); err != nil {
		t.Errorf("minute key %q not written: %v", wantMinute, err)
	}
	if _, err := store.Get(ctx, "ratelimit:llm:active"); err != nil {
		t.Errorf("active key not written: %v", err)
	}
	if !strings.Contains(secondKey("llm", now), now.Format("2006-01-02T15:04:05")) {
		t.Error("second key should embed the wall clock truncated to the second")
	}
}

// ── Release ──

func TestDistributedBackendReleaseRoundTrip(t *testing.T) {
	b, _ := newDistributed(t)
	ctx := context.Background()
	cfg := Config{MaxConcurrent: 5, SafetyMargin: 1.0}

	res, _ := b.Acquire(ctx, "llm", 1, cfg)
	if !res.Allowed || res.Active != 1 {
		t.Fatalf("acquire: allowed=%v active=%d, want true/1", res.Allowed, res.Active)
	}

	if err := b.Release(ctx, "llm"); err != nil {
		t.Fatalf("release: %v", err)
	}

	stats, err := b.Stats(ctx, "llm")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Active != 0 {
		t.Errorf("Active = %d, want 0 after release", stats.Active)
	}
}

func TestDistributedBackendReleaseNeverNegative(t *testing.T) {
	b, _ := newDistributed(t)
	ctx := context.Background()

	_ = b.Release(ctx, "llm")
	_ = b.Release(ctx, "llm")

	stats, _ := b.Stats(ctx, "llm")
	if stats.Active != 0 {
		t.Errorf("Active = %d, want 0", stats.Active)
	}
}

// ── Stats / Reset ──

func TestDistributedBackendStats(t *testing.T) {
	b, _ := newDistributed(t)
	ctx := context.Background()
	cfg := Config{RequestsPerMinute: 1, SafetyMargin: 1.0}

	_, _ = b.Acquire(ctx, "llm", 3, cfg)
	_, _ = b.Acquire(ctx, "llm", 3, cfg) // denied

	stats, err := b.Stats(ctx, "llm")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalRequests != 1 || stats.TotalTokens != 3 {
		t.Errorf("totals = %d/%d, want 1/3", stats.TotalRequests, stats.TotalTokens)
	}
	if stats.WaitCount != 1 {
		t.Errorf("WaitCount = %d, want 1", stats.WaitCount)
	}
}

func TestDistributedBackendReset(t *testing.T) {
	b, store := newDistributed(t)
	ctx := context.Background()
	cfg := Config{RequestsPerMinute: 1, SafetyMargin: 1.0}

	_, _ = b.Acquire(ctx, "llm", 1, cfg)
	if err := b.Reset(ctx, "llm"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if _, err := store.Get(ctx, "ratelimit:llm:active"); err == nil {
		t.Error("active key should be cleared by reset")
	}

	res, _ := b.Acquire(ctx, "llm", 1, cfg)
	if !res.Allowed {
		t.Error("acquire after reset should pass")
	}
}

// ── Cross-process sharing ──

func TestDistributedBackendSharedStore(t *testing.T) {
	store := kvstore.NewMemoryStore()
	defer store.Close()

	// Two backends over one store model two broker processes.
	b1 := NewDistributedBackend(store)
	b2 := NewDistributedBackend(store)
	ctx := context.Background()
	cfg := Config{RequestsPerMinute: 2, SafetyMargin: 1.0}

	res, _ := b1.Acquire(ctx, "llm", 1, cfg)
	if !res.Allowed {
		t.Fatal("process 1 acquire should pass")
	}
	res, _ = b2.Acquire(ctx, "llm", 1, cfg)
	if !res.Allowed {
		t.Fatal("process 2 acquire should pass")
	}

	// Budget is shared: either process now sees the limit exhausted.
	res, _ = b1.Acquire(ctx, "llm", 1, cfg)
	if res.Allowed {
		t.Error("shared RPM budget should be exhausted across backends")
	}
}
