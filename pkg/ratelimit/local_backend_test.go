package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

var _ Backend = (*LocalBackend)(nil)

// ── Acquire — request limits ──

func TestLocalBackendRPM(t *testing.T) {
	b := NewLocalBackend()
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
		t.Error("acquire 3: expected denied (RPM exhausted)")
	}
	if res.Wait <= 0 || res.Wait > time.Minute+minuteWaitPad {
		t.Errorf("Wait = %v, want (0, 60.1s]", res.Wait)
	}
}

func TestLocalBackendSafetyMargin(t *testing.T) {
	b := NewLocalBackend()
	ctx := context.Background()
	// floor(10 * 0.9) = 9 effective requests.
	cfg := Config{RequestsPerMinute: 10}

	allowed := 0
	for i := 0; i < 10; i++ {
		res, _ := b.Acquire(ctx, "llm", 1, cfg)
		if res.Allowed {
			allowed++
		}
	}
	if allowed != 9 {
		t.Errorf("allowed = %d, want 9 (safety margin 0.9 applied)", allowed)
	}
}

func TestLocalBackendTPM(t *testing.T) {
	b := NewLocalBackend()
	ctx := context.Background()
	cfg := Config{TokensPerMinute: 100, SafetyMargin: 1.0}

	res, _ := b.Acquire(ctx, "llm", 60, cfg)
	if !res.Allowed {
		t.Fatal("first 60 tokens should be admitted")
	}
	if res.RemainingTokens != 40 {
		t.Errorf("RemainingTokens = %d, want 40", res.RemainingTokens)
	}

	// 60 + 60 > 100: denied without consuming anything.
	res, _ = b.Acquire(ctx, "llm", 60, cfg)
	if res.Allowed {
		t.Error("second 60 tokens should be denied")
	}

	// 40 still fits.
	res, _ = b.Acquire(ctx, "llm", 40, cfg)
	if !res.Allowed {
		t.Error("40 tokens should still fit after a denial")
	}
}

func TestLocalBackendRPSWindowReset(t *testing.T) {
	b := NewLocalBackend()
	ctx := context.Background()
	cfg := Config{RequestsPerSecond: 1, SafetyMargin: 1.0}

	res, _ := b.Acquire(ctx, "llm", 1, cfg)
	if !res.Allowed {
		t.Fatal("first acquire should pass")
	}

	res, _ = b.Acquire(ctx, "llm", 1, cfg)
	if res.Allowed {
		t.Fatal("second acquire in the same second should be denied")
	}
	if res.Wait > time.Second+secondWaitPad {
		t.Errorf("Wait = %v, want <= 1.05s", res.Wait)
	}

	time.Sleep(1100 * time.Millisecond)

	res, _ = b.Acquire(ctx, "llm", 1, cfg)
	if !res.Allowed {
		t.Error("acquire after the second window rolls should pass")
	}
}

// ── Acquire/Release — concurrency ──

func TestLocalBackendConcurrencyLimit(t *testing.T) {
	b := NewLocalBackend()
	ctx := context.Background()
	cfg := Config{MaxConcurrent: 2, SafetyMargin: 1.0}

	for i := 0; i < 2; i++ {
		res, _ := b.Acquire(ctx, "llm", 1, cfg)
		if !res.Allowed {
			t.Fatalf("acquire %d should pass", i+1)
		}
	}

	res, _ := b.Acquire(ctx, "llm", 1, cfg)
	if res.Allowed {
		t.Fatal("third concurrent acquire should be denied")
	}
	if res.Wait != concurrencyPoll {
		t.Errorf("Wait = %v, want poll interval %v", res.Wait, concurrencyPoll)
	}

	if err := b.Release(ctx, "llm"); err != nil {
		t.Fatalf("release: %v", err)
	}

	res, _ = b.Acquire(ctx, "llm", 1, cfg)
	if !res.Allowed {
		t.Error("acquire after release should pass")
	}
}

func TestLocalBackendAcquireReleaseRoundTrip(t *testing.T) {
	b := NewLocalBackend()
	ctx := context.Background()
	cfg := Config{MaxConcurrent: 10, SafetyMargin: 1.0}

	before, _ := b.Stats(ctx, "llm")

	res, _ := b.Acquire(ctx, "llm", 1, cfg)
	if !res.Allowed {
		t.Fatal("acquire should pass")
	}
	_ = b.Release(ctx, "llm")

	after, _ := b.Stats(ctx, "llm")
	if after.Active != before.Active {
		t.Errorf("Active after round trip = %d, want %d", after.Active, before.Active)
	}
}

func TestLocalBackendReleaseNeverNegative(t *testing.T) {
	b := NewLocalBackend()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Release(ctx, "llm")
	}

	stats, _ := b.Stats(ctx, "llm")
	if stats.Active != 0 {
		t.Errorf("Active = %d, want 0 after unmatched releases", stats.Active)
	}
}

// ── Stats / Reset ──

func TestLocalBackendStats(t *testing.T) {
	b := NewLocalBackend()
	ctx := context.Background()
	cfg := Config{RequestsPerMinute: 1, SafetyMargin: 1.0}

	_, _ = b.Acquire(ctx, "llm", 5, cfg)
	_, _ = b.Acquire(ctx, "llm", 5, cfg) // denied

	stats, err := b.Stats(ctx, "llm")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalRequests != 1 || stats.TotalTokens != 5 {
		t.Errorf("totals = %d requests / %d tokens, want 1 / 5", stats.TotalRequests, stats.TotalTokens)
	}
	if stats.WaitCount != 1 {
		t.Errorf("WaitCount = %d, want 1", stats.WaitCount)
	}
	if stats.TotalWaitTime <= 0 {
		t.Errorf("TotalWaitTime = %v, want > 0", stats.TotalWaitTime)
	}
}

func TestLocalBackendReset(t *testing.T) {
	b := NewLocalBackend()
	ctx := context.Background()
	cfg := Config{RequestsPerMinute: 1, SafetyMargin: 1.0}

	_, _ = b.Acquire(ctx, "llm", 1, cfg)
	if err := b.Reset(ctx, "llm"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	res, _ := b.Acquire(ctx, "llm", 1, cfg)
	if !res.Allowed {
		t.Error("acquire after reset should pass")
	}
}

// ── Concurrency safety ──

func TestLocalBackendConcurrentAcquire(t *testing.T) {
	b := NewLocalBackend()
	ctx := context.Background()
	cfg := Config{RequestsPerMinute: 50, SafetyMargin: 1.0}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := b.Acquire(ctx, "llm", 1, cfg)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want exactly 50 under concurrency", allowed)
	}

	stats, _ := b.Stats(ctx, "llm")
	if stats.RequestsThisMinute != 50 {
		t.Errorf("RequestsThisMinute = %d, want 50", stats.RequestsThisMinute)
	}
}

func TestLocalBackendResourceIsolation(t *testing.T) {
	b := NewLocalBackend()
	ctx := context.Background()
	cfg := Config{RequestsPerMinute: 1, SafetyMargin: 1.0}

	res, _ := b.Acquire(ctx, "llm", 1, cfg)
	if !res.Allowed {
		t.Fatal("llm acquire should pass")
	}
	res, _ = b.Acquire(ctx, "vectorStore", 1, cfg)
	if !res.Allowed {
		t.Error("vectorStore should be unaffected by llm consumption")
	}
}
