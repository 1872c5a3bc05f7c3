package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/plugrun/resource-broker/pkg/kvstore"
	"github.com/plugrun/resource-broker/pkg/observability/logging"
)

// DistributedBackend keeps rate-limit counters in a shared kvstore.Store so
// multiple broker processes approximate one global limit.
//
// Window keys are derived from wall-clock truncation, so a new window simply
// reads as empty until first write and stale windows expire by TTL — there
// is no reset logic. Counter updates are read-then-write: concurrent writers
// across processes can race and transiently over-admit. The safety margin
// exists to absorb exactly that slack; this backend promises a best-effort
// ceiling, not a hard one.
//
// Key scheme (stable; processes sharing a store must agree on it):
//
//	ratelimit:{resource}:minute:{YYYY-MM-DDTHH:MM}   TTL 120s
//	ratelimit:{resource}:second:{...THH:MM:SS}       TTL 10s
//	ratelimit:{resource}:active                      no TTL
//	ratelimit:{resource}:stats                       no TTL
type DistributedBackend struct {
	store kvstore.Store
}

// NewDistributedBackend creates a backend over the given shared store.
func NewDistributedBackend(store kvstore.Store) *DistributedBackend {
	return &DistributedBackend{store: store}
}

type minuteWindow struct {
	Tokens   int `json:"tokens"`
	Requests int `json:"requests"`
}

type secondWindow struct {
	Requests int `json:"requests"`
}

type activeCount struct {
	Active int `json:"active"`
}

type cumulativeStats struct {
	TotalRequests int64 `json:"total_requests"`
	TotalTokens   int64 `json:"total_tokens"`
	WaitCount     int64 `json:"wait_count"`
	TotalWaitMs   int64 `json:"total_wait_ms"`
}

func minuteKey(resource string, now time.Time) string {
	return fmt.Sprintf("ratelimit:%s:minute:%s", resource, now.UTC().Format("2006-01-02T15:04"))
}

func secondKey(resource string, now time.Time) string {
	return fmt.Sprintf("ratelimit:%s:second:%s", resource, now.UTC().Format("2006-01-02T15:04:05"))
}

func activeKey(resource string) string {
	return fmt.Sprintf("ratelimit:%s:active", resource)
}

func statsKey(resource string) string {
	return fmt.Sprintf("ratelimit:%s:stats", resource)
}

// readJSON loads key into out, leaving out zero-valued when the key is
// missing (a new window reads as empty).
func (b *DistributedBackend) readJSON(ctx context.Context, key string, out interface{}) error {
	data, err := b.store.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		// A corrupt window is treated as empty rather than wedging the
		// resource until the TTL clears it.
		logging.Warnf("Discarding corrupt rate-limit state at %s: %v", key, err)
	}
	return nil
}

func (b *DistributedBackend) writeJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal rate-limit state: %w", err)
	}
	return b.store.Set(ctx, key, data, ttl)
}

// Acquire checks every configured dimension against the shared counters and
// admits only when none would exceed its effective ceiling.
func (b *DistributedBackend) Acquire(ctx context.Context, resource string, cost int, cfg Config) (*AcquireResult, error) {
	if cost < 1 {
		cost = 1
	}

	now := time.Now()

	var minute minuteWindow
	if err := b.readJSON(ctx, minuteKey(resource, now), &minute); err != nil {
		return nil, fmt.Errorf("failed to read minute window for %s: %w", resource, err)
	}
	var second secondWindow
	if err := b.readJSON(ctx, secondKey(resource, now), &second); err != nil {
		return nil, fmt.Errorf("failed to read second window for %s: %w", resource, err)
	}
	var active activeCount
	if err := b.readJSON(ctx, activeKey(resource), &active); err != nil {
		return nil, fmt.Errorf("failed to read active count for %s: %w", resource, err)
	}

	toMinuteBoundary := now.Truncate(time.Minute).Add(time.Minute).Sub(now) + minuteWaitPad
	toSecondBoundary := now.Truncate(time.Second).Add(time.Second).Sub(now) + secondWaitPad

	var waits []time.Duration
	if cfg.TokensPerMinute > 0 && minute.Tokens+cost > cfg.effective(cfg.TokensPerMinute) {
		waits = append(waits, toMinuteBoundary)
	}
	if cfg.RequestsPerMinute > 0 && minute.Requests >= cfg.effective(cfg.RequestsPerMinute) {
		waits = append(waits, toMinuteBoundary)
	}
	if cfg.RequestsPerSecond > 0 && second.Requests >= cfg.effective(cfg.RequestsPerSecond) {
		waits = append(waits, toSecondBoundary)
	}
	if cfg.MaxConcurrent > 0 && active.Active >= cfg.effective(cfg.MaxConcurrent) {
		waits = append(waits, concurrencyPoll)
	}

	if len(waits) > 0 {
		min := waits[0]
		for _, w := range waits[1:] {
			if w < min {
				min = w
			}
		}

		// Best-effort: denial accounting races like everything else here.
		var stats cumulativeStats
		if err := b.readJSON(ctx, statsKey(resource), &stats); err == nil {
			stats.WaitCount++
			stats.TotalWaitMs += min.Milliseconds()
			_ = b.writeJSON(ctx, statsKey(resource), &stats, 0)
		}

		logging.Debugf("Distributed rate limit denied for %s: cost=%d, retry in %v", resource, cost, min)
		return &AcquireResult{
			Allowed:           false,
			Wait:              min,
			RemainingTokens:   remaining(cfg.TokensPerMinute, cfg, minute.Tokens),
			RemainingRequests: remaining(cfg.RequestsPerMinute, cfg, minute.Requests),
			Active:            active.Active,
		}, nil
	}

	minute.Tokens += cost
	minute.Requests++
	second.Requests++
	active.Active++

	if err := b.writeJSON(ctx, minuteKey(resource, now), &minute, minuteWindowTTL); err != nil {
		return nil, fmt.Errorf("failed to write minute window for %s: %w", resource, err)
	}
	if err := b.writeJSON(ctx, secondKey(resource, now), &second, secondWindowTTL); err != nil {
		return nil, fmt.Errorf("failed to write second window for %s: %w", resource, err)
	}
	if err := b.writeJSON(ctx, activeKey(resource), &active, 0); err != nil {
		return nil, fmt.Errorf("failed to write active count for %s: %w", resource, err)
	}

	var stats cumulativeStats
	if err := b.readJSON(ctx, statsKey(resource), &stats); err == nil {
		stats.TotalRequests++
		stats.TotalTokens += int64(cost)
		_ = b.writeJSON(ctx, statsKey(resource), &stats, 0)
	}

	return &AcquireResult{
		Allowed:           true,
		RemainingTokens:   remaining(cfg.TokensPerMinute, cfg, minute.Tokens),
		RemainingRequests: remaining(cfg.RequestsPerMinute, cfg, minute.Requests),
		Active:            active.Active,
	}, nil
}

// Release decrements the shared active count, never below zero.
func (b *DistributedBackend) Release(ctx context.Context, resource string) error {
	var active activeCount
	if err := b.readJSON(ctx, activeKey(resource), &active); err != nil {
		return fmt.Errorf("failed to read active count for %s: %w", resource, err)
	}

	if active.Active > 0 {
		active.Active--
	}
	return b.writeJSON(ctx, activeKey(resource), &active, 0)
}

// Stats assembles a snapshot from the current window keys.
func (b *DistributedBackend) Stats(ctx context.Context, resource string) (*Stats, error) {
	now := time.Now()

	var minute minuteWindow
	if err := b.readJSON(ctx, minuteKey(resource, now), &minute); err != nil {
		return nil, err
	}
	var second secondWindow
	if err := b.readJSON(ctx, secondKey(resource, now), &second); err != nil {
		return nil, err
	}
	var active activeCount
	if err := b.readJSON(ctx, activeKey(resource), &active); err != nil {
		return nil, err
	}
	var cumulative cumulativeStats
	if err := b.readJSON(ctx, statsKey(resource), &cumulative); err != nil {
		return nil, err
	}

	return &Stats{
		TokensThisMinute:   minute.Tokens,
		RequestsThisMinute: minute.Requests,
		RequestsThisSecond: second.Requests,
		Active:             active.Active,
		TotalRequests:      cumulative.TotalRequests,
		TotalTokens:        cumulative.TotalTokens,
		WaitCount:          cumulative.WaitCount,
		TotalWaitTime:      time.Duration(cumulative.TotalWaitMs) * time.Millisecond,
	}, nil
}

// Reset clears all shared state for the resource.
func (b *DistributedBackend) Reset(ctx context.Context, resource string) error {
	return b.store.Clear(ctx, fmt.Sprintf("ratelimit:%s:*", resource))
}
