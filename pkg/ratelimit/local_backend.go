package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/plugrun/resource-broker/pkg/observability/logging"
)

// LocalBackend is the in-process Backend. Each resource gets its own counter
// state behind its own mutex; the lock is held only for the check-and-update
// sequence, never across I/O.
type LocalBackend struct {
	mu        sync.Mutex
	resources map[string]*resourceState
}

type resourceState struct {
	mu sync.Mutex

	tokensThisMinute   int
	requestsThisMinute int
	requestsThisSecond int
	active             int

	minuteStart time.Time
	secondStart time.Time

	totalRequests int64
	totalTokens   int64
	waitCount     int64
	totalWaitTime time.Duration
}

// NewLocalBackend creates an in-process rate-limit backend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{resources: make(map[string]*resourceState)}
}

func (b *LocalBackend) state(resource string) *resourceState {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.resources[resource]
	if !ok {
		now := time.Now()
		s = &resourceState{minuteStart: now, secondStart: now}
		b.resources[resource] = s
	}
	return s
}

// rollWindows resets any window whose elapsed time exceeds its period.
// Caller holds s.mu.
func (s *resourceState) rollWindows(now time.Time) {
	if now.Sub(s.minuteStart) >= time.Minute {
		s.tokensThisMinute = 0
		s.requestsThisMinute = 0
		s.minuteStart = now
	}
	if now.Sub(s.secondStart) >= time.Second {
		s.requestsThisSecond = 0
		s.secondStart = now
	}
}

// Acquire checks every configured dimension and admits only when none would
// exceed its effective ceiling. On denial the returned Wait is the minimum
// of the violated dimensions' time-to-reset.
func (b *LocalBackend) Acquire(_ context.Context, resource string, cost int, cfg Config) (*AcquireResult, error) {
	if cost < 1 {
		cost = 1
	}

	s := b.state(resource)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.rollWindows(now)

	var waits []time.Duration

	if cfg.TokensPerMinute > 0 && s.tokensThisMinute+cost > cfg.effective(cfg.TokensPerMinute) {
		waits = append(waits, s.minuteStart.Add(time.Minute).Sub(now)+minuteWaitPad)
	}
	if cfg.RequestsPerMinute > 0 && s.requestsThisMinute >= cfg.effective(cfg.RequestsPerMinute) {
		waits = append(waits, s.minuteStart.Add(time.Minute).Sub(now)+minuteWaitPad)
	}
	if cfg.RequestsPerSecond > 0 && s.requestsThisSecond >= cfg.effective(cfg.RequestsPerSecond) {
		waits = append(waits, s.secondStart.Add(time.Second).Sub(now)+secondWaitPad)
	}
	if cfg.MaxConcurrent > 0 && s.active >= cfg.effective(cfg.MaxConcurrent) {
		waits = append(waits, concurrencyPoll)
	}

	if len(waits) > 0 {
		min := waits[0]
		for _, w := range waits[1:] {
			if w < min {
				min = w
			}
		}
		s.waitCount++
		s.totalWaitTime += min

		logging.Debugf("Rate limit denied for %s: cost=%d, retry in %v", resource, cost, min)
		return &AcquireResult{
			Allowed:           false,
			Wait:              min,
			RemainingTokens:   remaining(cfg.TokensPerMinute, cfg, s.tokensThisMinute),
			RemainingRequests: remaining(cfg.RequestsPerMinute, cfg, s.requestsThisMinute),
			Active:            s.active,
		}, nil
	}

	s.tokensThisMinute += cost
	s.requestsThisMinute++
	s.requestsThisSecond++
	s.active++
	s.totalRequests++
	s.totalTokens += int64(cost)

	return &AcquireResult{
		Allowed:           true,
		RemainingTokens:   remaining(cfg.TokensPerMinute, cfg, s.tokensThisMinute),
		RemainingRequests: remaining(cfg.RequestsPerMinute, cfg, s.requestsThisMinute),
		Active:            s.active,
	}, nil
}

func remaining(limit int, cfg Config, used int) int {
	if limit <= 0 {
		return -1
	}
	r := cfg.effective(limit) - used
	if r < 0 {
		r = 0
	}
	return r
}

// Release decrements the active count, never below zero.
func (b *LocalBackend) Release(_ context.Context, resource string) error {
	s := b.state(resource)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active > 0 {
		s.active--
	}
	return nil
}

// Stats returns a snapshot of the resource's counters. Windows are rolled
// first so the snapshot never reports counts from an expired window.
func (b *LocalBackend) Stats(_ context.Context, resource string) (*Stats, error) {
	s := b.state(resource)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollWindows(time.Now())

	return &Stats{
		TokensThisMinute:   s.tokensThisMinute,
		RequestsThisMinute: s.requestsThisMinute,
		RequestsThisSecond: s.requestsThisSecond,
		Active:             s.active,
		TotalRequests:      s.totalRequests,
		TotalTokens:        s.totalTokens,
		WaitCount:          s.waitCount,
		TotalWaitTime:      s.totalWaitTime,
	}, nil
}

// Reset drops all state for the resource.
func (b *LocalBackend) Reset(_ context.Context, resource string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.resources, resource)
	return nil
}
