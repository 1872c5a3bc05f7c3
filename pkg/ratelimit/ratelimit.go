// Package ratelimit gates consumption of named resources against configured
// ceilings (tokens/minute, requests/minute, requests/second, concurrency).
//
// Two backends are provided:
//
//   - LocalBackend: in-process sliding-window counters behind a per-resource
//     mutex. Exact within one process.
//
//   - DistributedBackend: counters kept in a shared kvstore.Store under
//     wall-clock-truncated window keys, so independent processes sharing one
//     store approximate a global limit. Updates are read-then-write, not
//     atomic; the safety margin absorbs the resulting slack.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"
)

// DefaultSafetyMargin is the fraction of each configured ceiling actually
// admitted, leaving headroom against upstream provider enforcement.
const DefaultSafetyMargin = 0.9

// Wait padding added past a window boundary before suggesting a retry, so a
// retry lands on the far side of the reset rather than racing it.
const (
	minuteWaitPad   = 100 * time.Millisecond
	secondWaitPad   = 50 * time.Millisecond
	concurrencyPoll = 100 * time.Millisecond
	minuteWindowTTL = 120 * time.Second
	secondWindowTTL = 10 * time.Second
)

// Config holds the rate-limit ceilings for one resource. Zero values mean
// the dimension is unlimited.
type Config struct {
	TokensPerMinute   int `yaml:"tokens_per_minute"`
	RequestsPerMinute int `yaml:"requests_per_minute"`
	RequestsPerSecond int `yaml:"requests_per_second"`
	MaxConcurrent     int `yaml:"max_concurrent"`

	// SafetyMargin is the fraction (0, 1] of each ceiling actually used.
	// Zero means DefaultSafetyMargin.
	SafetyMargin float64 `yaml:"safety_margin"`
}

func (c Config) margin() float64 {
	if c.SafetyMargin <= 0 || c.SafetyMargin > 1 {
		return DefaultSafetyMargin
	}
	return c.SafetyMargin
}

// effective applies the safety margin to a configured ceiling.
func (c Config) effective(limit int) int {
	return int(math.Floor(float64(limit) * c.margin()))
}

// Validate rejects configurations no backend can serve. In particular, a
// configured ceiling whose margin-adjusted value floors to 0 would deny
// every acquire forever.
func (c Config) Validate() error {
	if c.TokensPerMinute < 0 || c.RequestsPerMinute < 0 || c.RequestsPerSecond < 0 || c.MaxConcurrent < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if c.SafetyMargin < 0 || c.SafetyMargin > 1 {
		return fmt.Errorf("safety margin must be in [0,1], got %v", c.SafetyMargin)
	}

	dims := []struct {
		name  string
		limit int
	}{
		{"tokens_per_minute", c.TokensPerMinute},
		{"requests_per_minute", c.RequestsPerMinute},
		{"requests_per_second", c.RequestsPerSecond},
		{"max_concurrent", c.MaxConcurrent},
	}
	for _, d := range dims {
		if d.limit > 0 && c.effective(d.limit) == 0 {
			return fmt.Errorf("%s %d floors to 0 under safety margin %v; raise the limit or the margin",
				d.name, d.limit, c.margin())
		}
	}
	return nil
}

// AcquireResult is the outcome of a rate-limit check.
type AcquireResult struct {
	// Allowed reports whether the request was admitted.
	Allowed bool

	// Wait, on denial, is the smallest delay after which a retry could
	// succeed (optimistic: the earliest violated limit's reset, not the
	// latest).
	Wait time.Duration

	// RemainingTokens and RemainingRequests estimate leftover capacity in
	// the current minute window. -1 means the dimension is unlimited.
	RemainingTokens   int
	RemainingRequests int

	// Active is the number of in-flight requests after this acquire.
	Active int
}

// Stats is a snapshot of one resource's counters.
type Stats struct {
	TokensThisMinute   int           `json:"tokens_this_minute"`
	RequestsThisMinute int           `json:"requests_this_minute"`
	RequestsThisSecond int           `json:"requests_this_second"`
	Active             int           `json:"active"`
	TotalRequests      int64         `json:"total_requests"`
	TotalTokens        int64         `json:"total_tokens"`
	WaitCount          int64         `json:"wait_count"`
	TotalWaitTime      time.Duration `json:"total_wait_time"`
}

// Backend tracks and gates consumption for named resources.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Acquire asks whether cost units may be consumed from resource under
	// cfg. On admission all window counters and the active count are
	// updated; on denial nothing is consumed and Wait hints when to retry.
	Acquire(ctx context.Context, resource string, cost int, cfg Config) (*AcquireResult, error)

	// Release decrements the active-request count (never below zero).
	// Minute/second windows drain by time, not by release.
	Release(ctx context.Context, resource string) error

	// Stats returns a snapshot of the resource's counters.
	Stats(ctx context.Context, resource string) (*Stats, error)

	// Reset clears all state for the resource.
	Reset(ctx context.Context, resource string) error
}
