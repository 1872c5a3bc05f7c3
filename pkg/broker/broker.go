// Package broker provides per-resource admission control for shared,
// rate-limited external capabilities (model endpoints, embedding services,
// vector indexes). Callers register a named resource with its rate limits,
// retry policy, timeout, and an executor callback, then funnel every call
// through Enqueue; the broker handles throttling, backoff, and retries and
// returns one uniform terminal outcome per call.
package broker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plugrun/resource-broker/pkg/observability/logging"
	"github.com/plugrun/resource-broker/pkg/ratelimit"
	"github.com/plugrun/resource-broker/pkg/retry"
)

// Priority tags a request for scheduling and routing hints. It is carried
// through to statistics and metrics but does not preempt already-queued
// work; admission stays first-come-first-served.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Executor performs the actual resource operation once admission is
// granted. The broker never inspects the work, only its outcome and timing.
// Implementations should honor ctx, which carries the resource's timeout.
type Executor func(ctx context.Context, operation string, args []interface{}) (interface{}, error)

// ResourceConfig is the full registration for one named resource.
type ResourceConfig struct {
	// RateLimits gates admission for this resource.
	RateLimits ratelimit.Config

	// Retry controls backoff for failed executions. A zero value means
	// retry.RateLimitPreset().
	Retry retry.BackoffConfig

	// Timeout bounds each executor invocation. Zero means DefaultTimeout.
	Timeout time.Duration

	// Executor runs the operation. Required.
	Executor Executor
}

// DefaultTimeout bounds executor invocations when the resource does not
// configure one.
const DefaultTimeout = 60 * time.Second

// Request describes one enqueued operation.
type Request struct {
	Resource        string
	Operation       string
	Args            []interface{}
	Priority        Priority
	EstimatedTokens int // 0 means a cost of 1
}

// Response is the uniform terminal outcome of an Enqueue call. Executor
// failures land here as Success=false + Err; they are never returned as the
// Enqueue error, which is reserved for broker-level conditions.
type Response struct {
	Success bool
	Data    interface{}
	Err     error

	// Retries counts attempts beyond the first.
	Retries int

	// WaitTime is the total time spent blocked on admission, ProcessingTime
	// the total executor time across attempts, TotalTime their sum.
	WaitTime       time.Duration
	ProcessingTime time.Duration
	TotalTime      time.Duration
}

// Stats aggregates broker-wide and per-resource counters.
type Stats struct {
	Resources     map[string]ratelimit.Stats `json:"resources"`
	TotalRequests int64                      `json:"total_requests"`
	TotalSuccess  int64                      `json:"total_success"`
	TotalErrors   int64                      `json:"total_errors"`
	QueueSize     int                        `json:"queue_size"`
	Uptime        time.Duration              `json:"uptime"`
}

// Broker coordinates admission, execution, and retry for registered
// resources. Construct with New and pass the instance to consumers; there
// is deliberately no package-level singleton.
type Broker struct {
	mu        sync.RWMutex
	resources map[string]ResourceConfig

	backend ratelimit.Backend
	started time.Time

	shuttingDown atomic.Bool
	inflight     sync.WaitGroup

	queueSize     atomic.Int64
	totalRequests atomic.Int64
	totalSuccess  atomic.Int64
	totalErrors   atomic.Int64
}

// New creates a broker over the given rate-limit backend.
func New(backend ratelimit.Backend) *Broker {
	return &Broker{
		resources: make(map[string]ResourceConfig),
		backend:   backend,
		started:   time.Now(),
	}
}

// zeroRetry reports whether cfg is the full zero value. Only that exact
// value falls back to the preset; a config that sets any field, including
// just RetryableTypes, is taken as-is.
func zeroRetry(cfg retry.BackoffConfig) bool {
	return cfg.MaxRetries == 0 && cfg.BaseDelay == 0 && cfg.MaxDelay == 0 &&
		cfg.Jitter == 0 && cfg.RetryableTypes == nil
}

// Register stores the configuration for a named resource. Re-registration
// overwrites the prior configuration.
func (b *Broker) Register(resource string, cfg ResourceConfig) error {
	if cfg.Executor == nil {
		return ErrNilExecutor
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if zeroRetry(cfg.Retry) {
		cfg.Retry = retry.RateLimitPreset()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.resources[resource] = cfg

	logging.Infof("Registered resource %q (timeout=%v, max_retries=%d, rpm=%d, tpm=%d)",
		resource, cfg.Timeout, cfg.Retry.MaxRetries,
		cfg.RateLimits.RequestsPerMinute, cfg.RateLimits.TokensPerMinute)
	return nil
}

// Enqueue runs one operation against a registered resource: wait for
// rate-limit admission, execute under the resource timeout, retry transient
// failures per the retry policy, and return the terminal outcome.
//
// The returned error covers broker-level conditions only (unknown resource,
// shutdown, context cancellation while waiting); executor failures are
// reported inside the Response.
func (b *Broker) Enqueue(ctx context.Context, req Request) (*Response, error) {
	if b.shuttingDown.Load() {
		return nil, ErrShuttingDown
	}

	b.mu.RLock()
	cfg, ok := b.resources[req.Resource]
	b.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownResource
	}

	b.inflight.Add(1)
	defer b.inflight.Done()
	b.queueSize.Add(1)
	defer b.queueSize.Add(-1)
	b.totalRequests.Add(1)

	cost := req.EstimatedTokens
	if cost < 1 {
		cost = 1
	}

	start := time.Now()
	resp := &Response{}

	for attempt := 0; ; attempt++ {
		if err := b.awaitAdmission(ctx, req.Resource, cost, cfg.RateLimits, resp); err != nil {
			b.totalErrors.Add(1)
			RequestsTotal.WithLabelValues(req.Resource, "canceled").Inc()
			return nil, err
		}

		execStart := time.Now()
		data, err := b.execute(ctx, cfg, req)
		resp.ProcessingTime += time.Since(execStart)
		ProcessingSeconds.WithLabelValues(req.Resource).Observe(time.Since(execStart).Seconds())

		if relErr := b.backend.Release(ctx, req.Resource); relErr != nil {
			logging.Warnf("Failed to release %q: %v", req.Resource, relErr)
		}

		if err == nil {
			resp.Success = true
			resp.Data = data
			resp.TotalTime = time.Since(start)
			b.totalSuccess.Add(1)
			RequestsTotal.WithLabelValues(req.Resource, "success").Inc()
			WaitSeconds.WithLabelValues(req.Resource).Observe(resp.WaitTime.Seconds())
			return resp, nil
		}

		decision := retry.Decide(err, attempt, cfg.Retry)
		if !decision.ShouldRetry {
			resp.Err = err
			resp.TotalTime = time.Since(start)
			b.totalErrors.Add(1)
			RequestsTotal.WithLabelValues(req.Resource, "error").Inc()
			logging.Warnf("Enqueue %q %s failed terminally after %d retries (%s): %v",
				req.Resource, req.Operation, resp.Retries, decision.ErrorType, err)
			return resp, nil
		}

		resp.Retries++
		RetriesTotal.WithLabelValues(req.Resource, string(decision.ErrorType)).Inc()
		logging.Debugf("Enqueue %q %s attempt %d failed (%s), retrying in %v: %v",
			req.Resource, req.Operation, attempt+1, decision.ErrorType, decision.Delay, err)

		select {
		case <-ctx.Done():
			b.totalErrors.Add(1)
			RequestsTotal.WithLabelValues(req.Resource, "canceled").Inc()
			return nil, ctx.Err()
		case <-time.After(decision.Delay):
		}
	}
}

// awaitAdmission loops on the backend until capacity is granted, sleeping
// the backend's wait hint between attempts. Aborts when ctx ends.
func (b *Broker) awaitAdmission(ctx context.Context, resource string, cost int, cfg ratelimit.Config, resp *Response) error {
	for {
		res, err := b.backend.Acquire(ctx, resource, cost, cfg)
		if err != nil {
			return err
		}
		if res.Allowed {
			return nil
		}

		AdmissionDenialsTotal.WithLabelValues(resource).Inc()
		resp.WaitTime += res.Wait

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(res.Wait):
		}
	}
}

// execute runs the executor under the resource timeout. The deadline is
// enforced even against executors that ignore ctx; on timeout the (leaked)
// attempt's result is discarded when it eventually returns. Executor
// panics are recovered and reported as a failed execution, never allowed
// to escape the goroutine.
func (b *Broker) execute(ctx context.Context, cfg ResourceConfig, req Request) (interface{}, error) {
	execCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	type outcome struct {
		data interface{}
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Errorf("Executor panic for %q %s: %v\n%s", req.Resource, req.Operation, r, debug.Stack())
				done <- outcome{nil, fmt.Errorf("executor panic: %v", r)}
			}
		}()
		data, err := cfg.Executor(execCtx, req.Operation, req.Args)
		done <- outcome{data, err}
	}()

	select {
	case out := <-done:
		return out.data, out.err
	case <-execCtx.Done():
		return nil, execCtx.Err()
	}
}

// Stats aggregates per-resource rate-limit snapshots plus global totals.
func (b *Broker) Stats(ctx context.Context) (*Stats, error) {
	b.mu.RLock()
	names := make([]string, 0, len(b.resources))
	for name := range b.resources {
		names = append(names, name)
	}
	b.mu.RUnlock()

	stats := &Stats{
		Resources:     make(map[string]ratelimit.Stats, len(names)),
		TotalRequests: b.totalRequests.Load(),
		TotalSuccess:  b.totalSuccess.Load(),
		TotalErrors:   b.totalErrors.Load(),
		QueueSize:     int(b.queueSize.Load()),
		Uptime:        time.Since(b.started),
	}

	for _, name := range names {
		s, err := b.backend.Stats(ctx, name)
		if err != nil {
			return nil, err
		}
		stats.Resources[name] = *s
	}
	return stats, nil
}

// ShuttingDown reports whether Shutdown has been initiated, so callers can
// stop submitting proactively.
func (b *Broker) ShuttingDown() bool {
	return b.shuttingDown.Load()
}

// Shutdown rejects new Enqueue calls and waits for in-flight executions to
// finish or ctx to end.
func (b *Broker) Shutdown(ctx context.Context) error {
	if b.shuttingDown.Swap(true) {
		return nil
	}
	logging.Infof("Broker shutting down, awaiting %d queued requests", b.queueSize.Load())

	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
