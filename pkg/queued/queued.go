// Package queued wraps resource clients (completion, embedding, vector
// store) in façades that funnel every blocking call through a broker for
// admission control and retries. Wrapped clients keep their original
// interfaces, so callers opt in by swapping the constructor. Streaming
// calls bypass the broker: a stream's lifetime is unbounded and holding
// an admission slot for it would starve the resource.
package queued

import (
	"context"

	"github.com/plugrun/resource-broker/pkg/broker"
)

// Broker is the subset of broker.Broker the wrappers need. Defined here
// so tests can substitute a recording implementation.
type Broker interface {
	Register(resource string, cfg broker.ResourceConfig) error
	Enqueue(ctx context.Context, req broker.Request) (*broker.Response, error)
}

// Default resource names used when Options does not override them.
const (
	DefaultCompletionResource = "llm"
	DefaultEmbeddingResource  = "embedding"
	DefaultVectorResource     = "vector_store"
)

// Operation names carried on broker requests.
const (
	OpComplete   = "complete"
	OpEmbed      = "embed"
	OpEmbedBatch = "embed_batch"
	OpSearch     = "search"
	OpUpsert     = "upsert"
	OpDelete     = "delete"
	OpCount      = "count"
)

// Options configures a queued wrapper.
type Options struct {
	// Resource overrides the default resource name for this wrapper.
	Resource string

	// Priority tags every request from this wrapper. Defaults to normal.
	Priority broker.Priority

	// Config is the broker registration for the resource. The Executor
	// field is ignored; each wrapper installs its own.
	Config broker.ResourceConfig
}

func (o Options) resource(fallback string) string {
	if o.Resource != "" {
		return o.Resource
	}
	return fallback
}

func (o Options) priority() broker.Priority {
	if o.Priority == "" {
		return broker.PriorityNormal
	}
	return o.Priority
}

// CallOption adjusts a single queued call.
type CallOption func(*broker.Request)

// WithPriority overrides the wrapper's priority for one call.
func WithPriority(p broker.Priority) CallOption {
	return func(r *broker.Request) { r.Priority = p }
}

// WithResource routes one call to a different registered resource.
func WithResource(name string) CallOption {
	return func(r *broker.Request) { r.Resource = name }
}

// WithEstimatedTokens overrides the heuristic token estimate for one call.
func WithEstimatedTokens(n int) CallOption {
	return func(r *broker.Request) { r.EstimatedTokens = n }
}

// estimateTokens approximates token cost from text length, roughly four
// characters per token, never below 1.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// unwrap converts a broker response into (data, error): broker-level
// errors pass through, executor failures surface as the carried error or
// a generic fallback.
func unwrap(resp *broker.Response, err error) (interface{}, error) {
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		if resp.Err != nil {
			return nil, resp.Err
		}
		return nil, broker.ErrExecutionFailed
	}
	return resp.Data, nil
}
