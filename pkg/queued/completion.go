package queued

import (
	"context"
	"errors"
	"fmt"

	"github.com/plugrun/resource-broker/pkg/broker"
	"github.com/plugrun/resource-broker/pkg/llm"
)

// Completer is the minimum client surface NewCompletion requires.
// Clients that additionally implement streaming (as llm.CompletionClient
// does) get CompleteStream passed through.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

type streamer interface {
	CompleteStream(ctx context.Context, req llm.CompletionRequest, handler llm.StreamHandler) error
}

// ErrStreamingUnsupported is returned by CompleteStream when the wrapped
// client cannot stream.
var ErrStreamingUnsupported = errors.New("wrapped client does not support streaming")

// Completion routes blocking completion calls through the broker while
// streaming goes straight to the underlying client.
type Completion struct {
	broker   Broker
	client   Completer
	resource string
	priority broker.Priority
}

// NewCompletion registers the completion resource on the broker and
// returns the queued façade.
func NewCompletion(b Broker, client Completer, opts Options) (*Completion, error) {
	c := &Completion{
		broker:   b,
		client:   client,
		resource: opts.resource(DefaultCompletionResource),
		priority: opts.priority(),
	}

	cfg := opts.Config
	cfg.Executor = c.execute
	if err := b.Register(c.resource, cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// execute dispatches broker-admitted operations to the wrapped client.
func (c *Completion) execute(ctx context.Context, operation string, args []interface{}) (interface{}, error) {
	switch operation {
	case OpComplete:
		if len(args) != 1 {
			return nil, fmt.Errorf("complete: want 1 argument, got %d", len(args))
		}
		req, ok := args[0].(llm.CompletionRequest)
		if !ok {
			return nil, fmt.Errorf("complete: unexpected argument type %T", args[0])
		}
		return c.client.Complete(ctx, req)
	default:
		return nil, fmt.Errorf("unsupported completion operation: %s", operation)
	}
}

// Complete runs a completion call under broker admission and retries.
func (c *Completion) Complete(ctx context.Context, req llm.CompletionRequest, opts ...CallOption) (*llm.CompletionResponse, error) {
	cost := req.MaxTokens
	for _, m := range req.Messages {
		cost += estimateTokens(m.Content)
	}

	breq := broker.Request{
		Resource:        c.resource,
		Operation:       OpComplete,
		Args:            []interface{}{req},
		Priority:        c.priority,
		EstimatedTokens: cost,
	}
	for _, opt := range opts {
		opt(&breq)
	}

	data, err := unwrap(c.broker.Enqueue(ctx, breq))
	if err != nil {
		return nil, err
	}
	out, ok := data.(*llm.CompletionResponse)
	if !ok {
		return nil, fmt.Errorf("complete: unexpected response type %T", data)
	}
	return out, nil
}

// CompleteStream bypasses the broker and streams directly from the
// wrapped client. A stream's lifetime is unbounded, so it never holds an
// admission slot.
func (c *Completion) CompleteStream(ctx context.Context, req llm.CompletionRequest, handler llm.StreamHandler) error {
	s, ok := c.client.(streamer)
	if !ok {
		return ErrStreamingUnsupported
	}
	return s.CompleteStream(ctx, req, handler)
}
