package queued

import (
	"context"
	"fmt"

	"github.com/plugrun/resource-broker/pkg/broker"
	"github.com/plugrun/resource-broker/pkg/embedding"
)

// Embedder routes embedding calls through the broker.
type Embedder struct {
	broker   Broker
	service  embedding.Service
	resource string
	priority broker.Priority
}

// NewEmbedder registers the embedding resource on the broker and returns
// the queued façade.
func NewEmbedder(b Broker, service embedding.Service, opts Options) (*Embedder, error) {
	e := &Embedder{
		broker:   b,
		service:  service,
		resource: opts.resource(DefaultEmbeddingResource),
		priority: opts.priority(),
	}

	cfg := opts.Config
	cfg.Executor = e.execute
	if err := b.Register(e.resource, cfg); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Embedder) execute(ctx context.Context, operation string, args []interface{}) (interface{}, error) {
	switch operation {
	case OpEmbed:
		if len(args) != 2 {
			return nil, fmt.Errorf("embed: want 2 arguments, got %d", len(args))
		}
		input, inputOK := args[0].(string)
		model, modelOK := args[1].(string)
		if !inputOK || !modelOK {
			return nil, fmt.Errorf("embed: unexpected argument types %T, %T", args[0], args[1])
		}
		return e.service.Embed(ctx, input, model)
	case OpEmbedBatch:
		if len(args) != 2 {
			return nil, fmt.Errorf("embed_batch: want 2 arguments, got %d", len(args))
		}
		inputs, inputsOK := args[0].([]string)
		model, modelOK := args[1].(string)
		if !inputsOK || !modelOK {
			return nil, fmt.Errorf("embed_batch: unexpected argument types %T, %T", args[0], args[1])
		}
		return e.service.EmbedBatch(ctx, inputs, model)
	default:
		return nil, fmt.Errorf("unsupported embedding operation: %s", operation)
	}
}

// Embed returns the embedding vector for one input, under broker
// admission and retries.
func (e *Embedder) Embed(ctx context.Context, input string, model string, opts ...CallOption) ([]float64, error) {
	breq := broker.Request{
		Resource:        e.resource,
		Operation:       OpEmbed,
		Args:            []interface{}{input, model},
		Priority:        e.priority,
		EstimatedTokens: estimateTokens(input),
	}
	for _, opt := range opts {
		opt(&breq)
	}

	data, err := unwrap(e.broker.Enqueue(ctx, breq))
	if err != nil {
		return nil, err
	}
	vec, ok := data.([]float64)
	if !ok {
		return nil, fmt.Errorf("embed: unexpected response type %T", data)
	}
	return vec, nil
}

// EmbedBatch returns one vector per input, under broker admission and
// retries. Token cost is estimated across all inputs.
func (e *Embedder) EmbedBatch(ctx context.Context, inputs []string, model string, opts ...CallOption) ([][]float64, error) {
	cost := 0
	for _, in := range inputs {
		cost += estimateTokens(in)
	}

	breq := broker.Request{
		Resource:        e.resource,
		Operation:       OpEmbedBatch,
		Args:            []interface{}{inputs, model},
		Priority:        e.priority,
		EstimatedTokens: cost,
	}
	for _, opt := range opts {
		opt(&breq)
	}

	data, err := unwrap(e.broker.Enqueue(ctx, breq))
	if err != nil {
		return nil, err
	}
	vecs, ok := data.([][]float64)
	if !ok {
		return nil, fmt.Errorf("embed_batch: unexpected response type %T", data)
	}
	return vecs, nil
}
