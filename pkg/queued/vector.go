package queued

import (
	"context"
	"fmt"

	"github.com/plugrun/resource-broker/pkg/broker"
	"github.com/plugrun/resource-broker/pkg/vectordb"
)

// Vector routes vector store calls through the broker.
type Vector struct {
	broker   Broker
	store    vectordb.VectorStore
	resource string
	priority broker.Priority
}

// NewVector registers the vector store resource on the broker and
// returns the queued façade.
func NewVector(b Broker, store vectordb.VectorStore, opts Options) (*Vector, error) {
	v := &Vector{
		broker:   b,
		store:    store,
		resource: opts.resource(DefaultVectorResource),
		priority: opts.priority(),
	}

	cfg := opts.Config
	cfg.Executor = v.execute
	if err := b.Register(v.resource, cfg); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Vector) execute(ctx context.Context, operation string, args []interface{}) (interface{}, error) {
	switch operation {
	case OpSearch:
		if len(args) != 2 {
			return nil, fmt.Errorf("search: want 2 arguments, got %d", len(args))
		}
		vector, vectorOK := args[0].([]float32)
		topK, topKOK := args[1].(int)
		if !vectorOK || !topKOK {
			return nil, fmt.Errorf("search: unexpected argument types %T, %T", args[0], args[1])
		}
		return v.store.Search(ctx, vector, topK)
	case OpUpsert:
		if len(args) != 1 {
			return nil, fmt.Errorf("upsert: want 1 argument, got %d", len(args))
		}
		docs, ok := args[0].([]vectordb.Document)
		if !ok {
			return nil, fmt.Errorf("upsert: unexpected argument type %T", args[0])
		}
		return nil, v.store.Upsert(ctx, docs)
	case OpDelete:
		if len(args) != 1 {
			return nil, fmt.Errorf("delete: want 1 argument, got %d", len(args))
		}
		ids, ok := args[0].([]int64)
		if !ok {
			return nil, fmt.Errorf("delete: unexpected argument type %T", args[0])
		}
		return nil, v.store.Delete(ctx, ids)
	case OpCount:
		return v.store.Count(ctx)
	default:
		return nil, fmt.Errorf("unsupported vector operation: %s", operation)
	}
}

// Search returns the topK nearest documents, under broker admission.
func (v *Vector) Search(ctx context.Context, vector []float32, topK int, opts ...CallOption) ([]vectordb.SearchResult, error) {
	breq := broker.Request{
		Resource:  v.resource,
		Operation: OpSearch,
		Args:      []interface{}{vector, topK},
		Priority:  v.priority,
	}
	for _, opt := range opts {
		opt(&breq)
	}

	data, err := unwrap(v.broker.Enqueue(ctx, breq))
	if err != nil {
		return nil, err
	}
	hits, ok := data.([]vectordb.SearchResult)
	if !ok {
		return nil, fmt.Errorf("search: unexpected response type %T", data)
	}
	return hits, nil
}

// Upsert inserts or replaces documents, under broker admission. Token
// cost is estimated from document content.
func (v *Vector) Upsert(ctx context.Context, docs []vectordb.Document, opts ...CallOption) error {
	cost := 0
	for _, d := range docs {
		cost += estimateTokens(d.Content)
	}

	breq := broker.Request{
		Resource:        v.resource,
		Operation:       OpUpsert,
		Args:            []interface{}{docs},
		Priority:        v.priority,
		EstimatedTokens: cost,
	}
	for _, opt := range opts {
		opt(&breq)
	}

	_, err := unwrap(v.broker.Enqueue(ctx, breq))
	return err
}

// Delete removes documents by ID, under broker admission.
func (v *Vector) Delete(ctx context.Context, ids []int64, opts ...CallOption) error {
	breq := broker.Request{
		Resource:  v.resource,
		Operation: OpDelete,
		Args:      []interface{}{ids},
		Priority:  v.priority,
	}
	for _, opt := range opts {
		opt(&breq)
	}

	_, err := unwrap(v.broker.Enqueue(ctx, breq))
	return err
}

// Count returns the number of stored documents, under broker admission.
func (v *Vector) Count(ctx context.Context, opts ...CallOption) (int64, error) {
	breq := broker.Request{
		Resource:  v.resource,
		Operation: OpCount,
		Priority:  v.priority,
	}
	for _, opt := range opts {
		opt(&breq)
	}

	data, err := unwrap(v.broker.Enqueue(ctx, breq))
	if err != nil {
		return 0, err
	}
	n, ok := data.(int64)
	if !ok {
		return 0, fmt.Errorf("count: unexpected response type %T", data)
	}
	return n, nil
}
