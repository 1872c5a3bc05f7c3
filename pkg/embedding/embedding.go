// Package embedding defines the embedding-service boundary consumed by the
// broker's queued wrappers, plus an OpenAI-compatible implementation.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/plugrun/resource-broker/pkg/observability/logging"
	"github.com/plugrun/resource-broker/pkg/retry"
)

// Service is the resource-client surface for embedding providers.
type Service interface {
	// Embed returns the embedding vector for a single input.
	Embed(ctx context.Context, input string, model string) ([]float64, error)

	// EmbedBatch returns one vector per input, in input order.
	EmbedBatch(ctx context.Context, inputs []string, model string) ([][]float64, error)
}

// OpenAIServiceOptions configures an OpenAI-compatible embedding endpoint.
type OpenAIServiceOptions struct {
	Endpoint string
	APIKey   string
}

// OpenAIService implements Service against an OpenAI-compatible endpoint.
type OpenAIService struct {
	client openai.EmbeddingService
}

// NewOpenAIService creates an embedding service for the given endpoint.
func NewOpenAIService(options OpenAIServiceOptions) *OpenAIService {
	opts := []option.RequestOption{}
	if options.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(options.Endpoint))
	}
	if options.APIKey != "" {
		opts = append(opts, option.WithAPIKey(options.APIKey))
	}
	return &OpenAIService{client: openai.NewEmbeddingService(opts...)}
}

// Embed returns the embedding vector for a single input.
func (s *OpenAIService) Embed(ctx context.Context, input string, model string) ([]float64, error) {
	vectors, err := s.EmbedBatch(ctx, []string{input}, model)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per input, in input order.
func (s *OpenAIService) EmbedBatch(ctx context.Context, inputs []string, model string) ([][]float64, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs to embed")
	}

	logging.Debugf("Embedding %d inputs with model %q", len(inputs), model)

	res, err := s.client.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, mapError(err)
	}
	if len(res.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(res.Data), len(inputs))
	}

	vectors := make([][]float64, len(res.Data))
	for _, d := range res.Data {
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// mapError converts SDK errors into retry.StatusError for uniform
// classification downstream.
func mapError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	return &retry.StatusError{Status: apiErr.StatusCode, Message: apiErr.Error()}
}
