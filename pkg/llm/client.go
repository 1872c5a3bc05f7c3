// Package llm defines the completion-client boundary consumed by the broker
// and its queued wrappers, plus an OpenAI-compatible implementation.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/plugrun/resource-broker/pkg/observability/logging"
	"github.com/plugrun/resource-broker/pkg/retry"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// CompletionRequest describes one completion call.
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// TokenUsage follows the OpenAI usage schema.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// CompletionResponse is the result of a completion call.
type CompletionResponse struct {
	Content string     `json:"content"`
	Model   string     `json:"model"`
	Usage   TokenUsage `json:"usage"`
}

// StreamHandler receives one content delta per streamed chunk.
type StreamHandler func(delta string) error

// CompletionClient is the resource-client surface for language models.
type CompletionClient interface {
	// Complete runs a blocking completion call.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CompleteStream streams a completion, invoking handler per delta.
	CompleteStream(ctx context.Context, req CompletionRequest, handler StreamHandler) error
}

// OpenAIClientOptions configures an OpenAI-compatible endpoint.
type OpenAIClientOptions struct {
	Endpoint string // base URL, e.g. a vLLM or OpenAI endpoint
	APIKey   string
}

// OpenAIClient implements CompletionClient against any OpenAI-compatible
// chat completion endpoint.
type OpenAIClient struct {
	client openai.Client
}

// NewOpenAIClient creates a client for the given endpoint.
func NewOpenAIClient(options OpenAIClientOptions) *OpenAIClient {
	opts := []option.RequestOption{}
	if options.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(options.Endpoint))
	}
	if options.APIKey != "" {
		opts = append(opts, option.WithAPIKey(options.APIKey))
	}
	return &OpenAIClient{client: openai.NewClient(opts...)}
}

func (c *OpenAIClient) buildParams(req CompletionRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	return params
}

// Complete runs a blocking completion call.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	logging.Debugf("Completion call to model %q (%d messages)", req.Model, len(req.Messages))

	resp, err := c.client.Chat.Completions.New(ctx, c.buildParams(req))
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	return &CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Model:   string(resp.Model),
		Usage: TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}, nil
}

// CompleteStream streams a completion, invoking handler per content delta.
func (c *OpenAIClient) CompleteStream(ctx context.Context, req CompletionRequest, handler StreamHandler) error {
	stream := c.client.Chat.Completions.NewStreaming(ctx, c.buildParams(req))
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			if err := handler(delta); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return mapError(err)
	}
	return nil
}

// mapError converts SDK errors into retry.StatusError so classification and
// retry-after extraction work uniformly downstream.
func mapError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}

	se := &retry.StatusError{
		Status:  apiErr.StatusCode,
		Message: apiErr.Error(),
	}
	if apiErr.Response != nil {
		if v := apiErr.Response.Header.Get("Retry-After"); v != "" {
			se.Headers = map[string]string{"retry-after": v}
		}
	}
	return se
}
