package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default models for the OpenAI client.
var (
	DefaultModel          = openai.ChatModelGPT4o
	DefaultEmbeddingModel = openai.EmbeddingModelTextEmbedding3Small
)

// OpenAI implements Client and Embedder using the OpenAI API.
type OpenAI struct {
	client         openai.Client
	model          openai.ChatModel
	embeddingModel openai.EmbeddingModel
	timeout        time.Duration
	options        []option.RequestOption
}

// OpenAIOption configures the OpenAI client.
type OpenAIOption func(*OpenAI)

// WithAPIKey sets the API key. Without it the client reads OPENAI_API_KEY
// from the environment.
func WithAPIKey(key string) OpenAIOption {
	return func(c *OpenAI) {
		if key != "" {
			c.options = append(c.options, option.WithAPIKey(key))
		}
	}
}

// WithModel sets the default completion model.
func WithModel(model string) OpenAIOption {
	return func(c *OpenAI) {
		if model != "" {
			c.model = openai.ChatModel(model)
		}
	}
}

// WithEmbeddingModel sets the embedding model.
func WithEmbeddingModel(model string) OpenAIOption {
	return func(c *OpenAI) {
		if model != "" {
			c.embeddingModel = openai.EmbeddingModel(model)
		}
	}
}

// WithTimeout bounds each API call. Default: 60s.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(c *OpenAI) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBaseURL points the client at a different API endpoint, such as a test
// server.
func WithBaseURL(url string) OpenAIOption {
	return func(c *OpenAI) {
		if url != "" {
			c.options = append(c.options, option.WithBaseURL(url))
		}
	}
}

// NewOpenAI creates an OpenAI-backed completion and embedding client.
func NewOpenAI(opts ...OpenAIOption) *OpenAI {
	c := &OpenAI{
		model:          DefaultModel,
		embeddingModel: DefaultEmbeddingModel,
		timeout:        60 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.client = openai.NewClient(c.options...)
	return c
}

var (
	_ Client   = (*OpenAI)(nil)
	_ Embedder = (*OpenAI)(nil)
)

// Complete implements Client.
func (c *OpenAI) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()

	model := c.model
	if req.Model != "" {
		model = openai.ChatModel(req.Model)
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("completion request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("completion request: empty response")
	}

	return &CompletionResponse{
		Content:  resp.Choices[0].Message.Content,
		Model:    resp.Model,
		Duration: time.Since(start),
	}, nil
}

// Embed implements Embedder.
func (c *OpenAI) Embed(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: c.embeddingModel,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding request: empty response")
	}
	return resp.Data[0].Embedding, nil
}
