// Package llm defines the text-generation and text-embedding capabilities
// consumed by ariadne steps, plus an OpenAI-backed implementation.
package llm

import (
	"context"
	"time"
)

// CompletionRequest configures a text completion call.
type CompletionRequest struct {
	// SystemPrompt frames the task; Prompt is the user-facing content.
	SystemPrompt string `json:"system_prompt,omitempty"`
	Prompt       string `json:"prompt"`

	// Model overrides the client default when non-empty.
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// CompletionResponse is the output of a completion call.
type CompletionResponse struct {
	Content  string        `json:"content"`
	Model    string        `json:"model"`
	Duration time.Duration `json:"duration"`
}

// Client produces text completions. Implementations apply their own bounded
// per-call timeouts; callers treat a returned error as a capability failure
// and decide fallback vs. escalation themselves.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Embedder turns text into a fixed-length vector fingerprint.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}
