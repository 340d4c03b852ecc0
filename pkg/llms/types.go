// Package llms provides the chat-completion collaborator interface and
// its OpenAI-compatible implementation.
package llms

import "context"

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports provider-side token counts for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ResponseFormat requests schema-constrained JSON output.
type ResponseFormat struct {
	// Name labels the schema for the provider.
	Name string

	// Schema is any value that marshals to a JSON Schema document
	// (e.g. *jsonschema.Schema).
	Schema any
}

// CompletionRequest is a single chat-completion call.
type CompletionRequest struct {
	System      string
	Messages    []Message
	Format      *ResponseFormat
	MaxTokens   int
	Temperature float64
}

// CompletionResult is the provider's answer plus usage.
type CompletionResult struct {
	Text  string
	Usage Usage
}

// Chat is the narrow chat-completion collaborator. Implementations must
// honour the request context deadline.
type Chat interface {
	// Complete runs one chat completion.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)

	// ModelID returns the configured model id (for cost attribution).
	ModelID() string
}
