// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (OpenAI, Anthropic, Gemini,
// a local Ollama instance, ...) and exposes a uniform completion call to the
// campaign services: entity extraction, metadata checklist classification and
// community summaries. None of those callers stream, so the interface is a
// single request/response round trip with optional JSON-schema constrained
// output.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
)

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ResponseSchema asks the model to answer with a single JSON document matching
// Schema. Providers with native structured output pass it through; others
// describe it in the system prompt.
type ResponseSchema struct {
	// Name identifies the schema. Must match [a-zA-Z0-9_-]{1,64}.
	Name string

	// Description tells the model what the document is for.
	Description string

	// Schema is a JSON Schema object.
	Schema map[string]any

	// Strict requests exact schema adherence where the backend supports it.
	// Strict mode requires every property to be listed as required.
	Strict bool
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history.
	Messages []Message

	// SystemPrompt is injected before the conversation history.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. Zero means the
	// provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means the provider
	// default.
	MaxTokens int

	// ResponseSchema, when set, constrains the reply to a JSON document.
	ResponseSchema *ResponseSchema
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// FinishReason reports why generation stopped ("stop", "length", ...).
	FinishReason string

	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// It returns promptly when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata describing the underlying model.
	Capabilities() ModelCapabilities
}
