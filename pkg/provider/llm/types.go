package llm

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Finish reasons reported in [CompletionResponse.FinishReason]. Backends
// may report others.
const (
	FinishStop   = "stop"
	FinishLength = "length"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// UserMessage is shorthand for a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// ModelCapabilities are the static limits of one model.
type ModelCapabilities struct {
	// ContextWindow counts input and output tokens together.
	ContextWindow   int
	MaxOutputTokens int

	// SupportsStructuredOutput is true when the backend enforces a JSON
	// schema itself. Otherwise the schema is described in the prompt and the
	// reply may need repair.
	SupportsStructuredOutput bool
}

// Truncated reports whether the model stopped at its token limit.
func (r *CompletionResponse) Truncated() bool {
	return r != nil && r.FinishReason == FinishLength
}
