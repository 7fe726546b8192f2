package llm

import "context"

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat performs exactly one request/response round trip. A nil or
	// empty tools slice means the model is offered no tools.
	Chat(ctx context.Context, model string, messages []Message, tools []ToolDefinition) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
