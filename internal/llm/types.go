// Package llm provides the model gateway: provider-neutral message
// types, the decoded outcome of a model reply, and client
// implementations for OpenAI-compatible and Ollama endpoints.
package llm

import (
	"encoding/json"
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleSystem    = "system"
	RoleDeveloper = "developer"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// Name carries the tool identifier when Role is RoleTool.
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its arguments exactly as the
// model produced them. Arguments are untrusted JSON text.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition is a tool offered to the model on a request.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ChatResponse is the unified response from any LLM provider.
// Wire format conversion happens at provider boundaries.
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int

	// TotalDuration is the provider-reported or measured wall time.
	TotalDuration time.Duration
}

// Outcome is a decoded model reply: either a FinalAnswer or a set of
// ToolRequests. A reply with tool calls is always ToolRequests, even
// when it also carries text.
type Outcome interface {
	isOutcome()
}

// FinalAnswer ends the turn with text for the user.
type FinalAnswer struct {
	Text string
}

// ToolRequests asks the caller to run tools and report back.
type ToolRequests struct {
	// Text is any narration the model emitted alongside the calls.
	Text  string
	Calls []ToolCall
}

func (FinalAnswer) isOutcome()  {}
func (ToolRequests) isOutcome() {}

// Outcome decodes the response into a FinalAnswer or ToolRequests.
func (r *ChatResponse) Outcome() Outcome {
	if len(r.Message.ToolCalls) > 0 {
		calls := make([]ToolCall, len(r.Message.ToolCalls))
		copy(calls, r.Message.ToolCalls)
		return ToolRequests{Text: r.Message.Content, Calls: calls}
	}
	return FinalAnswer{Text: r.Message.Content}
}
