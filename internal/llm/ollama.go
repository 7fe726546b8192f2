package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/furrow/internal/httpkit"
)

// OllamaClient is a client for the Ollama chat API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(5*time.Minute), // large local models with tools are slow
			httpkit.WithRetry(3, 2*time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

type ollamaWireMessage struct {
	Role      string               `json:"role"`
	Content   string               `json:"content"`
	ToolCalls []ollamaWireToolCall `json:"tool_calls,omitempty"`
	ToolName  string               `json:"tool_name,omitempty"`
}

type ollamaWireToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"` // Ollama uses an object, not a string
	} `json:"function"`
}

type ollamaWireTool struct {
	Type     string         `json:"type"`
	Function ToolDefinition `json:"function"`
}

type ollamaWireRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaWireMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Tools    []ollamaWireTool    `json:"tools,omitempty"`
}

type ollamaWireResponse struct {
	Model     string            `json:"model"`
	CreatedAt string            `json:"created_at"`
	Message   ollamaWireMessage `json:"message"`
	Done      bool              `json:"done"`

	TotalDuration   int64 `json:"total_duration,omitempty"`
	PromptEvalCount int   `json:"prompt_eval_count,omitempty"`
	EvalCount       int   `json:"eval_count,omitempty"`
}

func (w *ollamaWireResponse) toChatResponse() *ChatResponse {
	resp := &ChatResponse{
		Model:         w.Model,
		InputTokens:   w.PromptEvalCount,
		OutputTokens:  w.EvalCount,
		TotalDuration: time.Duration(w.TotalDuration),
		Message: Message{
			Role:    w.Message.Role,
			Content: w.Message.Content,
		},
	}
	if t, err := time.Parse(time.RFC3339Nano, w.CreatedAt); err == nil {
		resp.CreatedAt = t
	}
	for _, tc := range w.Message.ToolCalls {
		args := strings.TrimSpace(string(tc.Function.Arguments))
		if args == "" || args == "null" {
			args = "{}"
		}
		resp.Message.ToolCalls = append(resp.Message.ToolCalls, ToolCall{
			ID: "call_" + uuid.NewString(),
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: args,
			},
		})
	}
	return resp
}

// Chat sends a non-streaming chat request to Ollama.
func (c *OllamaClient) Chat(ctx context.Context, model string, messages []Message, tools []ToolDefinition) (*ChatResponse, error) {
	req := ollamaWireRequest{
		Model:    model,
		Messages: toOllamaMessages(messages),
	}
	toolNames := make([]string, 0, len(tools))
	for _, t := range tools {
		req.Tools = append(req.Tools, ollamaWireTool{Type: "function", Function: t})
		toolNames = append(toolNames, t.Name)
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "ollama request", "model", model, "payload", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var wire ollamaWireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	out := wire.toChatResponse()

	// Smaller models often emit tool calls as JSON text instead of the
	// native field.
	if len(out.Message.ToolCalls) == 0 && out.Message.Content != "" && len(tools) > 0 {
		if parsed := parseTextToolCalls(out.Message.Content, toolNames); len(parsed) > 0 {
			out.Message.ToolCalls = parsed
			out.Message.Content = ""
		}
	}
	c.logger.Log(ctx, LevelTrace, "ollama response",
		"model", out.Model,
		"content", out.Message.Content,
		"tool_calls", len(out.Message.ToolCalls),
	)
	return out, nil
}

// toOllamaMessages converts to the Ollama wire format. Ollama has no
// developer role, so developer messages are sent as system messages.
func toOllamaMessages(msgs []Message) []ollamaWireMessage {
	out := make([]ollamaWireMessage, 0, len(msgs))
	for _, m := range msgs {
		wm := ollamaWireMessage{Role: m.Role, Content: m.Content}
		switch m.Role {
		case RoleDeveloper:
			wm.Role = RoleSystem
		case RoleTool:
			wm.ToolName = m.Name
		}
		for _, tc := range m.ToolCalls {
			var wtc ollamaWireToolCall
			wtc.Function.Name = tc.Function.Name
			if json.Valid([]byte(tc.Function.Arguments)) {
				wtc.Function.Arguments = json.RawMessage(tc.Function.Arguments)
			} else {
				wtc.Function.Arguments = json.RawMessage("{}")
			}
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		out = append(out, wm)
	}
	return out
}

// parseTextToolCalls extracts tool calls written into content text.
// Handles a raw object {"name": ..., "arguments": {...}}, an array of
// those, and the <tool_call>...</tool_call> tagged form. When
// validTools is non-empty, calls naming other tools are dropped.
func parseTextToolCalls(content string, validTools []string) []ToolCall {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	if start := strings.Index(content, "<tool_call>"); start != -1 {
		rest := content[start+len("<tool_call>"):]
		if end := strings.Index(rest, "</tool_call>"); end != -1 {
			rest = rest[:end]
		}
		content = strings.TrimSpace(rest)
	}

	type textCall struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	var calls []textCall
	if err := json.Unmarshal([]byte(content), &calls); err != nil {
		var single textCall
		if err := json.Unmarshal([]byte(content), &single); err != nil {
			return nil
		}
		calls = []textCall{single}
	}

	valid := make(map[string]bool, len(validTools))
	for _, n := range validTools {
		valid[n] = true
	}

	var result []ToolCall
	for _, tc := range calls {
		if tc.Name == "" {
			continue
		}
		if len(valid) > 0 && !valid[tc.Name] {
			continue
		}
		args := string(tc.Arguments)
		if args == "" {
			args = "{}"
		}
		result = append(result, ToolCall{
			ID:       "call_" + uuid.NewString(),
			Function: FunctionCall{Name: tc.Name, Arguments: args},
		})
	}
	return result
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d", resp.StatusCode)
	}
	return nil
}
