package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nugget/furrow/internal/httpkit"
)

// OpenAIClient talks to the OpenAI chat completions API or any
// endpoint compatible with it.
type OpenAIClient struct {
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAIClient creates an OpenAI client. An empty baseURL uses the
// public API.
func NewOpenAIClient(apiKey, baseURL string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = httpkit.NewClient(
		httpkit.WithTimeout(5*time.Minute),
		httpkit.WithRetry(2, time.Second),
		httpkit.WithLogger(logger),
	)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		logger: logger,
	}
}

// Chat sends one chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, tools []ToolDefinition) (*ChatResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(messages),
	}
	if len(tools) > 0 {
		req.Tools = toOpenAITools(tools)
	}

	if c.logger.Enabled(ctx, LevelTrace) {
		if payload, err := json.Marshal(req); err == nil {
			c.logger.Log(ctx, LevelTrace, "openai request", "model", model, "payload", string(payload))
		}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("openai API error %d: %w", apiErr.HTTPStatusCode, err)
		}
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai response has no choices")
	}

	choice := resp.Choices[0].Message
	out := &ChatResponse{
		Model:         resp.Model,
		CreatedAt:     time.Unix(resp.Created, 0),
		InputTokens:   resp.Usage.PromptTokens,
		OutputTokens:  resp.Usage.CompletionTokens,
		TotalDuration: time.Since(start),
		Message: Message{
			Role:    RoleAssistant,
			Content: choice.Content,
		},
	}
	for _, tc := range choice.ToolCalls {
		out.Message.ToolCalls = append(out.Message.ToolCalls, ToolCall{
			ID: tc.ID,
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}

	c.logger.Log(ctx, LevelTrace, "openai response",
		"model", out.Model,
		"content", out.Message.Content,
		"tool_calls", len(out.Message.ToolCalls),
	)
	return out, nil
}

// Ping checks that the API answers an authenticated request.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai ping: %w", err)
	}
	return nil
}

// toOpenAIMessages converts to the wire format. A tool message is sent
// with the tool role only when its call ID answers an assistant tool
// call earlier in the same sequence. Tool results replayed from stored
// history have no such partner and are sent as assistant notes, since
// the API rejects unpaired tool messages.
func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	pending := make(map[string]bool)

	for _, m := range msgs {
		switch m.Role {
		case RoleAssistant:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Content,
			}
			for _, tc := range m.ToolCalls {
				pending[tc.ID] = true
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			out = append(out, msg)

		case RoleTool:
			if m.ToolCallID != "" && pending[m.ToolCallID] {
				delete(pending, m.ToolCallID)
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    m.Content,
					ToolCallID: m.ToolCallID,
				})
				continue
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: fmt.Sprintf("[tool %s result] %s", m.Name, m.Content),
			})

		default:
			out = append(out, openai.ChatCompletionMessage{
				Role:    m.Role,
				Content: m.Content,
			})
		}
	}
	return out
}

func toOpenAITools(tools []ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return out
}
