package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func TestToOpenAIMessages_PairsToolResults(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleDeveloper, Content: "dev"},
		// Replayed from history: no preceding assistant tool call.
		{Role: RoleTool, Name: "get_weather", Content: `{"temp_f":70}`},
		{Role: RoleUser, Content: "and now?"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "call_1", Function: FunctionCall{Name: "web_search", Arguments: `{"query":"x"}`}},
		}},
		{Role: RoleTool, Name: "web_search", Content: `{"results":[]}`, ToolCallID: "call_1"},
	}

	got := toOpenAIMessages(msgs)
	if len(got) != len(msgs) {
		t.Fatalf("len = %d, want %d", len(got), len(msgs))
	}
	if got[1].Role != "developer" {
		t.Errorf("developer role = %q", got[1].Role)
	}
	if got[2].Role != openai.ChatMessageRoleAssistant {
		t.Errorf("orphan tool result role = %q, want assistant", got[2].Role)
	}
	if !strings.HasPrefix(got[2].Content, "[tool get_weather result]") {
		t.Errorf("orphan tool content = %q", got[2].Content)
	}
	if got[4].ToolCalls[0].Function.Arguments != `{"query":"x"}` {
		t.Errorf("arguments not passed through: %+v", got[4].ToolCalls[0])
	}
	if got[5].Role != openai.ChatMessageRoleTool || got[5].ToolCallID != "call_1" {
		t.Errorf("paired tool result = %+v", got[5])
	}
}

func TestOpenAIClient_Chat(t *testing.T) {
	var gotReq openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotReq)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1767225600,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_abc",
						"type": "function",
						"function": {"name": "get_weather", "arguments": "{\"lat\": 41.6, \"lon\": -93.6}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 210, "completion_tokens": 22, "total_tokens": 232}
		}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", srv.URL+"/v1", nil)
	tools := []ToolDefinition{{Name: "get_weather", Description: "weather", Parameters: json.RawMessage(`{"type":"object"}`)}}
	resp, err := c.Chat(context.Background(), "gpt-4o-mini", []Message{{Role: RoleUser, Content: "wind?"}}, tools)
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}

	if len(gotReq.Tools) != 1 || gotReq.Tools[0].Function.Name != "get_weather" {
		t.Errorf("tools on wire = %+v", gotReq.Tools)
	}
	if resp.InputTokens != 210 || resp.OutputTokens != 22 {
		t.Errorf("tokens = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
	out, ok := resp.Outcome().(ToolRequests)
	if !ok {
		t.Fatalf("Outcome() = %T, want ToolRequests", resp.Outcome())
	}
	if out.Calls[0].ID != "call_abc" || out.Calls[0].Function.Arguments != `{"lat": 41.6, "lon": -93.6}` {
		t.Errorf("call = %+v", out.Calls[0])
	}
}

func TestOpenAIClient_ChatAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIClient("sk-bad", srv.URL, nil).Chat(context.Background(), "gpt-4o-mini", nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %v, want status code", err)
	}
}
