package api

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/nugget/furrow/internal/agent"
	"github.com/nugget/furrow/internal/memory"
)

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
	Email          string `json:"email,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.fail(w, http.StatusBadRequest, CodeInvalidRequest, "message is required", nil)
		return
	}

	userID := s.resolveUser(r.Context(), req.Email)
	resp, err := s.chat.Run(r.Context(), agent.Request{
		ConversationID: req.ConversationID,
		UserID:         userID,
		Message:        req.Message,
	})
	if err != nil {
		switch {
		case errors.Is(err, memory.ErrNotFound):
			s.fail(w, http.StatusNotFound, CodeNotFound, "conversation not found", nil)
		case errors.Is(err, agent.ErrTransport):
			s.logger.Error("chat turn failed", "error", err)
			s.fail(w, http.StatusBadGateway, CodeChatFailed, "Unable to process chat request", err.Error())
		default:
			s.logger.Error("chat turn failed", "error", err)
			s.fail(w, http.StatusInternalServerError, CodeChatFailed, "Unable to process chat request", err.Error())
		}
		return
	}

	body := map[string]any{
		"conversation_id": resp.ConversationID,
		"answer":          resp.Answer,
		"answer_html":     s.renderMarkdown(resp.Answer),
		"usage": map[string]any{
			"model":         resp.Model,
			"iterations":    resp.Iterations,
			"input_tokens":  resp.InputTokens,
			"output_tokens": resp.OutputTokens,
			"cost_usd":      resp.CostUSD,
		},
	}
	if resp.Capped {
		body["capped"] = true
	}
	s.ok(w, http.StatusOK, body)
}

// renderMarkdown converts an answer to HTML. Raw HTML in the answer is
// omitted by goldmark's default renderer.
func (s *Server) renderMarkdown(md string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		s.logger.Debug("markdown render failed", "error", err)
		return ""
	}
	return buf.String()
}
