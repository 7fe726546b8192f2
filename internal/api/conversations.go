package api

import (
	"errors"
	"net/http"

	"github.com/nugget/furrow/internal/memory"
)

func (s *Server) requireConversations(w http.ResponseWriter) bool {
	if s.conversations == nil {
		s.fail(w, http.StatusServiceUnavailable, CodeUnavailable, "conversation store not configured", nil)
		return false
	}
	return true
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	if !s.requireConversations(w) {
		return
	}
	userID := s.resolveUser(r.Context(), r.URL.Query().Get("email"))
	convs, err := s.conversations.ListConversations(r.Context(), userID, parseIntParam(r, "limit", 50))
	if err != nil {
		s.logger.Error("list conversations failed", "error", err)
		s.fail(w, http.StatusInternalServerError, CodeInternal, "failed to list conversations", nil)
		return
	}
	if convs == nil {
		convs = []memory.Conversation{}
	}
	s.ok(w, http.StatusOK, map[string]any{
		"conversations": convs,
		"count":         len(convs),
	})
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	if !s.requireConversations(w) {
		return
	}
	id := r.PathValue("id")
	if _, err := s.conversations.GetConversation(r.Context(), id); err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			s.fail(w, http.StatusNotFound, CodeNotFound, "conversation not found", nil)
			return
		}
		s.logger.Error("get conversation failed", "conversation", id, "error", err)
		s.fail(w, http.StatusInternalServerError, CodeInternal, "failed to load conversation", nil)
		return
	}

	msgs, err := s.conversations.GetMessages(r.Context(), id, parseIntParam(r, "limit", 100))
	if err != nil {
		s.logger.Error("get messages failed", "conversation", id, "error", err)
		s.fail(w, http.StatusInternalServerError, CodeInternal, "failed to load messages", nil)
		return
	}
	if msgs == nil {
		msgs = []memory.Record{}
	}
	s.ok(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"messages":        msgs,
		"count":           len(msgs),
	})
}
