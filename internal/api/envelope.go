package api

import (
	"encoding/json"
	"maps"
	"net/http"
)

// Error codes.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeNotFound       = "NOT_FOUND"
	CodeRateLimit      = "RATE_LIMIT"
	CodeChatFailed     = "CHAT_FAILED"
	CodeParseFailed    = "PARSE_FAILED"
	CodeUnavailable    = "UNAVAILABLE"
	CodeInternal       = "INTERNAL"
)

// APIError is the error half of the response envelope.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	OK    bool     `json:"ok"`
	Error APIError `json:"error"`
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

// ok writes {"ok": true, ...data}.
func (s *Server) ok(w http.ResponseWriter, status int, data map[string]any) {
	body := make(map[string]any, len(data)+1)
	maps.Copy(body, data)
	body["ok"] = true
	s.writeJSON(w, status, body)
}

// fail writes {"ok": false, "error": {...}}.
func (s *Server) fail(w http.ResponseWriter, status int, code, message string, details any) {
	s.writeJSON(w, status, errorEnvelope{
		Error: APIError{Code: code, Message: message, Details: details},
	})
}
