// Package api implements Furrow's JSON HTTP API: chat, activity
// parsing, conversation history, farm and field records, and a
// WebSocket event stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nugget/furrow/internal/activity"
	"github.com/nugget/furrow/internal/agent"
	"github.com/nugget/furrow/internal/buildinfo"
	"github.com/nugget/furrow/internal/connwatch"
	"github.com/nugget/furrow/internal/events"
	"github.com/nugget/furrow/internal/fieldlog"
	"github.com/nugget/furrow/internal/memory"
)

// DefaultEmail identifies the caller when a request names no one.
const DefaultEmail = "demo@local"

// ChatRunner runs one chat turn. *agent.Loop satisfies it.
type ChatRunner interface {
	Run(ctx context.Context, req agent.Request) (*agent.Response, error)
}

// ActivityParser extracts a structured activity. *activity.Parser
// satisfies it.
type ActivityParser interface {
	Parse(ctx context.Context, req activity.Request) (*activity.Result, error)
}

// FieldStore is the farm, field, and catalog store.
// *fieldlog.Store satisfies it.
type FieldStore interface {
	CreateFarm(ctx context.Context, userID, name, address, state string) (*fieldlog.Farm, error)
	ListFarms(ctx context.Context, userID string) ([]fieldlog.Farm, error)
	CreateField(ctx context.Context, f fieldlog.Field) (*fieldlog.Field, error)
	ListFields(ctx context.Context, farmID string) ([]fieldlog.Field, error)
	GetField(ctx context.Context, id string) (*fieldlog.Field, error)
}

// ServiceReporter reports watched dependencies for the health endpoint.
// *connwatch.Manager satisfies it.
type ServiceReporter interface {
	Status() []connwatch.Status
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	logger  *slog.Logger
	server  *http.Server

	chat          ChatRunner
	parser        ActivityParser
	conversations memory.ConversationStore
	fields        FieldStore
	bus           *events.Bus
	services      ServiceReporter
	limiter       *rateLimiter
}

// NewServer creates a new API server.
func NewServer(address string, port int, chat ChatRunner, conversations memory.ConversationStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:       address,
		port:          port,
		chat:          chat,
		conversations: conversations,
		logger:        logger,
	}
}

// SetParser enables POST /v1/activity/parse.
func (s *Server) SetParser(p ActivityParser) { s.parser = p }

// SetFieldStore enables the farm and field endpoints and field acreage
// checks on parsed activities.
func (s *Server) SetFieldStore(f FieldStore) { s.fields = f }

// SetEventBus enables GET /v1/events.
func (s *Server) SetEventBus(bus *events.Bus) { s.bus = bus }

// SetServiceStatus adds watched dependencies to /v1/health.
func (s *Server) SetServiceStatus(r ServiceReporter) { s.services = r }

// SetRateLimit limits chat and parse requests per client to requests
// per window.
func (s *Server) SetRateLimit(requests int, window time.Duration) {
	s.limiter = newRateLimiter(requests, window)
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", s.limit("chat", s.handleChat))
	mux.HandleFunc("POST /v1/activity/parse", s.limit("parse", s.handleActivityParse))

	mux.HandleFunc("GET /v1/conversations", s.handleConversationList)
	mux.HandleFunc("GET /v1/conversations/{id}/messages", s.handleConversationMessages)

	mux.HandleFunc("GET /v1/farms", s.handleFarmList)
	mux.HandleFunc("POST /v1/farms", s.handleFarmCreate)
	mux.HandleFunc("GET /v1/farms/{id}/fields", s.handleFieldList)
	mux.HandleFunc("POST /v1/farms/{id}/fields", s.handleFieldCreate)

	mux.HandleFunc("GET /v1/events", s.handleEvents)

	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// Chat turns run up to eight model calls.
		WriteTimeout: 180 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.ok(w, http.StatusOK, map[string]any{
		"name":    "Furrow",
		"version": buildinfo.Version,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.ok(w, http.StatusOK, map[string]any{"build": buildinfo.Info()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "healthy",
		"uptime": buildinfo.Uptime().Truncate(time.Second).String(),
	}
	if s.services != nil {
		st := s.services.Status()
		for _, svc := range st {
			if !svc.Ready {
				resp["status"] = "degraded"
			}
		}
		resp["services"] = st
	}
	s.ok(w, http.StatusOK, resp)
}

// resolveUser maps an email to a user ID. Store failures fall back to
// the deterministic ID so a degraded store never blocks identity.
func (s *Server) resolveUser(ctx context.Context, email string) string {
	if email == "" {
		email = DefaultEmail
	}
	if s.conversations != nil {
		id, err := s.conversations.EnsureUser(ctx, email)
		if err == nil {
			return id
		}
		s.logger.Warn("user resolution failed, using derived ID", "error", err)
	}
	return memory.UserIDForEmail(email)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
