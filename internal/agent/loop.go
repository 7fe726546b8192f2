// Package agent implements the conversational tool-orchestration loop.
//
// A turn takes one user message and drives the model through zero or
// more rounds of tool calls to a final answer. Every step is persisted
// to the conversation store in causal order, and the number of model
// calls per turn is capped at [MaxIterations].
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/furrow/internal/events"
	"github.com/nugget/furrow/internal/llm"
	"github.com/nugget/furrow/internal/memory"
	"github.com/nugget/furrow/internal/prompts"
	"github.com/nugget/furrow/internal/tools"
	"github.com/nugget/furrow/internal/usage"
)

// MaxIterations is the hard cap on model calls per turn.
const MaxIterations = 8

// DefaultHistoryLimit is how many stored messages are replayed.
const DefaultHistoryLimit = 40

// maxTitleLength bounds the title of a lazily created conversation.
const maxTitleLength = 60

// Request is one user turn.
type Request struct {
	// ConversationID continues an existing conversation. Empty starts a
	// new one.
	ConversationID string
	UserID         string
	Message        string
}

// Response is the outcome of a completed turn.
type Response struct {
	RequestID      string  `json:"request_id"`
	ConversationID string  `json:"conversation_id"`
	Answer         string  `json:"answer"`
	Capped         bool    `json:"capped,omitempty"`
	Iterations     int     `json:"iterations"`
	Model          string  `json:"model"`
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	CostUSD        float64 `json:"cost_usd"`
}

// UsageRecorder persists per-call token usage.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// ModelInfo resolves pricing and provider names for usage records.
// *config.Config satisfies it.
type ModelInfo interface {
	usage.Pricer
	ProviderFor(model string) string
}

// Loop is the core agent execution loop. A Loop is safe for concurrent
// use; turns on the same conversation are serialized.
type Loop struct {
	logger       *slog.Logger
	llm          llm.Client
	model        string
	policy       prompts.Policy
	tools        *tools.Registry
	store        memory.ConversationStore
	retriever    ContextProvider
	bus          *events.Bus
	usage        UsageRecorder
	models       ModelInfo
	extractor    *memory.Extractor
	historyLimit int

	locks *keyedMutex
	bg    sync.WaitGroup
}

// Option configures optional Loop collaborators.
type Option func(*Loop)

// WithRetriever sets the source of the context block.
func WithRetriever(r ContextProvider) Option {
	return func(l *Loop) { l.retriever = r }
}

// WithEventBus publishes loop events on bus.
func WithEventBus(bus *events.Bus) Option {
	return func(l *Loop) { l.bus = bus }
}

// WithUsage records token usage and cost for every model call.
func WithUsage(rec UsageRecorder, models ModelInfo) Option {
	return func(l *Loop) {
		l.usage = rec
		l.models = models
	}
}

// WithMemoryExtraction enables post-turn memory extraction.
func WithMemoryExtraction(e *memory.Extractor) Option {
	return func(l *Loop) { l.extractor = e }
}

// WithHistoryLimit overrides how many stored messages are replayed.
func WithHistoryLimit(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.historyLimit = n
		}
	}
}

// NewLoop creates an agent loop. The policy and registry are treated
// as immutable from here on.
func NewLoop(logger *slog.Logger, client llm.Client, model string, policy prompts.Policy, registry *tools.Registry, store memory.ConversationStore, opts ...Option) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	l := &Loop{
		logger:       logger,
		llm:          client,
		model:        model,
		policy:       policy,
		tools:        registry,
		store:        store,
		historyLimit: DefaultHistoryLimit,
		locks:        newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Model returns the chat model the loop calls.
func (l *Loop) Model() string { return l.model }

// Wait blocks until background memory extraction has finished.
func (l *Loop) Wait() { l.bg.Wait() }

// Run executes one turn.
//
// Store and gateway failures abort the turn with a *TransportError.
// Tool failures never abort it; they are fed back to the model as
// error-shaped tool results. Exhausting MaxIterations is not an error:
// the fixed capped answer is returned with Capped set.
func (l *Loop) Run(ctx context.Context, req Request) (*Response, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, errors.New("empty message")
	}

	convID := req.ConversationID
	if convID == "" {
		conv, err := l.store.CreateConversation(ctx, req.UserID, titleFor(text))
		if err != nil {
			return nil, &TransportError{Op: "create conversation", Err: err}
		}
		convID = conv.ID
	} else if _, err := l.store.GetConversation(ctx, convID); err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			return nil, err
		}
		return nil, &TransportError{Op: "load conversation", Err: err}
	}

	unlock := l.locks.Lock(convID)
	defer unlock()

	requestID := generateRequestID()
	start := time.Now()
	log := l.logger.With("request_id", requestID, "conversation", convID)
	log.Info("agent loop started", "model", l.model)
	l.emit(events.KindRequestStart, map[string]any{
		"request_id":      requestID,
		"conversation_id": convID,
		"model":           l.model,
	})

	history, err := l.store.GetMessages(ctx, convID, l.historyLimit)
	if err != nil {
		return nil, &TransportError{Op: "load history", Err: err}
	}
	log.Debug("loaded history", "count", len(history))

	retrieved := l.retrieve(ctx, log, req.UserID, text)
	msgs := buildMessages(l.policy, retrieved, history, text)

	if err := l.save(ctx, &memory.Record{ConversationID: convID, Role: llm.RoleUser, Content: text}); err != nil {
		return nil, err
	}

	resp := &Response{RequestID: requestID, ConversationID: convID, Model: l.model}
	defs := l.tools.Definitions()

	for resp.Iterations < MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp.Iterations++

		l.emit(events.KindLLMCall, map[string]any{
			"request_id": requestID,
			"iter":       resp.Iterations,
			"model":      l.model,
		})
		callStart := time.Now()
		chat, err := l.llm.Chat(ctx, l.model, msgs, defs)
		if err != nil {
			log.Error("LLM call failed", "iteration", resp.Iterations, "error", err)
			return nil, &TransportError{Op: "model call", Err: err}
		}

		model := chat.Model
		if model == "" {
			model = l.model
		}
		resp.Model = model
		resp.InputTokens += chat.InputTokens
		resp.OutputTokens += chat.OutputTokens
		cost := l.recordUsage(ctx, log, requestID, convID, model, chat)
		resp.CostUSD += cost
		l.emit(events.KindLLMResponse, map[string]any{
			"request_id":  requestID,
			"iter":        resp.Iterations,
			"model":       model,
			"tokens_in":   chat.InputTokens,
			"tokens_out":  chat.OutputTokens,
			"cost_usd":    cost,
			"tool_calls":  len(chat.Message.ToolCalls),
			"duration_ms": time.Since(callStart).Milliseconds(),
		})

		switch out := chat.Outcome().(type) {
		case llm.FinalAnswer:
			resp.Answer = out.Text
			if err := l.finish(ctx, log, req, resp, start); err != nil {
				return nil, err
			}
			return resp, nil

		case llm.ToolRequests:
			log.Debug("executing tools", "iteration", resp.Iterations, "count", len(out.Calls))
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: out.Text, ToolCalls: out.Calls})

			for _, result := range l.executeTools(ctx, log, requestID, out.Calls) {
				msgs = append(msgs, result)
				if err := l.save(ctx, &memory.Record{
					ConversationID: convID,
					Role:           llm.RoleTool,
					Name:           result.Name,
					Content:        result.Content,
					ToolCallID:     result.ToolCallID,
				}); err != nil {
					return nil, err
				}
			}
		}
	}

	log.Warn("iteration cap reached", "max", MaxIterations)
	resp.Answer = prompts.CappedResponse
	resp.Capped = true
	if err := l.finish(ctx, log, req, resp, start); err != nil {
		return nil, err
	}
	return resp, nil
}

// finish persists the assistant answer, publishes completion, and
// schedules memory extraction.
func (l *Loop) finish(ctx context.Context, log *slog.Logger, req Request, resp *Response, start time.Time) error {
	if err := l.save(ctx, &memory.Record{
		ConversationID:   resp.ConversationID,
		Role:             llm.RoleAssistant,
		Content:          resp.Answer,
		Model:            resp.Model,
		PromptTokens:     resp.InputTokens,
		CompletionTokens: resp.OutputTokens,
		CostUSD:          resp.CostUSD,
	}); err != nil {
		return err
	}

	elapsed := time.Since(start)
	log.Info("agent loop completed",
		"iterations", resp.Iterations,
		"capped", resp.Capped,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	l.emit(events.KindRequestComplete, map[string]any{
		"request_id":       resp.RequestID,
		"conversation_id":  resp.ConversationID,
		"iterations":       resp.Iterations,
		"capped":           resp.Capped,
		"total_tokens_in":  resp.InputTokens,
		"total_tokens_out": resp.OutputTokens,
		"total_cost_usd":   resp.CostUSD,
		"elapsed_ms":       elapsed.Milliseconds(),
	})

	l.extractAsync(req.UserID, strings.TrimSpace(req.Message), resp.Answer)
	return nil
}

// executeTools runs every call concurrently and returns the tool
// messages in request order.
func (l *Loop) executeTools(ctx context.Context, log *slog.Logger, requestID string, calls []llm.ToolCall) []llm.Message {
	results := make([]llm.Message, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = l.runTool(ctx, log, requestID, call)
		}()
	}
	wg.Wait()
	return results
}

// runTool dispatches one call. Dispatch errors become an error-shaped
// result so the model can correct itself.
func (l *Loop) runTool(ctx context.Context, log *slog.Logger, requestID string, call llm.ToolCall) llm.Message {
	name := call.Function.Name
	args := tools.ParseArguments(call.Function.Arguments)

	l.emit(events.KindToolCall, map[string]any{
		"request_id":   requestID,
		"tool":         name,
		"tool_call_id": call.ID,
	})
	start := time.Now()

	var payload any
	result, err := l.tools.Dispatch(ctx, name, args)
	if err != nil {
		log.Warn("tool call failed", "tool", name, "code", tools.ErrorCode(err), "error", err)
		payload = tools.ErrorResult(name, err)
	} else {
		payload = result
	}

	content, mErr := json.Marshal(payload)
	if mErr != nil {
		err = &tools.ToolFailedError{Tool: name, Err: mErr}
		content, _ = json.Marshal(tools.ErrorResult(name, err))
	}

	done := map[string]any{
		"request_id":  requestID,
		"tool":        name,
		"ok":          err == nil,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		done["error_code"] = tools.ErrorCode(err)
	}
	l.emit(events.KindToolDone, done)

	msg := llm.Message{Role: llm.RoleTool, Content: string(content), ToolCallID: call.ID}
	// Only declared names are recorded; an unknown name stays in the
	// error payload.
	if l.tools.Get(name) != nil {
		msg.Name = name
	}
	return msg
}

// retrieve returns the context text, or "" when retrieval is not
// configured or fails.
func (l *Loop) retrieve(ctx context.Context, log *slog.Logger, userID, query string) string {
	if l.retriever == nil {
		return ""
	}
	text, err := l.retriever.RetrieveContext(ctx, userID, query)
	if err != nil {
		log.Warn("context retrieval failed", "error", err)
		return ""
	}
	return text
}

func (l *Loop) save(ctx context.Context, rec *memory.Record) error {
	if err := l.store.SaveMessage(ctx, rec); err != nil {
		return &TransportError{Op: "save " + rec.Role + " message", Err: err}
	}
	return nil
}

// recordUsage stores one call's usage and returns its cost.
func (l *Loop) recordUsage(ctx context.Context, log *slog.Logger, requestID, convID, model string, chat *llm.ChatResponse) float64 {
	if l.models == nil {
		return 0
	}
	cost := usage.ComputeCost(l.models, model, chat.InputTokens, chat.OutputTokens)
	if l.usage == nil {
		return cost
	}
	err := l.usage.Record(ctx, usage.Record{
		Timestamp:      time.Now().UTC(),
		RequestID:      requestID,
		ConversationID: convID,
		Model:          model,
		Provider:       l.models.ProviderFor(model),
		InputTokens:    chat.InputTokens,
		OutputTokens:   chat.OutputTokens,
		CostUSD:        cost,
		Role:           usage.RoleChat,
	})
	if err != nil {
		log.Warn("failed to record usage", "error", err)
	}
	return cost
}

// extractAsync runs memory extraction on a detached context so it
// outlives the request.
func (l *Loop) extractAsync(userID, userMsg, answer string) {
	if l.extractor == nil || !l.extractor.ShouldExtract(userMsg, answer) {
		return
	}
	l.bg.Add(1)
	go func() {
		defer l.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), l.extractor.Timeout())
		defer cancel()

		start := time.Now()
		data := map[string]any{"user_id": userID}
		if err := l.extractor.Extract(ctx, userID, userMsg, answer); err != nil {
			l.logger.Warn("memory extraction failed", "user", userID, "error", err)
			data["error"] = err.Error()
		}
		data["elapsed_ms"] = time.Since(start).Milliseconds()
		l.bus.Emit(events.SourceMemory, events.KindMemoryExtracted, data)
	}()
}

func (l *Loop) emit(kind string, data map[string]any) {
	l.bus.Emit(events.SourceAgent, kind, data)
}

// generateRequestID returns a short correlation ID for log lines and
// events: "r_" followed by 8 hex characters.
func generateRequestID() string {
	return "r_" + uuid.NewString()[:8]
}

func titleFor(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if r := []rune(title); len(r) > maxTitleLength {
		title = string(r[:maxTitleLength-1]) + "…"
	}
	return title
}
