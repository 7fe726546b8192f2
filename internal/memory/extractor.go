package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/furrow/internal/llm"
	"github.com/nugget/furrow/internal/prompts"
)

// Memory kinds accepted from extraction.
const (
	KindProfile     = "profile"
	KindPreference  = "preference"
	KindFarmContext = "farm_context"
	KindFact        = "fact"
)

// MaxMemoryLength caps stored memory content, in runes.
const MaxMemoryLength = 500

// ExtractedMemory is one candidate memory returned by the model.
type ExtractedMemory struct {
	Kind       string  `json:"kind"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
}

// MemoryWriter persists an accepted memory. Implemented by
// knowledge.Store.
type MemoryWriter interface {
	AddMemory(ctx context.Context, userID, kind, content string) error
}

// Extractor pulls durable memories out of a finished exchange. It is
// best-effort: failures are logged and returned but never affect the
// answer the user already has.
type Extractor struct {
	writer        MemoryWriter
	client        llm.Client
	model         string
	logger        *slog.Logger
	minConfidence float64
	timeout       time.Duration
}

// NewExtractor creates a memory extractor that uses model for the
// extraction call.
func NewExtractor(writer MemoryWriter, client llm.Client, model string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		writer:        writer,
		client:        client,
		model:         model,
		logger:        logger,
		minConfidence: 0.75,
		timeout:       30 * time.Second,
	}
}

// SetMinConfidence sets the floor below which memories are dropped.
func (e *Extractor) SetMinConfidence(c float64) { e.minConfidence = c }

// SetTimeout configures the bound on one extraction.
func (e *Extractor) SetTimeout(d time.Duration) { e.timeout = d }

// Timeout returns the configured extraction timeout.
func (e *Extractor) Timeout() time.Duration { return e.timeout }

// ShouldExtract skips exchanges that cannot carry a durable memory:
// trivial user messages and short or canned assistant replies.
func (e *Extractor) ShouldExtract(userMsg, assistantResp string) bool {
	if len(strings.TrimSpace(userMsg)) < 8 {
		return false
	}
	if len(assistantResp) < 20 || assistantResp == prompts.CappedResponse {
		return false
	}
	return true
}

// Extract runs one extraction call and stores accepted memories.
func (e *Extractor) Extract(ctx context.Context, userID, userMsg, assistantResp string) error {
	resp, err := e.client.Chat(ctx, e.model, []llm.Message{
		{Role: llm.RoleSystem, Content: prompts.MemoryExtractionSystem},
		{Role: llm.RoleUser, Content: prompts.MemoryExtractionUser(userMsg, assistantResp)},
	}, nil)
	if err != nil {
		e.logger.Warn("memory extraction LLM call failed", "error", err)
		return fmt.Errorf("memory extraction: %w", err)
	}

	candidates := parseMemories(resp.Message.Content)
	if len(candidates) == 0 {
		e.logger.Debug("extraction found no memories worth persisting")
		return nil
	}

	persisted := 0
	for _, m := range candidates {
		content := strings.TrimSpace(m.Content)
		if content == "" || !validKind(m.Kind) || m.Confidence < e.minConfidence {
			e.logger.Debug("skipping extracted memory",
				"kind", m.Kind, "confidence", m.Confidence)
			continue
		}
		if r := []rune(content); len(r) > MaxMemoryLength {
			content = string(r[:MaxMemoryLength])
		}

		if err := e.writer.AddMemory(ctx, userID, m.Kind, content); err != nil {
			e.logger.Warn("failed to persist extracted memory", "kind", m.Kind, "error", err)
			continue
		}
		persisted++
	}

	if persisted > 0 {
		e.logger.Info("extracted memories from conversation",
			"count", persisted, "total_extracted", len(candidates))
	}
	return nil
}

func validKind(k string) bool {
	switch k {
	case KindProfile, KindPreference, KindFarmContext, KindFact:
		return true
	}
	return false
}

// parseMemories reads a JSON array from model output, tolerating prose
// or code fences around it. Unparseable output yields nothing.
func parseMemories(text string) []ExtractedMemory {
	text = strings.TrimSpace(text)
	var out []ExtractedMemory
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		return out
	}
	start, end := strings.Index(text, "["), strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil
	}
	return out
}
