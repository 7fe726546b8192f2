// Package memory stores conversations and their messages, and extracts
// durable user memories from finished turns.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("not found")

// Conversation is one chat thread owned by a user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Record is a persisted message. Records are append-only: once saved
// they are never reordered or modified.
type Record struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	// Name is the tool identifier for tool-role records.
	Name       string `json:"name,omitempty"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Accounting, set on assistant records.
	Model            string  `json:"model,omitempty"`
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	CostUSD          float64 `json:"cost_usd,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ConversationStore is implemented by Store and SQLiteStore.
type ConversationStore interface {
	EnsureUser(ctx context.Context, email string) (string, error)
	CreateConversation(ctx context.Context, userID, title string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, userID string, limit int) ([]Conversation, error)
	GetMessages(ctx context.Context, conversationID string, limit int) ([]Record, error)
	SaveMessage(ctx context.Context, rec *Record) error
}

// UserIDForEmail derives a stable user ID from an email address, so
// the same identity maps to the same user across restarts and stores.
func UserIDForEmail(email string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("furrow:user:"+email)).String()
}

// prepareRecord assigns the ID and creation time of a new record.
func prepareRecord(rec *Record) {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		rec.ID = id.String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
}

// Store is an in-memory ConversationStore for development and tests.
type Store struct {
	mu            sync.RWMutex
	users         map[string]string // email → id
	conversations map[string]*Conversation
	messages      map[string][]Record
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		users:         make(map[string]string),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]Record),
	}
}

// EnsureUser returns the user ID for email, creating it if needed.
func (s *Store) EnsureUser(_ context.Context, email string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.users[email]; ok {
		return id, nil
	}
	id := UserIDForEmail(email)
	s.users[email] = id
	return id, nil
}

// CreateConversation starts a new conversation.
func (s *Store) CreateConversation(_ context.Context, userID, title string) (*Conversation, error) {
	now := time.Now().UTC()
	c := &Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.conversations[c.ID] = c
	s.mu.Unlock()

	cp := *c
	return &cp, nil
}

// GetConversation returns a copy of the conversation or ErrNotFound.
func (s *Store) GetConversation(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// ListConversations returns a user's conversations, most recently
// updated first.
func (s *Store) ListConversations(_ context.Context, userID string, limit int) ([]Conversation, error) {
	s.mu.RLock()
	var out []Conversation
	for _, c := range s.conversations {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetMessages returns the most recent limit records in append order.
// A non-positive limit returns all of them.
func (s *Store) GetMessages(_ context.Context, conversationID string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Record, len(msgs))
	copy(out, msgs)
	return out, nil
}

// SaveMessage appends a record. The conversation must exist.
func (s *Store) SaveMessage(_ context.Context, rec *Record) error {
	prepareRecord(rec)

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[rec.ConversationID]
	if !ok {
		return ErrNotFound
	}
	s.messages[rec.ConversationID] = append(s.messages[rec.ConversationID], *rec)
	c.UpdatedAt = rec.CreatedAt
	return nil
}
