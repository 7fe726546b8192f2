package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	_ "modernc.org/sqlite"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	// Each connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewSQLiteStoreWithDB(db)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// forEachStore runs fn against both ConversationStore implementations.
func forEachStore(t *testing.T, fn func(t *testing.T, s ConversationStore)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestSQLiteStore(t)) })
}

func TestUserIDForEmail(t *testing.T) {
	a := UserIDForEmail("demo@local")
	if a != UserIDForEmail("demo@local") {
		t.Error("same email should map to the same ID")
	}
	if a == UserIDForEmail("other@local") {
		t.Error("different emails should map to different IDs")
	}
}

func TestEnsureUser(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ConversationStore) {
		ctx := context.Background()
		id1, err := s.EnsureUser(ctx, "demo@local")
		if err != nil {
			t.Fatal(err)
		}
		id2, err := s.EnsureUser(ctx, "demo@local")
		if err != nil {
			t.Fatal(err)
		}
		if id1 != id2 || id1 != UserIDForEmail("demo@local") {
			t.Errorf("ids = %q, %q", id1, id2)
		}
	})
}

func TestConversationLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ConversationStore) {
		ctx := context.Background()
		uid, _ := s.EnsureUser(ctx, "demo@local")

		c, err := s.CreateConversation(ctx, uid, "North 40 spray")
		if err != nil {
			t.Fatal(err)
		}
		got, err := s.GetConversation(ctx, c.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Title != "North 40 spray" || got.UserID != uid {
			t.Errorf("conversation = %+v", got)
		}

		if _, err := s.GetConversation(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing conversation err = %v, want ErrNotFound", err)
		}

		c2, _ := s.CreateConversation(ctx, uid, "second")
		if err := s.SaveMessage(ctx, &Record{ConversationID: c.ID, Role: "user", Content: "bump"}); err != nil {
			t.Fatal(err)
		}

		list, err := s.ListConversations(ctx, uid, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 2 || list[0].ID != c.ID || list[1].ID != c2.ID {
			t.Errorf("list order = %+v, want most recently updated first", list)
		}

		other, _ := s.ListConversations(ctx, UserIDForEmail("nobody@local"), 10)
		if len(other) != 0 {
			t.Errorf("other user sees %d conversations", len(other))
		}
	})
}

func TestSaveMessage_OrderAndLimit(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ConversationStore) {
		ctx := context.Background()
		c, _ := s.CreateConversation(ctx, "u", "")

		for i := range 5 {
			rec := &Record{ConversationID: c.ID, Role: "user", Content: fmt.Sprintf("m%d", i)}
			if err := s.SaveMessage(ctx, rec); err != nil {
				t.Fatal(err)
			}
			if rec.ID == "" || rec.CreatedAt.IsZero() {
				t.Fatalf("record not prepared: %+v", rec)
			}
		}

		all, err := s.GetMessages(ctx, c.ID, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 5 {
			t.Fatalf("len = %d, want 5", len(all))
		}
		for i, r := range all {
			if want := fmt.Sprintf("m%d", i); r.Content != want {
				t.Errorf("all[%d] = %q, want %q", i, r.Content, want)
			}
		}

		tail, _ := s.GetMessages(ctx, c.ID, 2)
		if len(tail) != 2 || tail[0].Content != "m3" || tail[1].Content != "m4" {
			t.Errorf("tail = %+v, want last two in append order", tail)
		}
	})
}

func TestSaveMessage_Fields(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ConversationStore) {
		ctx := context.Background()
		c, _ := s.CreateConversation(ctx, "u", "")

		s.SaveMessage(ctx, &Record{ConversationID: c.ID, Role: "tool", Name: "get_weather", Content: `{"temp_f":70}`, ToolCallID: "call_1"})
		s.SaveMessage(ctx, &Record{ConversationID: c.ID, Role: "assistant", Content: "Calm.", Model: "gpt-4o-mini", PromptTokens: 100, CompletionTokens: 5, CostUSD: 0.0001})

		msgs, _ := s.GetMessages(ctx, c.ID, 0)
		if msgs[0].Name != "get_weather" || msgs[0].ToolCallID != "call_1" {
			t.Errorf("tool record = %+v", msgs[0])
		}
		if msgs[1].Model != "gpt-4o-mini" || msgs[1].PromptTokens != 100 || msgs[1].CompletionTokens != 5 {
			t.Errorf("assistant record = %+v", msgs[1])
		}
		if msgs[1].Name != "" {
			t.Errorf("assistant Name = %q, want empty", msgs[1].Name)
		}
	})
}

func TestSaveMessage_UnknownConversation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ConversationStore) {
		err := s.SaveMessage(context.Background(), &Record{ConversationID: "nope", Role: "user", Content: "x"})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestStore_ConcurrentSaves(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	c, _ := s.CreateConversation(ctx, "u", "")

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.SaveMessage(ctx, &Record{ConversationID: c.ID, Role: "tool", Content: "{}"})
		}()
	}
	wg.Wait()

	msgs, _ := s.GetMessages(ctx, c.ID, 0)
	if len(msgs) != 20 {
		t.Errorf("len = %d, want 20", len(msgs))
	}
}

func TestStore_GetMessagesReturnsCopy(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	c, _ := s.CreateConversation(ctx, "u", "")
	s.SaveMessage(ctx, &Record{ConversationID: c.ID, Role: "user", Content: "original"})

	msgs, _ := s.GetMessages(ctx, c.ID, 0)
	msgs[0].Content = "mutated"

	again, _ := s.GetMessages(ctx, c.ID, 0)
	if again[0].Content != "original" {
		t.Error("stored records must not be mutable through GetMessages")
	}
}
