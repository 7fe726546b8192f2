package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Memory is a durable fact about a user, learned from conversation.
type Memory struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Document is a piece of reference text (label excerpts, farm notes)
// owned by a user.
type Document struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Source    string    `json:"source,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists memories and documents with their embeddings.
type Store struct {
	db       *sql.DB
	embedder Embedder
	logger   *slog.Logger
}

// NewStore opens (or creates) the knowledge database at dbPath. A nil
// embedder stores rows without vectors; they are then never retrieved.
func NewStore(dbPath string, embedder Embedder, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s, err := NewStoreWithDB(db, embedder, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreWithDB uses an existing database connection.
func NewStoreWithDB(db *sql.DB, embedder Embedder, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, embedder: embedder, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding BLOB,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id);

		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			source TEXT,
			content TEXT NOT NULL,
			embedding BLOB,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_documents_user ON documents(user_id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Embedder returns the configured embedder, or nil.
func (s *Store) Embedder() Embedder {
	return s.embedder
}

func (s *Store) embed(ctx context.Context, text string) ([]byte, error) {
	if s.embedder == nil {
		return nil, nil
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return encodeEmbedding(vec), nil
}

// blobArg binds an absent embedding as NULL rather than an empty blob.
func blobArg(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// AddMemory embeds and stores a memory.
func (s *Store) AddMemory(ctx context.Context, userID, kind, content string) error {
	blob, err := s.embed(ctx, content)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories (id, user_id, kind, content, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		newID(), userID, kind, content, blobArg(blob), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// AddDocument embeds and stores a document.
func (s *Store) AddDocument(ctx context.Context, userID, source, content string) (*Document, error) {
	blob, err := s.embed(ctx, content)
	if err != nil {
		return nil, err
	}
	d := &Document{
		ID:        newID(),
		UserID:    userID,
		Source:    source,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, user_id, source, content, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.UserID, sql.NullString{String: source, Valid: source != ""}, d.Content, blobArg(blob),
		d.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return d, nil
}

// DeleteDocuments removes a user's documents from source, including
// section documents stored as "<source>#<section>". It returns the
// number deleted.
func (s *Store) DeleteDocuments(ctx context.Context, userID, source string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE user_id = ? AND (source = ? OR substr(source, 1, length(?) + 1) = ? || '#')`,
		userID, source, source, source)
	if err != nil {
		return 0, fmt.Errorf("delete documents: %w", err)
	}
	return res.RowsAffected()
}

// SearchMemories returns the user's memories most similar to query,
// best first.
func (s *Store) SearchMemories(ctx context.Context, userID string, query []float32, limit int) ([]Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, content, embedding, created_at
		FROM memories
		WHERE user_id = ? AND embedding IS NOT NULL
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var candidates []scored[Memory]
	for rows.Next() {
		var m Memory
		var blob []byte
		var created string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Kind, &m.Content, &blob, &created); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		candidates = append(candidates, scored[Memory]{item: m, score: CosineSimilarity(query, decodeEmbedding(blob))})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return topK(candidates, limit), nil
}

// SearchDocuments returns the user's documents most similar to query,
// best first.
func (s *Store) SearchDocuments(ctx context.Context, userID string, query []float32, limit int) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, source, content, embedding, created_at
		FROM documents
		WHERE user_id = ? AND embedding IS NOT NULL
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var candidates []scored[Document]
	for rows.Next() {
		var d Document
		var source sql.NullString
		var blob []byte
		var created string
		if err := rows.Scan(&d.ID, &d.UserID, &source, &d.Content, &blob, &created); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.Source = source.String
		d.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		candidates = append(candidates, scored[Document]{item: d, score: CosineSimilarity(query, decodeEmbedding(blob))})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return topK(candidates, limit), nil
}

// Stats returns row counts for logging.
func (s *Store) Stats(ctx context.Context) map[string]any {
	var memories, documents int
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&memories)
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&documents)
	return map[string]any{
		"memories":  memories,
		"documents": documents,
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
