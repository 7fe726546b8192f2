package knowledge

import (
	"context"
	"fmt"
	"strings"
)

const (
	// MemoryLimit and DocumentLimit bound how many of each are
	// rendered into the context block.
	MemoryLimit   = 6
	DocumentLimit = 6

	// maxDocumentChars truncates each rendered document.
	maxDocumentChars = 600
)

// Retriever renders the memories and documents most relevant to a
// query as plain text for the context block.
type Retriever struct {
	store *Store
}

// NewRetriever creates a retriever over store.
func NewRetriever(store *Store) *Retriever {
	return &Retriever{store: store}
}

// RetrieveContext returns "" when nothing relevant exists or no
// embedder is configured. Errors are transport failures only.
func (r *Retriever) RetrieveContext(ctx context.Context, userID, query string) (string, error) {
	if r == nil || r.store == nil || r.store.embedder == nil || strings.TrimSpace(query) == "" {
		return "", nil
	}

	vec, err := r.store.embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}

	mems, err := r.store.SearchMemories(ctx, userID, vec, MemoryLimit)
	if err != nil {
		return "", err
	}
	docs, err := r.store.SearchDocuments(ctx, userID, vec, DocumentLimit)
	if err != nil {
		return "", err
	}
	return FormatContext(mems, docs), nil
}

// FormatContext renders memories and documents as the retrieval text.
// Empty sections are omitted.
func FormatContext(mems []Memory, docs []Document) string {
	var blocks []string

	if len(mems) > 0 {
		var b strings.Builder
		b.WriteString("User memory:")
		for _, m := range mems {
			fmt.Fprintf(&b, "\n- (%s) %s", m.Kind, m.Content)
		}
		blocks = append(blocks, b.String())
	}

	if len(docs) > 0 {
		var b strings.Builder
		b.WriteString("Relevant documents:")
		for _, d := range docs {
			source := d.Source
			if source == "" {
				source = "doc"
			}
			content := d.Content
			if r := []rune(content); len(r) > maxDocumentChars {
				content = string(r[:maxDocumentChars])
			}
			fmt.Fprintf(&b, "\n- [%s] %s", source, content)
		}
		blocks = append(blocks, b.String())
	}

	return strings.Join(blocks, "\n\n")
}
