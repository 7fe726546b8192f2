// Package ingest imports reference documents (label sheets, farm
// notes, extension bulletins) into the knowledge store so the chat
// assistant and activity parser can retrieve them.
package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nugget/furrow/internal/knowledge"
)

// DocumentStore is the subset of knowledge.Store the ingester needs.
type DocumentStore interface {
	AddDocument(ctx context.Context, userID, source, content string) (*knowledge.Document, error)
	DeleteDocuments(ctx context.Context, userID, source string) (int64, error)
}

// MarkdownIngester splits markdown documents by heading into
// knowledge documents.
type MarkdownIngester struct {
	store  DocumentStore
	userID string
	logger *slog.Logger
}

// NewMarkdownIngester creates a markdown ingester that files documents
// under userID.
func NewMarkdownIngester(store DocumentStore, userID string, logger *slog.Logger) *MarkdownIngester {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarkdownIngester{store: store, userID: userID, logger: logger}
}

// Chunk represents a semantic unit from the document.
type Chunk struct {
	Key     string
	Heading string // heading trail, e.g. "Roundup PowerMAX > Rates"
	Content string
}

// IngestFile reads a markdown file and stores one document per
// section. The file's base name is the source.
func (m *MarkdownIngester) IngestFile(ctx context.Context, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	return m.Ingest(ctx, filepath.Base(path), file)
}

// IngestString processes markdown content from a string.
func (m *MarkdownIngester) IngestString(ctx context.Context, source, content string) (int, error) {
	return m.Ingest(ctx, source, strings.NewReader(content))
}

// Ingest replaces every document previously imported from source with
// the sections of r. Sections that fail to store are logged and
// skipped; the count of stored sections is returned.
func (m *MarkdownIngester) Ingest(ctx context.Context, source string, r io.Reader) (int, error) {
	chunks, err := parseMarkdown(r)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", source, err)
	}

	removed, err := m.store.DeleteDocuments(ctx, m.userID, source)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		m.logger.Info("replaced previous import", "source", source, "removed", removed)
	}

	count := 0
	for _, chunk := range chunks {
		content := chunk.Content
		if chunk.Heading != "" {
			content = chunk.Heading + "\n\n" + content
		}
		if _, err := m.store.AddDocument(ctx, m.userID, source+"#"+chunk.Key, content); err != nil {
			if ctx.Err() != nil {
				return count, ctx.Err()
			}
			m.logger.Warn("failed to store section", "source", source, "section", chunk.Key, "error", err)
			continue
		}
		count++
	}

	m.logger.Info("ingested markdown", "source", source, "sections", count)
	return count, nil
}

var (
	headingPattern   = regexp.MustCompile(`^(#{1,3})\s+(.+?)\s*#*$`)
	codeBlockPattern = regexp.MustCompile("^```")
	slugPattern      = regexp.MustCompile(`[^a-z0-9]+`)
)

// parseMarkdown extracts one chunk per H1-H3 section. Headings inside
// fenced code blocks are content.
func parseMarkdown(r io.Reader) ([]Chunk, error) {
	var chunks []Chunk
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var trail [3]string
	var current strings.Builder
	inCodeBlock := false

	flush := func() {
		content := strings.TrimSpace(current.String())
		current.Reset()
		if content == "" {
			return
		}
		var names, slugs []string
		for _, h := range trail {
			if h != "" {
				names = append(names, h)
				slugs = append(slugs, slugify(h))
			}
		}
		key := strings.Join(slugs, "/")
		if key == "" {
			key = "intro"
		}
		chunks = append(chunks, Chunk{
			Key:     key,
			Heading: strings.Join(names, " > "),
			Content: content,
		})
	}

	for scanner.Scan() {
		line := scanner.Text()

		if codeBlockPattern.MatchString(line) {
			inCodeBlock = !inCodeBlock
			current.WriteString(line + "\n")
			continue
		}
		if inCodeBlock {
			current.WriteString(line + "\n")
			continue
		}

		if m := headingPattern.FindStringSubmatch(line); m != nil {
			flush()
			level := len(m[1]) - 1
			trail[level] = m[2]
			for i := level + 1; i < len(trail); i++ {
				trail[i] = ""
			}
			continue
		}

		if line != "" || current.Len() > 0 {
			current.WriteString(line + "\n")
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	flush()
	return chunks, nil
}

// slugify converts a header to a key-friendly format.
func slugify(s string) string {
	s = strings.ToLower(s)
	s = slugPattern.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
