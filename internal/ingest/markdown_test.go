package ingest

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nugget/furrow/internal/knowledge"

	_ "modernc.org/sqlite"
)

const labelDoc = `Intro text before any heading.

# Roundup PowerMAX

Glyphosate herbicide for burndown and in-crop use.

## Rates

Apply 22 to 32 fl oz per acre.

### Soybeans

Up to 32 fl oz per acre postemergence.

` + "```" + `
# not a heading
` + "```" + `

## Restrictions

REI is 4 hours. Do not apply when wind exceeds 15 mph.
`

func TestParseMarkdown(t *testing.T) {
	chunks, err := parseMarkdown(strings.NewReader(labelDoc))
	if err != nil {
		t.Fatal(err)
	}

	expected := []struct {
		key     string
		heading string
		hasText string
	}{
		{"intro", "", "before any heading"},
		{"roundup-powermax", "Roundup PowerMAX", "burndown"},
		{"roundup-powermax/rates", "Roundup PowerMAX > Rates", "22 to 32"},
		{"roundup-powermax/rates/soybeans", "Roundup PowerMAX > Rates > Soybeans", "# not a heading"},
		{"roundup-powermax/restrictions", "Roundup PowerMAX > Restrictions", "REI is 4 hours"},
	}

	if len(chunks) != len(expected) {
		t.Fatalf("expected %d chunks, got %d: %+v", len(expected), len(chunks), chunks)
	}
	for i, exp := range expected {
		if chunks[i].Key != exp.key {
			t.Errorf("chunk %d: key = %q, want %q", i, chunks[i].Key, exp.key)
		}
		if chunks[i].Heading != exp.heading {
			t.Errorf("chunk %d: heading = %q, want %q", i, chunks[i].Heading, exp.heading)
		}
		if !strings.Contains(chunks[i].Content, exp.hasText) {
			t.Errorf("chunk %d: content %q missing %q", i, chunks[i].Content, exp.hasText)
		}
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Simple Header", "simple-header"},
		{"REI & PHI (days)", "rei-phi-days"},
		{"  spaces  ", "spaces"},
		{"2,4-D Amine", "2-4-d-amine"},
	}
	for _, tt := range tests {
		if got := slugify(tt.in); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// countingEmbedder returns a fixed vector and counts calls.
type countingEmbedder struct {
	calls int
}

func (c *countingEmbedder) Embed(context.Context, string) ([]float32, error) {
	c.calls++
	return []float32{0.1, 0.2, 0.3}, nil
}

func newKnowledgeStore(t *testing.T, e knowledge.Embedder) *knowledge.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := knowledge.NewStoreWithDB(db, e, nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestIngestFile_Reimport(t *testing.T) {
	ctx := context.Background()
	emb := &countingEmbedder{}
	store := newKnowledgeStore(t, emb)
	ing := NewMarkdownIngester(store, "u1", nil)

	path := filepath.Join(t.TempDir(), "roundup.md")
	if err := os.WriteFile(path, []byte(labelDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := ing.IngestFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 || emb.calls != 5 {
		t.Errorf("ingested %d sections with %d embeddings, want 5/5", n, emb.calls)
	}

	// A second import replaces rather than duplicates.
	if _, err := ing.IngestFile(ctx, path); err != nil {
		t.Fatal(err)
	}
	if stats := store.Stats(ctx); stats["documents"] != 5 {
		t.Errorf("documents after re-import = %v, want 5", stats["documents"])
	}

	docs, err := store.SearchDocuments(ctx, "u1", []float32{0.1, 0.2, 0.3}, 10)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, d := range docs {
		if d.Source == "roundup.md#roundup-powermax/restrictions" {
			found = strings.HasPrefix(d.Content, "Roundup PowerMAX > Restrictions\n\n")
		}
	}
	if !found {
		t.Errorf("restrictions section missing or lacks heading trail: %+v", docs)
	}
}

func TestIngestFile_Missing(t *testing.T) {
	ing := NewMarkdownIngester(newKnowledgeStore(t, nil), "u1", nil)
	if _, err := ing.IngestFile(context.Background(), "/nonexistent/file.md"); err == nil {
		t.Error("expected error for missing file")
	}
}

type flakyStore struct {
	added int
}

func (f *flakyStore) AddDocument(_ context.Context, _, source, _ string) (*knowledge.Document, error) {
	if strings.HasSuffix(source, "/rates") {
		return nil, errors.New("embedder unavailable")
	}
	f.added++
	return &knowledge.Document{}, nil
}

func (f *flakyStore) DeleteDocuments(context.Context, string, string) (int64, error) {
	return 0, nil
}

func TestIngest_SkipsFailedSections(t *testing.T) {
	fs := &flakyStore{}
	n, err := NewMarkdownIngester(fs, "u1", nil).IngestString(context.Background(), "roundup.md", labelDoc)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 || fs.added != 4 {
		t.Errorf("n = %d, added = %d, want 4", n, fs.added)
	}
}
