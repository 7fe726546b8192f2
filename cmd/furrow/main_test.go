package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeConfig writes a minimal config into a temp directory and returns
// its path. ollamaURL may be empty.
func writeConfig(t *testing.T, ollamaURL string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := "data_dir: " + filepath.Join(dir, "data") + "\n" +
		"log_level: error\n" +
		"models:\n  chat: llama3.1:8b\n"
	if ollamaURL != "" {
		cfg += "ollama:\n  url: " + ollamaURL + "\n"
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_Version(t *testing.T) {
	var buf bytes.Buffer
	if err := run(context.Background(), &buf, &buf, []string{"version"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Furrow") || !strings.Contains(buf.String(), "go_version:") {
		t.Errorf("text version = %q", buf.String())
	}

	buf.Reset()
	if err := run(context.Background(), &buf, &buf, []string{"-o", "json", "version"}); err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal(buf.Bytes(), &info); err != nil {
		t.Fatalf("json version: %v", err)
	}
	if info["version"] == "" {
		t.Errorf("info = %v", info)
	}
}

func TestRun_Help(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var buf bytes.Buffer
		if err := run(context.Background(), &buf, &buf, args); err != nil {
			t.Fatalf("run(%v): %v", args, err)
		}
		if !strings.Contains(buf.String(), "Usage: furrow") {
			t.Errorf("run(%v) output = %q", args, buf.String())
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"unknown command", []string{"plow"}, "unknown command"},
		{"unknown flag", []string{"-x"}, "unknown flag"},
		{"bad output format", []string{"-o", "yaml", "version"}, "unknown output format"},
		{"ask without question", []string{"ask"}, "usage: furrow ask"},
		{"parse without transcript", []string{"parse"}, "usage: furrow parse"},
		{"ingest without file", []string{"ingest"}, "usage: furrow ingest"},
		{"missing config", []string{"-config", "/nonexistent/furrow.yaml", "usage"}, "config file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := run(context.Background(), &buf, &buf, tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRun_Ingest(t *testing.T) {
	cfgPath := writeConfig(t, "")
	doc := filepath.Join(t.TempDir(), "spray-plan.md")
	os.WriteFile(doc, []byte("# Spray plan\n\nNorth 40 gets glyphosate.\n\n## Buffer\n\nKeep 50 ft from the creek.\n"), 0o644)

	var buf bytes.Buffer
	if err := run(context.Background(), &buf, &buf, []string{"-config", cfgPath, "ingest", doc}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !strings.Contains(buf.String(), "Ingested 2 sections from") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestRun_UsageEmpty(t *testing.T) {
	cfgPath := writeConfig(t, "")
	var buf bytes.Buffer
	if err := run(context.Background(), &buf, &buf, []string{"-config", cfgPath, "usage"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No model calls today.") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestRun_Ask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"model":"llama3.1:8b","message":{"role":"assistant","content":"Wait until the wind drops below 10 mph."},"done":true,"prompt_eval_count":120,"eval_count":12}`))
	}))
	defer srv.Close()

	cfgPath := writeConfig(t, srv.URL)
	var buf bytes.Buffer
	if err := run(context.Background(), &buf, &buf, []string{"-config", cfgPath, "ask", "when", "can", "I", "spray?"}); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "Wait until the wind drops below 10 mph." {
		t.Errorf("answer = %q", got)
	}

	// The turn's usage lands in the persistent usage store.
	buf.Reset()
	if err := run(context.Background(), &buf, &buf, []string{"-config", cfgPath, "-o", "json", "usage"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"llama3.1:8b"`) {
		t.Errorf("usage = %q", buf.String())
	}
}
