package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/nugget/furrow/internal/defaults"
	"github.com/nugget/furrow/internal/prompts"
)

// runInit initializes a Furrow working directory: the data directory,
// an example config.yaml, and the default prompt policy files. Existing
// files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Furrow workspace in %s\n", dir)

	for _, sub := range []string{"data", "prompts"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(w, configPath, defaults.ConfigYAML); err != nil {
		return err
	}

	files := prompts.DefaultPolicy().Files()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writeIfMissing(w, filepath.Join(dir, "prompts", name), []byte(files[name])); err != nil {
			return err
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml and the files in prompts/ to customize your installation.")
	return nil
}

// writeIfMissing writes content to path only if nothing is there yet.
func writeIfMissing(w io.Writer, path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "  - %s (exists, kept)\n", path)
		return nil
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}
