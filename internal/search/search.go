// Package search provides the web_search tool's backends.
//
// Each search provider implements the [Provider] interface and is
// registered by name. The [Manager] picks the primary provider and
// exposes a single [Manager.Search] method that the tool layer calls.
package search

import (
	"context"
	"fmt"
	"sort"
)

// Result is a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results to return.
	// Providers may return fewer. Zero means provider default.
	Count int

	// Language is an ISO 639-1 language code (e.g., "en", "es").
	Language string
}

// DefaultCount is used when Options.Count is zero.
const DefaultCount = 5

// Provider is the interface that search backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "searxng", "brave").
	Name() string

	// Search executes a query and returns results.
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager holds configured providers and routes searches.
type Manager struct {
	providers map[string]Provider
	primary   string
}

// NewManager creates a search manager. An empty primary selects the
// first provider registered.
func NewManager(primary string) *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		primary:   primary,
	}
}

// Register adds a provider to the manager.
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
	if m.primary == "" {
		m.primary = p.Name()
	}
}

// Search runs a query against the primary provider. Snippets are
// reduced to plain text and results are capped at opts.Count.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	p, ok := m.providers[m.primary]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured", m.primary)
	}
	if opts.Count <= 0 {
		opts.Count = DefaultCount
	}

	results, err := p.Search(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name(), err)
	}
	if len(results) > opts.Count {
		results = results[:opts.Count]
	}
	for i := range results {
		results[i].Title = CleanSnippet(results[i].Title)
		results[i].Snippet = CleanSnippet(results[i].Snippet)
	}
	return results, nil
}

// Providers returns the names of all registered providers, sorted.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Configured reports whether the primary provider is registered.
func (m *Manager) Configured() bool {
	if m == nil {
		return false
	}
	_, ok := m.providers[m.primary]
	return ok
}
