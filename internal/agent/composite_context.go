package agent

import (
	"context"
	"log/slog"
	"strings"
)

// ContextProvider supplies retrieved text for the context block.
// An empty string means nothing relevant was found.
type ContextProvider interface {
	RetrieveContext(ctx context.Context, userID, query string) (string, error)
}

// CompositeContextProvider combines multiple context providers.
// Each provider's output is joined with a blank line.
type CompositeContextProvider struct {
	providers []ContextProvider
	logger    *slog.Logger
}

// NewCompositeContextProvider creates a composite from multiple providers.
func NewCompositeContextProvider(logger *slog.Logger, providers ...ContextProvider) *CompositeContextProvider {
	if logger == nil {
		logger = slog.Default()
	}
	c := &CompositeContextProvider{logger: logger}
	for _, p := range providers {
		c.Add(p)
	}
	return c
}

// Add appends a provider to the composite.
func (c *CompositeContextProvider) Add(provider ContextProvider) {
	if provider != nil {
		c.providers = append(c.providers, provider)
	}
}

// RetrieveContext calls all providers and combines their output. A
// failing provider is logged and skipped.
func (c *CompositeContextProvider) RetrieveContext(ctx context.Context, userID, query string) (string, error) {
	var parts []string

	for _, p := range c.providers {
		content, err := p.RetrieveContext(ctx, userID, query)
		if err != nil {
			c.logger.Warn("context provider failed", "provider", providerName(p), "error", err)
			continue
		}
		if content != "" {
			parts = append(parts, content)
		}
	}

	return strings.Join(parts, "\n\n"), nil
}

func providerName(p ContextProvider) string {
	if s, ok := p.(interface{ Name() string }); ok {
		return s.Name()
	}
	return "unnamed"
}
