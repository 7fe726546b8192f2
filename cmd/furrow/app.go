package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nugget/furrow/internal/activity"
	"github.com/nugget/furrow/internal/agent"
	"github.com/nugget/furrow/internal/config"
	"github.com/nugget/furrow/internal/events"
	"github.com/nugget/furrow/internal/fieldlog"
	"github.com/nugget/furrow/internal/knowledge"
	"github.com/nugget/furrow/internal/llm"
	"github.com/nugget/furrow/internal/memory"
	"github.com/nugget/furrow/internal/prompts"
	"github.com/nugget/furrow/internal/search"
	"github.com/nugget/furrow/internal/tools"
	"github.com/nugget/furrow/internal/usage"
	"github.com/nugget/furrow/internal/weather"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// app holds every wired component for one process.
type app struct {
	bus           *events.Bus
	llm           *llm.MultiClient
	conversations memory.ConversationStore
	knowledge     *knowledge.Store
	fields        *fieldlog.Store
	usage         *usage.Store
	loop          *agent.Loop
	parser        *activity.Parser

	closers []io.Closer
}

// newApp opens the stores under cfg.DataDir and wires the chat loop and
// activity parser. A nil conversations store selects the SQLite one.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, conversations memory.ConversationStore) (_ *app, err error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	a := &app{bus: events.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.llm = createLLMClient(cfg, logger)

	if conversations == nil {
		sqlStore, err := memory.NewSQLiteStore(cfg.DatabasePath("conversations"))
		if err != nil {
			return nil, fmt.Errorf("open conversation store: %w", err)
		}
		a.closers = append(a.closers, sqlStore)
		conversations = sqlStore
	}
	a.conversations = conversations

	if a.knowledge, err = openKnowledge(cfg, logger); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.knowledge)

	if a.fields, err = fieldlog.NewStore(cfg.DatabasePath("fieldlog")); err != nil {
		return nil, fmt.Errorf("open fieldlog store: %w", err)
	}
	a.closers = append(a.closers, a.fields)
	if n, err := a.fields.SeedCatalog(ctx, fieldlog.SeedProducts); err != nil {
		logger.Warn("catalog seed failed", "error", err)
	} else if n > 0 {
		logger.Info("catalog seeded", "products", n)
	}

	if a.usage, err = openUsage(cfg); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.usage)

	policy, err := prompts.LoadPolicy(cfg.PromptsDir)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	wx := weather.NewClient(cfg.Weather.ArchiveURL)
	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, createSearchManager(cfg, logger), wx); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	retrieved := agent.NewCompositeContextProvider(logger,
		knowledge.NewRetriever(a.knowledge),
		fieldlog.NewFarmContext(a.fields),
	)

	loopOpts := []agent.Option{
		agent.WithRetriever(retrieved),
		agent.WithEventBus(a.bus),
		agent.WithUsage(a.usage, cfg),
		agent.WithHistoryLimit(cfg.Memory.HistoryLimit),
	}
	if cfg.Memory.ExtractionEnabled {
		extractor := memory.NewExtractor(a.knowledge, a.llm, cfg.Models.Extraction, logger)
		extractor.SetMinConfidence(cfg.Memory.MinConfidence)
		extractor.SetTimeout(cfg.Memory.ExtractionTimeout)
		loopOpts = append(loopOpts, agent.WithMemoryExtraction(extractor))
		logger.Info("memory extraction enabled", "model", cfg.Models.Extraction)
	}
	a.loop = agent.NewLoop(logger, a.llm, cfg.Models.Chat, policy, registry, conversations, loopOpts...)

	a.parser, err = activity.NewParser(a.llm, cfg.Models.Extraction, logger,
		activity.WithCatalog(a.fields),
		activity.WithFields(a.fields),
		activity.WithRetriever(retrieved),
		activity.WithWeather(wx),
		activity.WithEventBus(a.bus),
		activity.WithUsage(a.usage, cfg),
	)
	if err != nil {
		return nil, fmt.Errorf("activity parser: %w", err)
	}

	logger.Info("tools registered", "tools", registry.Names())
	return a, nil
}

// Close closes every store in reverse open order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// createLLMClient routes each configured model to its provider. Models
// not listed fall back to OpenAI when a key is configured and to the
// local Ollama otherwise.
func createLLMClient(cfg *config.Config, logger *slog.Logger) *llm.MultiClient {
	ollama := llm.NewOllamaClient(cfg.Ollama.URL, logger)

	var fallback llm.Client = ollama
	var openai *llm.OpenAIClient
	if cfg.OpenAI.Configured() {
		openai = llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, logger)
		fallback = openai
	}

	multi := llm.NewMultiClient(fallback)
	multi.AddProvider("ollama", ollama)
	if openai != nil {
		multi.AddProvider("openai", openai)
		logger.Info("OpenAI provider configured")
	}
	for _, m := range cfg.Models.Available {
		multi.AddModel(m.Name, m.Provider)
	}
	return multi
}

// createSearchManager registers each configured web search backend.
// An empty manager still serves web_search with a "not configured" note.
func createSearchManager(cfg *config.Config, logger *slog.Logger) *search.Manager {
	mgr := search.NewManager(cfg.Search.Primary)
	if cfg.Search.SearXNG.Configured() {
		mgr.Register(search.NewSearXNG(cfg.Search.SearXNG.URL))
		logger.Info("web search provider configured", "provider", "searxng")
	}
	if cfg.Search.Brave.Configured() {
		mgr.Register(search.NewBrave(cfg.Search.Brave.APIKey))
		logger.Info("web search provider configured", "provider", "brave")
	}
	return mgr
}

// openKnowledge opens the memory and document store with the configured
// embedder. Without embeddings nothing is ever retrieved.
func openKnowledge(cfg *config.Config, logger *slog.Logger) (*knowledge.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	var emb knowledge.Embedder
	if cfg.Embeddings.Enabled {
		switch cfg.Embeddings.Provider {
		case "ollama":
			emb = knowledge.NewOllamaEmbedder(cfg.Ollama.URL, cfg.Embeddings.Model)
		default:
			emb = knowledge.NewOpenAIEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.Embeddings.Model)
		}
		logger.Info("embeddings enabled", "provider", cfg.Embeddings.Provider, "model", cfg.Embeddings.Model)
	}

	store, err := knowledge.NewStore(cfg.DatabasePath("knowledge"), emb, logger)
	if err != nil {
		return nil, fmt.Errorf("open knowledge store: %w", err)
	}
	return store, nil
}

func openUsage(cfg *config.Config) (*usage.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	store, err := usage.NewStore(cfg.DatabasePath("usage"))
	if err != nil {
		return nil, fmt.Errorf("open usage store: %w", err)
	}
	return store, nil
}
