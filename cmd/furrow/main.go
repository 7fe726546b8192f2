// Furrow turns spoken field notes into structured farm activity records
// and answers questions about them through a tool-using chat assistant.
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	furrow serve                 Start the API server
//	furrow init [dir]            Initialize a working directory with defaults
//	furrow ask <question>        Ask a single question
//	furrow parse <transcript>    Extract one activity record from a transcript
//	furrow ingest <file.md>      Import a markdown document for retrieval
//	furrow usage                 Show today's model usage and cost
//	furrow version               Print version and build information
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/furrow/internal/activity"
	"github.com/nugget/furrow/internal/agent"
	"github.com/nugget/furrow/internal/api"
	"github.com/nugget/furrow/internal/buildinfo"
	"github.com/nugget/furrow/internal/config"
	"github.com/nugget/furrow/internal/connwatch"
	"github.com/nugget/furrow/internal/ingest"
	"github.com/nugget/furrow/internal/memory"
	"github.com/nugget/furrow/internal/mqtt"
)

// main constructs the OS-level environment and delegates to [run] so
// the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// options are the global flags shared by every subcommand.
type options struct {
	configPath string
	outputFmt  string // "text" or "json"
	email      string
	farmID     string
}

// run is the real entry point. Arguments are parsed by hand because the
// flag package's globals get in the way of calling run from parallel
// tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var opts options
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			opts.configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			opts.outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			opts.outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			opts.outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-email" && i+1 < len(args):
			opts.email = args[i+1]
			i++
		case args[i] == "-farm" && i+1 < len(args):
			opts.farmID = args[i+1]
			i++
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if opts.outputFmt == "" {
		opts.outputFmt = "text"
	}
	if opts.outputFmt != "text" && opts.outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", opts.outputFmt)
	}
	if opts.email == "" {
		opts.email = api.DefaultEmail
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, opts)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: furrow ask <question>")
		}
		return runAsk(ctx, stdout, opts, strings.Join(cmdArgs, " "))
	case "parse":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: furrow parse <transcript>")
		}
		return runParse(ctx, stdout, opts, strings.Join(cmdArgs, " "))
	case "ingest":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: furrow ingest <file.md>")
		}
		return runIngest(ctx, stdout, opts, cmdArgs)
	case "usage":
		return runUsage(ctx, stdout, opts)
	case "version":
		return runVersion(stdout, opts.outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Furrow - voice field notes to compliance records")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: furrow [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask          Ask a single question")
	fmt.Fprintln(w, "  parse        Extract an activity record from a transcript")
	fmt.Fprintln(w, "  ingest       Import markdown documents for retrieval")
	fmt.Fprintln(w, "  usage        Show today's model usage and cost")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w, "  -email <addr>     Act as this user (default: "+api.DefaultEmail+")")
	fmt.Fprintln(w, "  -farm <id>        Farm to parse against")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runServe is the primary operating mode. It blocks until SIGINT or
// SIGTERM, then drains HTTP requests and background extractions.
func runServe(ctx context.Context, stdout io.Writer, opts options) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, cfgPath, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger, err := configuredLogger(stdout, cfg)
	if err != nil {
		return err
	}
	logger.Info("starting Furrow", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"chat_model", cfg.Models.Chat,
		"extraction_model", cfg.Models.Extraction,
	)

	a, err := newApp(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a.loop, a.conversations, logger)
	server.SetParser(a.parser)
	server.SetFieldStore(a.fields)
	server.SetEventBus(a.bus)
	server.SetRateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window)

	watch := connwatch.NewManager(a.bus, logger)
	defer watch.Stop()
	watch.Watch(ctx, connwatch.Service{Name: "llm", Probe: a.llm.Ping})
	server.SetServiceStatus(watch)

	var publisher *mqtt.Publisher
	if cfg.MQTT.Configured() {
		publisher = mqtt.New(cfg.MQTT, a.bus, logger)
		go func() {
			if err := publisher.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		watch.Watch(ctx, connwatch.Service{Name: "mqtt", Probe: publisher.AwaitConnection})
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown", "error", err)
	}
	if publisher != nil {
		if err := publisher.Stop(shutdownCtx); err != nil {
			logger.Warn("mqtt shutdown", "error", err)
		}
	}
	a.loop.Wait()
	logger.Info("shutdown complete")
	return nil
}

// runAsk answers one question against an in-memory conversation store.
// Retrieval, tools, and usage accounting are the same as the server's.
func runAsk(ctx context.Context, stdout io.Writer, opts options, question string) error {
	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger, err := configuredLogger(io.Discard, cfg)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger, memory.NewStore())
	if err != nil {
		return err
	}
	defer a.Close()

	userID, _ := a.conversations.EnsureUser(ctx, opts.email)
	resp, err := a.loop.Run(ctx, agent.Request{UserID: userID, Message: question})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	a.loop.Wait()

	if opts.outputFmt == "json" {
		return writeJSON(stdout, resp)
	}
	fmt.Fprintln(stdout, resp.Answer)
	if resp.Capped {
		fmt.Fprintln(stdout, "(stopped after the tool-call limit)")
	}
	return nil
}

// runParse extracts one activity from a transcript and prints it.
func runParse(ctx context.Context, stdout io.Writer, opts options, transcript string) error {
	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger, err := configuredLogger(io.Discard, cfg)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger, memory.NewStore())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.parser.Parse(ctx, activity.Request{
		Transcript: transcript,
		UserID:     memory.UserIDForEmail(opts.email),
		FarmID:     opts.farmID,
	})
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	return writeJSON(stdout, res)
}

// runIngest imports markdown files into the knowledge store, replacing
// any earlier import of the same file.
func runIngest(ctx context.Context, stdout io.Writer, opts options, paths []string) error {
	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger, err := configuredLogger(stdout, cfg)
	if err != nil {
		return err
	}

	store, err := openKnowledge(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ing := ingest.NewMarkdownIngester(store, memory.UserIDForEmail(opts.email), logger)
	for _, p := range paths {
		n, err := ing.IngestFile(ctx, p)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", p, err)
		}
		fmt.Fprintf(stdout, "Ingested %d sections from %s\n", n, p)
	}
	return nil
}

// runUsage prints today's token usage and cost by model.
func runUsage(ctx context.Context, stdout io.Writer, opts options) error {
	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	store, err := openUsage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	now := time.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	byModel, err := store.SummaryByModel(ctx, start, now.Add(time.Second))
	if err != nil {
		return fmt.Errorf("usage summary: %w", err)
	}

	if opts.outputFmt == "json" {
		return writeJSON(stdout, byModel)
	}
	if len(byModel) == 0 {
		fmt.Fprintln(stdout, "No model calls today.")
		return nil
	}
	for model, s := range byModel {
		fmt.Fprintf(stdout, "%-28s %5d calls %9d in %8d out  $%.4f\n",
			model, s.TotalRecords, s.TotalInputTokens, s.TotalOutputTokens, s.TotalCostUSD)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newLogger creates a logger writing to w at the given level. Format
// "json" selects the JSON handler; anything else is text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func configuredLogger(w io.Writer, cfg *config.Config) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return newLogger(w, level, cfg.LogFormat), nil
}

// loadConfig locates and parses the YAML configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
