// Package main is the personsearch CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/personsearch/internal/app"
	"github.com/hyperjump/personsearch/internal/cli"
	"github.com/hyperjump/personsearch/internal/config"
	"github.com/hyperjump/personsearch/internal/imaging"
	"github.com/hyperjump/personsearch/internal/models"
	"github.com/hyperjump/personsearch/internal/search"
	"github.com/hyperjump/personsearch/internal/server"
	"github.com/hyperjump/personsearch/internal/storage"
	"github.com/hyperjump/personsearch/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/personsearch/config.yaml"
	defaultServerURL  = "http://localhost:8000"
)

// loadConfig loads config from path. When path is the default, config.yaml in the current directory
// wins when present; when neither exists the configuration comes from the environment alone.
// Returns the config and the path that was actually loaded ("" for environment only).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg, err := config.Load("")
			if err != nil {
				return nil, "", err
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "index":
		runIndex()
	case "search":
		runSearch()
	case "datasets":
		runDatasets()
	case "status":
		runStatus()
	case "runs":
		runRuns()
	case "version", "--version", "-v":
		fmt.Printf("personsearch version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// initApp loads configuration, creates the logger and initializes the application context.
// Configuration errors are fatal: the process exits before serving or indexing anything.
func initApp(ctx context.Context, configPath string, debugFlag bool) (*app.App, *zap.Logger) {
	cfg, resolvedConfigPath, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	a := app.New(cfg, logger)
	if err := a.Init(ctx); err != nil {
		var cerr *config.ConfigurationError
		if errors.As(err, &cerr) {
			logger.Error("invalid configuration", zap.Error(err))
		} else {
			logger.Error("failed to initialize", zap.Error(err))
		}
		_ = logger.Sync()
		os.Exit(1)
	}
	return a, logger
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	a, logger := initApp(context.Background(), *configPath, *debug)
	defer logger.Sync()
	cfg := a.Config()

	svc := search.NewService(a.Gate(),
		search.WithLogger(logger),
		search.WithMaxTopK(cfg.Search.MaxTopK),
		search.WithStoreTimeout(cfg.Vector.Timeout),
	)
	srv := server.NewServer(svc, a, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
	if err := a.Shutdown(); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	recreate := fs.Bool("recreate", true, "drop and recreate the collection before indexing")
	skipExisting := fs.Bool("skip-existing", false, "leave samples whose point already exists untouched")
	outputFormat := fs.String("output", "text", "output format: text or json")
	maxErrors := fs.Int("max-errors", 20, "failures to list in text output (0 = all)")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *recreate && *skipExisting {
		fmt.Fprintln(os.Stderr, "-skip-existing has no effect with -recreate; pass -recreate=false")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, logger := initApp(ctx, *configPath, *debug)
	defer logger.Sync()
	defer a.Shutdown()

	report, err := a.Reindex(ctx, *recreate, *skipExisting)
	if report != nil {
		if werr := cli.WriteReport(os.Stdout, report, format, *maxErrors); werr != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", werr)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Indexing failed: %v\n", err)
		_ = a.Shutdown()
		os.Exit(1)
	}
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: personsearch search [flags] <text>\n       personsearch search [flags] -image <file>\n\n")
	fmt.Fprintf(fs.Output(), "Text is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  personsearch search man in a red jacket
  personsearch search -top-k 20 -datasets VC-Clothes,PRCC "woman with a backpack"
  personsearch search -image query.jpg -output compact
  personsearch search -server "" person with glasses     # query the collection directly
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// searchConfigPathFromArgs returns the -config value from args, or defaultPath if absent.
func searchConfigPathFromArgs(args []string, defaultPath string) string {
	for i := 0; i < len(args); i++ {
		if (args[i] == "-config" || args[i] == "--config") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return defaultPath
}

// searchDefaultTopKFromConfig returns search.default_top_k from the config at path,
// or 5 when the config cannot be loaded.
func searchDefaultTopKFromConfig(path string) int {
	cfg, _, err := loadConfig(path)
	if err != nil || cfg.Search.DefaultTopK <= 0 {
		return 5
	}
	return cfg.Search.DefaultTopK
}

func runSearch() {
	args := searchArgsReorder(os.Args[2:])
	defaultTopK := searchDefaultTopKFromConfig(searchConfigPathFromArgs(args, defaultConfigPath))

	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, `server URL (empty = query the collection directly)`)
	imagePath := fs.String("image", "", "search by this image instead of text")
	topK := fs.Int("top-k", defaultTopK, "number of results")
	datasets := fs.String("datasets", "", "comma-separated dataset names to restrict results to")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(args)

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	text := buildSearchQuery(fs.Args())
	if text == "" && *imagePath == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	var image []byte
	if *imagePath != "" {
		if image, err = os.ReadFile(*imagePath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read image: %v\n", err)
			os.Exit(1)
		}
	}
	filter := utils.SplitList(*datasets)
	ctx := context.Background()

	var response *models.SearchResponse
	if *serverURL != "" {
		client := cli.NewClient(*serverURL)
		if image != nil {
			response, err = client.SearchImage(ctx, *imagePath, image, *topK, filter)
		} else {
			response, err = client.SearchText(ctx, text, *topK, filter)
		}
	} else {
		a, logger := initApp(ctx, *configPath, false)
		defer logger.Sync()
		defer a.Shutdown()
		svc := search.NewService(a.Gate(), search.WithLogger(logger), search.WithMaxTopK(a.Config().Search.MaxTopK))
		if image != nil {
			response, err = svc.SearchByImage(ctx, image, imaging.ContentType(image, *imagePath), *topK, filter)
		} else {
			response, err = svc.SearchByText(ctx, text, *topK, filter)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runDatasets() {
	fs := flag.NewFlagSet("datasets", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = query the collection directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	ctx := context.Background()
	var names []string
	if *serverURL != "" {
		names, err = cli.NewClient(*serverURL).Datasets(ctx)
	} else {
		a, logger := initApp(ctx, *configPath, false)
		defer logger.Sync()
		defer a.Shutdown()
		names, err = search.NewService(a.Gate(), search.WithLogger(logger)).Datasets(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Listing datasets failed: %v\n", err)
		os.Exit(1)
	}
	_ = cli.WriteDatasets(os.Stdout, names, format)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read the collection and ledger directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	ctx := context.Background()
	var status map[string]any
	if *serverURL != "" {
		s, err := cli.NewClient(*serverURL).Status(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = s
	} else {
		a, logger := initApp(ctx, *configPath, false)
		defer logger.Sync()
		defer a.Shutdown()
		status = directStatus(ctx, a)
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		keys := make([]string, 0, len(status))
		for k := range status {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k == "last_run" {
				continue
			}
			fmt.Printf("%-18s %v\n", k+":", status[k])
		}
		if run, ok := status["last_run"].(map[string]any); ok {
			fmt.Println()
			fmt.Println("# last indexing run")
			for _, k := range []string{"run_id", "started_at", "total_considered", "succeeded", "failed", "skipped", "cancelled"} {
				fmt.Printf("%-18s %v\n", k+":", run[k])
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func runRuns() {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read the ledger directly)")
	runID := fs.String("run", "", "show the failures of this run instead of listing runs")
	offset := fs.Int("offset", 0, "runs to skip")
	limit := fs.Int("limit", 20, "runs to list")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	ctx := context.Background()

	var (
		page     *cli.RunsPage
		failures []models.SampleFailure
	)
	if *serverURL != "" {
		client := cli.NewClient(*serverURL)
		if *runID != "" {
			failures, err = client.Failures(ctx, *runID)
		} else {
			page, err = client.Runs(ctx, *offset, *limit)
		}
	} else {
		a, logger := initApp(ctx, *configPath, false)
		defer logger.Sync()
		defer a.Shutdown()
		ledger := a.Ledger()
		if ledger == nil {
			fmt.Fprintln(os.Stderr, "Run ledger is unavailable")
			os.Exit(1)
		}
		if *runID != "" {
			failures, err = ledger.Failures(ctx, *runID)
		} else {
			page = &cli.RunsPage{}
			if page.Runs, err = ledger.ListRuns(ctx, *offset, *limit); err == nil {
				page.Total, err = ledger.CountRuns(ctx)
			}
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Listing runs failed: %v\n", err)
		os.Exit(1)
	}
	if page != nil {
		_ = cli.WriteRuns(os.Stdout, page, format)
		return
	}
	_ = cli.WriteFailures(os.Stdout, failures, format)
}

// directStatus builds the same document as GET /status without a running server.
func directStatus(ctx context.Context, a *app.App) map[string]any {
	cfg := a.Config()
	status := map[string]any{
		"ready":        a.Gate().Ready(),
		"state":        a.Gate().State().String(),
		"model":        cfg.Embedding.ModelName + "/" + cfg.Embedding.ModelDataset,
		"collection":   cfg.Vector.Collection,
		"vector_store": cfg.Vector.Type,
	}
	if collab, err := a.Gate().Acquire(); err == nil {
		status["dimension"] = collab.Dimension
		if n, err := collab.Store.Count(ctx); err == nil {
			status["points"] = n
		}
	}
	if ledger := a.Ledger(); ledger != nil {
		if last, err := ledger.LastRun(ctx, cfg.Vector.Collection); err == nil {
			status["last_run"] = reportFields(last)
		}
	}
	if fp, err := storage.MeasureFootprint(cfg.Ledger.DatabasePath, cfg.Vector.SnapshotPath); err == nil {
		status["disk_usage_bytes"] = fp.Total()
	}
	return status
}

func reportFields(r *models.IndexingReport) map[string]any {
	b, _ := json.Marshal(r)
	out := map[string]any{}
	_ = json.Unmarshal(b, &out)
	return out
}

func printUsage() {
	fmt.Println(`personsearch - Person appearance search over labeled image datasets

Usage:
  personsearch server [flags]             Start the HTTP server
  personsearch index [flags]              Crawl the dataset root and (re)index it
  personsearch search [flags] <text>      Search by text (or -image <file>)
  personsearch datasets [flags]           List indexed dataset names
  personsearch status [flags]             Show readiness, collection size and the last indexing run
  personsearch runs [flags]               List recorded indexing runs (or -run <id> for its failures)
  personsearch version                    Show version
  personsearch help                       Show this help

Configuration:
  Settings come from --config (default: /usr/local/etc/personsearch/config.yaml, or ./config.yaml),
  then .env, then the environment. Required: MODEL_NAME, MODEL_DATASET, QDRANT_COLLECTION,
  EMBED_BATCH_SIZE, DATASET_ROOT and, for qdrant or milvus, QDRANT_HOST/QDRANT_PORT.

Server Flags:
  --config string    Config file path
  --debug            Enable debug logging

Index Flags:
  --config string    Config file path
  --recreate         Drop and recreate the collection first (default: true)
  --skip-existing    Keep points that already exist (requires --recreate=false)
  --output string    Output format: text or json (default: text)
  --max-errors int   Failures listed in text output (default: 20)

Search Flags:
  --server string    Server URL (default: http://localhost:8000). Use --server "" to query directly.
  --image string     Query image file
  --top-k int        Number of results (default: 5)
  --datasets string  Comma-separated dataset filter
  --output string    Output format: text, compact, or json (default: text)

Examples:
  personsearch server
  personsearch index
  personsearch index --recreate=false --skip-existing
  personsearch search "man in a red jacket"
  personsearch search --image query.jpg --datasets VC-Clothes
  personsearch status --output json`)
}
