// Package main is the ruiji CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/ruiji/internal/cli"
	"github.com/hyperjump/ruiji/internal/config"
	"github.com/hyperjump/ruiji/internal/corpus"
	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/internal/indexer"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/recommend"
	"github.com/hyperjump/ruiji/internal/reranker"
	"github.com/hyperjump/ruiji/internal/resilience"
	"github.com/hyperjump/ruiji/internal/retriever"
	"github.com/hyperjump/ruiji/internal/scorer"
	"github.com/hyperjump/ruiji/internal/server"
	"github.com/hyperjump/ruiji/internal/storage"
	"github.com/hyperjump/ruiji/internal/vector"
	"github.com/hyperjump/ruiji/internal/watcher"
	"github.com/hyperjump/ruiji/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/ruiji/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory wins if present; when neither exists the built-in defaults are used.
// Returns the config and the path that was actually loaded ("" for defaults).
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
			cfg, err := config.LoadDefault()
			return cfg, "", err
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
	case "recommend":
		runRecommend()
	case "ingest":
		runIngest()
	case "build":
		runBuild()
	case "delete":
		runDelete()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("ruiji version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (feed changes, retries, breaker state)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	var watchSvc server.WatchService
	if len(cfg.Watch.Directories) > 0 {
		w := watcher.NewWatcher(watcher.Config{
			Roots:      cfg.Watch.Directories,
			Extensions: cfg.Watch.Extensions,
			Recursive:  cfg.Watch.RecursiveOrDefault(),
			Debounce:   cfg.Watch.Debounce,
		}, components.Indexer, watcher.WithLogger(logger))
		if err := w.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		w.SyncExistingFiles()
		defer w.Stop()
		watchSvc = w
	}

	srv := server.NewServer(
		components.Composer,
		components.Indexer,
		components.Storage,
		cfg,
		logger,
		watchSvc,
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func printRecommendUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: ruiji recommend [flags] <headline text>\n       ruiji recommend [flags] --id <item-id>\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  ruiji recommend --id 3f1c9a52-8c1e-5a57-9d4e-0c6b2f1e7a11
  ruiji recommend stocks rally as tech shares surge
  ruiji recommend --top-k-retrieve 20 --top-k-final 5 --output json "storm hits coast"
`)
}

// buildQuery joins all positional args with spaces so multi-word headlines
// work the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves any flags (and their values) that appear after the headline
// to the front so that flag.Parse() sees them.
func argsReorder(args []string) []string {
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

func runRecommend() {
	fs := flag.NewFlagSet("recommend", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = load the corpus from storage directly)")
	id := fs.String("id", "", "recommend for a corpus item by id instead of free text")
	topKRetrieve := fs.Int("top-k-retrieve", 0, "stage-1 candidate count (0 = configured default)")
	topKFinal := fs.Int("top-k-final", 0, "number of recommendations (0 = configured default)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printRecommendUsage(fs) }
	_ = fs.Parse(argsReorder(os.Args[2:]))

	req := models.RecommendRequest{
		ID:           *id,
		Text:         buildQuery(fs.Args()),
		TopKRetrieve: *topKRetrieve,
		TopKFinal:    *topKFinal,
	}
	if req.ID == "" && req.Text == "" {
		printRecommendUsage(fs)
		os.Exit(1)
	}

	var response *models.RecommendResponse
	if *serverURL != "" {
		res, err := recommendViaHTTP(*serverURL, &req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Recommend failed: %v\n", err)
			os.Exit(1)
		}
		response = res
	} else {
		components, cleanup := directComponents(*configPath)
		defer cleanup()
		res, err := components.Composer.Recommend(context.Background(), req)
		switch {
		case models.IsNoResults(err):
			response = &models.RecommendResponse{Query: req.Text, QueryID: req.ID, Reason: "no recommendations: " + err.Error()}
		case err != nil:
			fmt.Fprintf(os.Stderr, "Recommend failed: %v\n", err)
			os.Exit(1)
		default:
			response = res
		}
	}
	if err := cli.WriteRecommendations(os.Stdout, response, cli.ParseOutputFormat(*outputFormat)); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func recommendViaHTTP(serverURL string, req *models.RecommendRequest) (*models.RecommendResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/recommend", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var response models.RecommendResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

// statusResponse is the shape of GET /api/v1/status.
type statusResponse struct {
	Index          indexer.Stats          `json:"index"`
	StoredItems    int64                  `json:"stored_items"`
	DiskUsageBytes *int64                 `json:"disk_usage_bytes,omitempty"`
	Config         map[string]interface{} `json:"config,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use storage directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
	} else {
		components, cleanup := directComponents(*configPath)
		defer cleanup()
		count, err := components.Storage.CountItems(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count items failed: %v\n", err)
			os.Exit(1)
		}
		status = statusResponse{Index: components.Indexer.Stats(), StoredItems: count}
		if diskBytes, err := storage.DiskUsageBytes(components.Config.Storage.DatabasePath); err == nil {
			status.DiskUsageBytes = &diskBytes
		}
	}
	if cli.ParseOutputFormat(*outputFormat) == cli.OutputJSON {
		if err := cli.WriteJSON(os.Stdout, status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}
	writeStatusText(os.Stdout, &status)
}

func writeStatusText(w io.Writer, status *statusResponse) {
	fmt.Fprintf(w, "state:              %s\n", status.Index.State)
	fmt.Fprintf(w, "items:              %d   # registered headlines\n", status.Index.Items)
	fmt.Fprintf(w, "vectors:            %d   # vectors in the served index\n", status.Index.Vectors)
	fmt.Fprintf(w, "stored_items:       %d   # rows in storage\n", status.StoredItems)
	fmt.Fprintf(w, "index_type:         %s\n", status.Index.IndexType)
	if status.Index.Dimensions > 0 {
		fmt.Fprintf(w, "dimensions:         %d\n", status.Index.Dimensions)
	}
	if status.Index.Recall > 0 {
		fmt.Fprintf(w, "recall:             %.3f   # measured against exact search\n", status.Index.Recall)
	}
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d\n", *status.DiskUsageBytes)
	}
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: ruiji ingest [flags] <feed-file-or-directory>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	components, cleanup := directComponents(*configPath)
	defer cleanup()

	ctx := context.Background()
	info, err := os.Stat(path)
	if err != nil {
		fmt.Printf("Failed to stat path: %v\n", err)
		os.Exit(1)
	}
	if info.IsDir() {
		n, err := components.Indexer.IndexDirectory(ctx, path, components.Config.Watch.Extensions)
		if err != nil {
			fmt.Printf("Ingesting directory failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Ingested %d headline(s) from %s\n", n, path)
		return
	}
	// Single file: no extension filter beyond what the reader supports
	n, err := components.Indexer.IndexFile(ctx, path, nil)
	if err != nil {
		fmt.Printf("Ingesting failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Ingested %d headline(s) from %s\n", n, path)
}

func runBuild() {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	components, cleanup := directComponents(*configPath)
	defer cleanup()
	if err := components.Indexer.Build(context.Background()); err != nil {
		fmt.Printf("Build failed: %v\n", err)
		os.Exit(1)
	}
	stats := components.Indexer.Stats()
	fmt.Printf("Built %s index over %d item(s)\n", stats.IndexType, stats.Vectors)
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: ruiji delete [flags] <item-id>")
		os.Exit(1)
	}
	id := fs.Arg(0)

	components, cleanup := directComponents(*configPath)
	defer cleanup()
	if err := components.Indexer.RemoveItem(context.Background(), id); err != nil {
		fmt.Printf("Deletion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Item deleted: %s\n", id)
}

// directComponents loads config and components for commands that work on storage
// without a running server. It exits on failure.
func directComponents(configPath string) (*Components, func()) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return components, func() {
		components.Close()
		_ = logger.Sync()
	}
}

// Components holds initialized services.
type Components struct {
	Config   *config.Config
	Storage  storage.Storage
	Embedder embedding.Embedder
	Scorer   scorer.Scorer
	Indexer  *indexer.Indexer
	Composer *recommend.Composer
}

func (c *Components) Close() {
	if c.Indexer != nil {
		_ = c.Indexer.Close()
	}
	if c.Scorer != nil {
		_ = c.Scorer.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func breakerConfig(cfg *config.Config, name string) resilience.BreakerConfig {
	return resilience.BreakerConfig{
		Name:             name,
		MaxRequests:      cfg.Breaker.MaxRequests,
		Interval:         cfg.Breaker.Interval,
		Timeout:          cfg.Breaker.Timeout,
		FailureThreshold: cfg.Breaker.FailureThreshold,
	}
}

func newEmbedder(cfg *config.Config, logger *zap.Logger) (embedding.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "onnx":
		onnx, err := embedding.NewONNXEmbedder(cfg.Embedding.ModelPath, cfg.Embedding.Dimensions, cfg.Embedding.MaxTokens)
		if err == nil {
			return onnx, nil
		}
		logger.Warn("onnx embedder unavailable, falling back to hash embeddings",
			zap.String("model_path", cfg.Embedding.ModelPath), zap.Error(err))
		return embedding.NewHashEmbedder(cfg.Embedding.Dimensions), nil
	case "ollama":
		return embedding.NewOllamaEmbedder(embedding.OllamaConfig{
			BaseURL:          cfg.Embedding.OllamaURL,
			Model:            cfg.Embedding.OllamaModel,
			Dimensions:       cfg.Embedding.Dimensions,
			BatchConcurrency: cfg.Embedding.BatchConcurrency,
			Timeout:          cfg.Embedding.Timeout,
		})
	default:
		return embedding.NewHashEmbedder(cfg.Embedding.Dimensions), nil
	}
}

func newScorer(cfg *config.Config, embedder embedding.Embedder, logger *zap.Logger) (scorer.Scorer, error) {
	switch cfg.Scorer.Type {
	case "cosine":
		return scorer.NewCosineScorer(embedder), nil
	case "cross-encoder":
		ce, err := scorer.NewCrossEncoderScorer(cfg.Scorer.ModelPath, cfg.Scorer.MaxTokens)
		if err == nil {
			return ce, nil
		}
		logger.Warn("cross-encoder unavailable, falling back to lexical scoring",
			zap.String("model_path", cfg.Scorer.ModelPath), zap.Error(err))
	}
	return scorer.NewLexicalScorer(cfg.Scorer.Analyzer)
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c := &Components{Config: cfg, Storage: store}

	base, err := newEmbedder(cfg, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	var embedder embedding.Embedder = base
	if cfg.Embedding.CacheSize > 0 {
		embedder = embedding.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize)
	}
	embedder = resilience.NewEmbedder(embedder, breakerConfig(cfg, "embedder"), logger)
	c.Embedder = embedder

	pairwise, err := newScorer(cfg, embedder, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize scorer: %w", err)
	}
	c.Scorer = resilience.NewScorer(pairwise, breakerConfig(cfg, "scorer"), logger)

	indexType := cfg.Vector.IndexType
	if indexType == string(vector.IndexTypeFAISS) && !vector.IsFAISSAvailable() {
		logger.Warn("faiss not available in this build, falling back to exact index")
		indexType = string(vector.IndexTypeExact)
	}
	registry := corpus.NewRegistry()
	idx, err := indexer.NewIndexer(registry, embedder, indexer.Config{
		IndexType: indexType,
		HNSW: vector.HNSWConfig{
			M:              cfg.Vector.M,
			EfConstruction: cfg.Vector.EfConstruction,
			EfSearch:       cfg.Vector.EfSearch,
			Seed:           cfg.Vector.Seed,
		},
		RecallThreshold:  cfg.Vector.RecallThreshold,
		RecallSampleSize: cfg.Vector.RecallSampleSize,
		RecallK:          cfg.Recommend.TopKRetrieve,
	}, indexer.WithLogger(logger), indexer.WithStorage(store))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize indexer: %w", err)
	}
	c.Indexer = idx
	n, err := idx.Load(context.Background())
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}
	logger.Info("corpus loaded",
		zap.Int("items", n),
		zap.String("index_type", indexType),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("scorer", c.Scorer.Name()),
		zap.Bool("faiss_available", vector.IsFAISSAvailable()))

	ret, err := retriever.New(embedder, idx)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize retriever: %w", err)
	}
	rr, err := reranker.New(c.Scorer, registry, cfg.Scorer.Concurrency)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize reranker: %w", err)
	}
	composer, err := recommend.NewComposer(registry, ret, rr, composerOptions(cfg), recommend.WithLogger(logger))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize composer: %w", err)
	}
	c.Composer = composer
	return c, nil
}

func composerOptions(cfg *config.Config) recommend.Options {
	return recommend.Options{
		TopKRetrieve:           cfg.Recommend.TopKRetrieve,
		TopKFinal:              cfg.Recommend.TopKFinal,
		SelfExclusion:          cfg.Recommend.SelfExclusionOrDefault(),
		MaxAttempts:            cfg.Recommend.MaxAttempts,
		InitialBackoff:         cfg.Recommend.InitialBackoff,
		MaxBackoff:             cfg.Recommend.MaxBackoff,
		DegradeOnScorerFailure: cfg.Recommend.DegradeOnScorerFailure,
		MaxRestarts:            cfg.Recommend.MaxRestarts,
	}
}

func printUsage() {
	fmt.Println(`ruiji - Related headline recommendations

Usage:
  ruiji server [flags]                Start the HTTP server
  ruiji recommend [flags] <headline>  Recommend related headlines for text or --id
  ruiji ingest [flags] <path>         Ingest a feed file or directory (.csv, .xlsx, .txt)
  ruiji build [flags]                 Rebuild the similarity index
  ruiji delete [flags] <id>           Delete an item
  ruiji status [flags]                Show index and storage status
  ruiji version                       Show version
  ruiji help                          Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/ruiji/config.yaml)
  --debug            Enable debug logging

Recommend Flags:
  --server string        Server URL (default: http://localhost:8080). Use --server "" to load storage directly.
  --id string            Recommend for a corpus item instead of free text
  --top-k-retrieve int   Stage-1 candidate count (default from config)
  --top-k-final int      Number of recommendations (default from config)
  --output string        Output format: text or json (default: text)

Status Flags:
  --server string    Server URL (default: http://localhost:8080). Use --server "" for direct storage.
  --output string    Output format: text or json (default: text)

Environment:
  RUIJI_* variables override config values, e.g. RUIJI_RECOMMEND_TOP_K_FINAL=5

Examples:
  ruiji server
  ruiji ingest ./feeds
  ruiji recommend stocks rally as tech shares surge
  ruiji recommend --id h1 --output json
  ruiji status --output json`)
}
