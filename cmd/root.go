package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"ferret/internal/capability"
	"ferret/internal/chunker"
	"ferret/internal/config"
	"ferret/internal/embed"
	"ferret/internal/extract"
	"ferret/internal/fulltext"
	"ferret/internal/indexer"
	"ferret/internal/scheduler"
	"ferret/internal/search"
	"ferret/internal/store"
	"ferret/internal/vectorindex"
)

var (
	flagConfig  string
	flagDB      string
	flagOllama  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "ferret",
	Short: "Local hybrid search over your files",
	Long: `ferret indexes local folders into a vector index and a full-text index,
then answers queries by fusing both rankings into one result list.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", defaultConfigPath(), "config file path")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default ~/.ferret/index.db)")
	rootCmd.PersistentFlags().StringVar(&flagOllama, "ollama", "", "ollama base URL (default http://localhost:11434)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ferret", "config.yaml")
}

// loadConfig layers the flag overrides on top of the config file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	if flagOllama != "" {
		cfg.Ollama.BaseURL = flagOllama
	}
	return cfg, nil
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// app holds the wired component graph shared by the serve, index, and search
// commands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	provider  capability.Provider
	engine    *search.Engine
	cache     *search.Cache
	scheduler *scheduler.Scheduler
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	vm, err := vectorindex.New(st.DB(), cfg.Embedding.Dimension)
	if err != nil {
		st.Close()
		return nil, err
	}
	fm, err := fulltext.New(st.DB())
	if err != nil {
		st.Close()
		return nil, err
	}

	provider := capability.NewOllamaProvider(cfg.Ollama.BaseURL,
		cfg.Ollama.EmbedModel, cfg.Ollama.TranscribeModel, cfg.Ollama.DescribeModel)
	co := embed.NewCoordinator(provider.Embedder(),
		embed.WithBatchSize(cfg.Embedding.BatchSize),
		embed.WithLogger(logger))
	ix := indexer.New(st, vm, fm,
		extract.New(provider.Transcriber(), provider.Describer()),
		chunker.New(cfg.Chunking.Size, cfg.Chunking.Overlap),
		co, logger)

	cache := search.NewCache(cfg.Search.CacheTTL)
	eng := search.New(st, vm, fm, co,
		search.WithTopK(cfg.Search.TopK),
		search.WithCache(cache),
		search.WithLogger(logger))

	sched, err := scheduler.New(st, ix,
		scheduler.WithWorkers(cfg.Indexing.Workers),
		scheduler.WithRetry(cfg.Indexing.MaxRetries, cfg.Indexing.RetryDelay),
		scheduler.WithCache(cache),
		scheduler.WithLogger(logger))
	if err != nil {
		st.Close()
		return nil, err
	}
	sched.Start()

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		provider:  provider,
		engine:    eng,
		cache:     cache,
		scheduler: sched,
	}, nil
}

// close drains the scheduler, then releases the provider and the store.
func (a *app) close(ctx context.Context) {
	if err := a.scheduler.Close(ctx); err != nil {
		a.logger.Error("scheduler shutdown", "error", err)
	}
	a.provider.Close()
	a.store.Close()
}
