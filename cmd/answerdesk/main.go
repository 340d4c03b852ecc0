// Command answerdesk runs the conversational QA engine.
//
// Usage:
//
//	answerdesk serve --config config.yaml
//	answerdesk validate --config config.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/redis/go-redis/v9"

	"github.com/answerdesk/answerdesk/pkg/accounting"
	"github.com/answerdesk/answerdesk/pkg/classifier"
	"github.com/answerdesk/answerdesk/pkg/config"
	"github.com/answerdesk/answerdesk/pkg/embedders"
	"github.com/answerdesk/answerdesk/pkg/generator"
	"github.com/answerdesk/answerdesk/pkg/intelligence"
	"github.com/answerdesk/answerdesk/pkg/llms"
	"github.com/answerdesk/answerdesk/pkg/metrics"
	"github.com/answerdesk/answerdesk/pkg/observability"
	"github.com/answerdesk/answerdesk/pkg/orchestrator"
	"github.com/answerdesk/answerdesk/pkg/ratelimit"
	"github.com/answerdesk/answerdesk/pkg/retrieval"
	"github.com/answerdesk/answerdesk/pkg/server"
	"github.com/answerdesk/answerdesk/pkg/session"
	"github.com/answerdesk/answerdesk/pkg/vector"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config   string `short:"c" help:"Path to config file." type:"path" default:"config.yaml"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("answerdesk %s\n", version)
	return nil
}

// ValidateCmd loads and validates the configuration, then exits.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if _, err := config.Load(cli.Config); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}
	fmt.Printf("%s: configuration valid\n", cli.Config)
	return nil
}

// ServeCmd starts the engine.
type ServeCmd struct{}

func (c *ServeCmd) Run(cli *CLI) error {
	logger := slog.Default()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.Info("configuration loaded", "path", cli.Config)

	// Pricing. A missing price table is survivable: queries record zero
	// cost until the file appears.
	prices, err := accounting.LoadPriceTable(cfg.Pricing.Path)
	if err != nil {
		logger.Warn("price table unavailable, costs will record as zero",
			"path", cfg.Pricing.Path, "error", err)
		prices = accounting.NewPriceTable(nil)
	}
	if cfg.Pricing.WatchEnabled {
		go func() {
			if err := prices.Watch(ctx); err != nil && ctx.Err() == nil {
				logger.Error("price table watch stopped", "error", err)
			}
		}()
	}
	accountant := accounting.NewAccountant(prices)

	// Observability and the metrics pipeline.
	obs, err := observability.Init(ctx, cfg.Metrics.Enabled)
	if err != nil {
		return fmt.Errorf("failed to initialise metrics: %w", err)
	}
	collector := metrics.NewCollector(metrics.LogSink{}, obs)

	// Model providers.
	chat, err := llms.NewOpenAIProvider(&cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create LLM provider: %w", err)
	}
	rawEmbedder, err := embedders.NewOpenAIEmbedder(&cfg.Embedder)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	embedder := embedders.NewCachedEmbedder(rawEmbedder,
		cfg.Retrieval.EmbedCacheSize,
		time.Duration(cfg.Retrieval.EmbedCacheTTLSeconds)*time.Second)

	// Vector index and retrieval.
	vectors, err := vector.NewProvider(&cfg.Vector)
	if err != nil {
		return fmt.Errorf("failed to create vector provider: %w", err)
	}
	defer vectors.Close()
	retriever := retrieval.NewRetriever(embedder, vectors, cfg.Vector.Collection, &cfg.Retrieval, logger)

	// Session tiers. The cache tier is optional at startup; the store
	// degrades to the durable tier plus the in-process ring.
	cache, err := session.NewRedisCache(&cfg.Cache,
		time.Duration(cfg.Session.TTLSeconds)*time.Second,
		cfg.Session.CacheRecentMessages)
	if err != nil {
		logger.Warn("session cache unavailable, running degraded", "error", err)
		cache = nil
	}
	durable, err := session.NewSQLStore(&cfg.Durable)
	if err != nil {
		return fmt.Errorf("failed to open durable session store: %w", err)
	}
	summarizer := session.NewSummarizer(chat, cfg.Session.SummaryInterval)
	sessions := session.NewStore(cache, durable, summarizer, &cfg.Session, logger)
	defer sessions.Close()

	// Rate limiting.
	var limitStore ratelimit.Store
	if cfg.RateLimits.Backend == "redis" {
		limitStore = ratelimit.NewRedisStore(redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		}))
	} else {
		limitStore = ratelimit.NewMemoryStore()
	}
	limiter, err := ratelimit.NewLimiter(&cfg.RateLimits, limitStore)
	if err != nil {
		return fmt.Errorf("failed to create rate limiter: %w", err)
	}

	// The pipeline.
	orch := orchestrator.New(
		sessions,
		classifier.New(),
		intelligence.NewService(chat, logger),
		retriever,
		generator.New(chat, nil),
		accountant,
		collector,
		cfg.LLM.Model,
		cfg.Embedder.Model,
		&cfg.Orchestrator,
		&cfg.Retrieval,
		logger,
	)

	srv := server.New(cfg, orch, limiter, sessions, accountant, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func setupLogger(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("answerdesk"),
		kong.Description("answerdesk - conversational QA over a product knowledge base"),
		kong.UsageOnError(),
	)
	setupLogger(cli.LogLevel)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
