package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jonathan/web2pdf/internal/compress"
	"github.com/jonathan/web2pdf/internal/config"
	"github.com/jonathan/web2pdf/internal/crawling"
	"github.com/jonathan/web2pdf/internal/db"
	"github.com/jonathan/web2pdf/internal/fetch"
	"github.com/jonathan/web2pdf/internal/observability"
	"github.com/jonathan/web2pdf/internal/pipeline"
	"github.com/jonathan/web2pdf/internal/server/ratelimit"
	"github.com/jonathan/web2pdf/internal/storage"
	"github.com/redis/go-redis/v9"
)

// robotsAgent is the product token matched against robots.txt groups.
const robotsAgent = "web2pdf"

// app holds the collaborators shared by the commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	store   *storage.Store
	history *db.DB // nil without a database
	closers []func()
}

// loadConfig reads --config and the environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newApp opens the logger, the artifact store and, when configured, the database.
// Logs go to logOut.
func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	logger, logCloser := observability.NewLogger(cfg.Logging, logOut)
	slog.SetDefault(logger)

	rt := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewMetrics(),
	}
	rt.closers = append(rt.closers, func() { _ = logCloser.Close() })

	store, err := storage.New(cfg.Storage.OutputDir, cfg.Server.PublicBaseURL, logger)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to open output directory: %w", err)
	}
	rt.store = store

	if cfg.Database.URL != "" {
		database, err := rt.connect(ctx)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.history = database
	}
	return rt, nil
}

func (rt *app) connect(ctx context.Context) (*db.DB, error) {
	database, err := db.Connect(ctx, rt.cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	rt.closers = append(rt.closers, database.Close)

	if rt.cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	rt.logger.Info("conversion history enabled")
	return database, nil
}

// Close releases everything in reverse order of acquisition.
func (rt *app) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// orchestrator builds the conversion pipeline on top of a pool of browser sessions.
func (rt *app) orchestrator() *pipeline.Orchestrator {
	cfg := rt.cfg
	fetchCfg := fetch.Config{
		ExecPath:  cfg.Renderer.ExecPath,
		UserAgent: cfg.Renderer.UserAgent,
		NoSandbox: cfg.Renderer.NoSandbox,
		Logger:    rt.logger,
	}

	pool := fetch.NewSessionPool(fetch.ResolvePoolSize(cfg.Renderer.PoolSize), func() (fetch.Renderer, error) {
		return fetch.NewRenderer(cfg.Renderer.Engine, fetchCfg)
	})
	rt.closers = append(rt.closers, func() {
		if err := pool.Close(); err != nil {
			rt.logger.Warn("failed to close browser sessions", "error", err)
		}
	})
	rt.logger.Info("renderer ready", "engine", cfg.Renderer.Engine, "sessions", pool.Size())

	opts := pipeline.Options{
		RequestTimeout:     cfg.Pipeline.RequestTimeout.Duration,
		MainTimeout:        cfg.Pipeline.MainTimeout.Duration,
		SubpageTimeout:     cfg.Pipeline.SubpageTimeout.Duration,
		SubpageConcurrency: cfg.Pipeline.SubpageConcurrency,
		Compressor:         compress.NewCompressor(cfg.Compression.GSPath, cfg.Compression.Timeout.Duration, rt.logger),
		Robots:             crawling.NewRobotsPolicy(nil, robotsAgent, cfg.Crawler.RobotsTTL.Duration, rt.logger),
		Metrics:            rt.metrics,
		Logger:             rt.logger,
	}
	if cfg.Crawler.RequestsPerSecond > 0 {
		opts.Pacer = fetch.NewHostPacer(cfg.Crawler.RequestsPerSecond, cfg.Crawler.Burst)
	}
	if rt.history != nil {
		opts.History = rt.history
	}
	return pipeline.New(pool, rt.store, opts)
}

// janitor builds the retention sweeper. Sweeps also prune history rows and feed metrics.
func (rt *app) janitor() *storage.Janitor {
	j := storage.NewJanitor(rt.store, rt.cfg.Storage.SweepInterval.Duration, rt.cfg.Storage.Retention.Duration)
	j.OnSweep(func(_ context.Context, _ time.Time, result storage.SweepResult) {
		rt.metrics.AddSwept(result.Artifacts)
	})

	if history := rt.history; history != nil {
		j.OnSweep(func(ctx context.Context, cutoff time.Time, _ storage.SweepResult) {
			n, err := history.DeleteConversionsBefore(ctx, cutoff)
			if err != nil {
				rt.logger.Warn("failed to prune conversion history", "error", err)
				return
			}
			if n > 0 {
				rt.logger.Info("pruned conversion history", "rows", n)
			}
		})
	}
	return j
}

// rateLimiter shares counters through Redis when it is configured and keeps them in memory otherwise.
func (rt *app) rateLimiter() (ratelimit.RateLimiter, error) {
	cfg := ratelimit.LoadConfig(os.Getenv)
	if rt.cfg.Redis.URL == "" {
		return ratelimit.NewLimiter(cfg), nil
	}

	opts, err := redis.ParseURL(rt.cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	rt.logger.Info("rate limits shared through redis", "addr", opts.Addr)
	return ratelimit.NewRedisLimiter(redis.NewClient(opts), cfg, rt.logger), nil
}
