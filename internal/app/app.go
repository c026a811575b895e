// Package app initializes and holds the long-lived services of the pipeline,
// acting as the dependency injection container for the CLI and server.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/webharvest/harvester/internal/cache"
	"github.com/webharvest/harvester/internal/clock/system"
	"github.com/webharvest/harvester/internal/config"
	"github.com/webharvest/harvester/internal/content"
	"github.com/webharvest/harvester/internal/history"
	"github.com/webharvest/harvester/internal/logging"
	"github.com/webharvest/harvester/internal/media"
	"github.com/webharvest/harvester/internal/metrics"
	"github.com/webharvest/harvester/internal/pipeline"
	"github.com/webharvest/harvester/internal/provider"
	"github.com/webharvest/harvester/internal/provider/httpclient"
	"github.com/webharvest/harvester/internal/render"
	"github.com/webharvest/harvester/internal/resilience"
	"github.com/webharvest/harvester/internal/router"
)

// App holds every shared service, initialized once at startup.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Pipe     *pipeline.Orchestrator
	renderer *render.Chromedp
	redis    *cache.RedisBackend
	history  history.Recorder
}

// New builds the full service graph from configuration. It fails fast on any
// misconfiguration; the one deliberate exception is the cache backend, whose
// unavailability silently degrades to the in-process store.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	a := &App{Config: cfg, Logger: logger}
	clk := system.New()

	client := httpclient.New(httpclient.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
	})

	renderer, err := a.buildRenderer(cfg, logger)
	if err != nil {
		return nil, err
	}

	registry, err := provider.NewRegistry(provider.Deps{
		Client:   client,
		Renderer: renderer,
		Merger:   media.NewMerger(logger),
		Logger:   logger,
	}, cfg.Platforms)
	if err != nil {
		return nil, fmt.Errorf("build strategy registry: %w", err)
	}

	a.Pipe = pipeline.New(pipeline.Config{
		Router:           router.New(cfg.Platforms),
		Registry:         registry,
		Engine:           resilience.New(retryConfig(cfg), logger),
		Cache:            a.buildCache(clk, logger),
		Client:           client,
		History:          a.buildHistory(ctx, logger),
		Clock:            clk,
		Logger:           logger,
		CacheTTL:         cfg.CacheTTL(),
		BatchConcurrency: cfg.Batch.Concurrency,
	})
	return a, nil
}

// Close releases long-lived resources in reverse dependency order.
func (a *App) Close() {
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.history != nil {
		a.history.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Warn("closing redis client", zap.Error(err))
		}
	}
	_ = a.Logger.Sync()
}

func retryConfig(cfg config.Config) resilience.Config {
	return resilience.Config{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  time.Duration(cfg.Retry.BackoffInitialMs) * time.Millisecond,
		MaxDelay:   time.Duration(cfg.Retry.BackoffMaxMs) * time.Millisecond,
	}
}

// buildCache connects the redis backend when possible. A connection failure
// is not an error: the adapter starts degraded on the in-process store.
func (a *App) buildCache(clk content.Clock, logger *zap.Logger) *cache.Adapter {
	fallback := cache.NewMemoryBackend(cache.DefaultMemoryCapacity, clk)
	backend, err := cache.NewRedisBackend(a.Config.Cache.RedisURL)
	if err != nil {
		logger.Debug("redis backend unavailable at startup", zap.Error(err))
		return cache.NewAdapter(nil, fallback, logger)
	}
	a.redis = backend
	return cache.NewAdapter(backend, fallback, logger)
}

func (a *App) buildHistory(ctx context.Context, logger *zap.Logger) history.Recorder {
	if a.Config.History.DSN == "" {
		a.history = history.NoOp{}
		return a.history
	}
	store, err := history.NewStore(ctx, history.StoreConfig{
		DSN:      a.Config.History.DSN,
		Table:    a.Config.History.Table,
		MaxConns: int32(a.Config.History.MaxOpenConns),
	})
	if err != nil {
		logger.Warn("history store unavailable, auditing disabled", zap.Error(err))
		a.history = history.NoOp{}
		return a.history
	}
	a.history = store
	return a.history
}

func (a *App) buildRenderer(cfg config.Config, logger *zap.Logger) (content.Renderer, error) {
	if !cfg.Render.Enabled {
		return nil, nil
	}
	renderer, err := render.New(render.Config{
		MaxParallel:       cfg.Render.MaxParallel,
		NavigationTimeout: time.Duration(cfg.Render.NavTimeoutSec) * time.Second,
		DomainQPS:         cfg.Render.DomainQPS,
		UserAgent:         cfg.HTTP.UserAgent,
	}, logger)
	switch {
	case err == nil:
		a.renderer = renderer
		return renderer, nil
	case errors.Is(err, render.ErrDisabled):
		logger.Warn("renderer unavailable despite being enabled; rendered rungs are skipped")
		return nil, nil
	default:
		return nil, fmt.Errorf("init renderer: %w", err)
	}
}
