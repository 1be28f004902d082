// Package app wires configuration, pools, converter, cache, metrics and the
// HTTP API into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dgallion1/rtfbridge/internal/api"
	"github.com/dgallion1/rtfbridge/internal/cache"
	"github.com/dgallion1/rtfbridge/internal/config"
	"github.com/dgallion1/rtfbridge/internal/convert"
	"github.com/dgallion1/rtfbridge/internal/metrics"
	"github.com/dgallion1/rtfbridge/internal/pipeline"
	"github.com/dgallion1/rtfbridge/internal/pool"
)

// NewLogger returns a JSON logger that writes "err" for error attributes.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	}))
}

// App is a fully wired service.
type App struct {
	Config       config.Config
	Pools        *pool.Manager
	Metrics      *metrics.Metrics
	Orchestrator *pipeline.Orchestrator
	Handler      http.Handler
	log          *slog.Logger
}

// New builds the service and starts background work. Call Close to stop it.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	pools := pool.NewManager(cfg.PoolSizes())
	m := metrics.New()
	m.WatchPools(pools.Stats)

	c, err := NewCache(ctx, cfg.Cache, log)
	if err != nil {
		return nil, err
	}

	conv := convert.New(cfg.ConvertOptions(), pools)
	orch := pipeline.NewOrchestrator(pipeline.Options{
		Engine:  cfg.EngineConfig(),
		JobTTL:  cfg.JobTTL,
		Cache:   c,
		Metrics: m,
	}, conv, log)
	orch.Start(ctx)

	return &App{
		Config:       cfg,
		Pools:        pools,
		Metrics:      m,
		Orchestrator: orch,
		Handler:      api.NewServer(orch, m, pools, log, cfg),
		log:          log,
	}, nil
}

// NewCache picks the result cache: none when disabled, Redis when a URL is
// set and reachable, otherwise an in-memory LRU.
func NewCache(ctx context.Context, cfg config.CacheConfig, log *slog.Logger) (cache.Cache, error) {
	if cfg.Disabled {
		return cache.Nop{}, nil
	}
	if cfg.RedisURL == "" {
		return cache.NewMemory(cfg.MemoryEntries, cfg.TTL), nil
	}
	r, err := cache.NewRedis(cfg.RedisURL, cache.WithTTL(cfg.TTL), cache.WithPrefix(cfg.Prefix))
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.Ping(pingCtx); err != nil {
		r.Close()
		log.Warn("redis unreachable, using in-memory cache", "error", err)
		return cache.NewMemory(cfg.MemoryEntries, cfg.TTL), nil
	}
	return r, nil
}

// Serve listens on the configured port until ctx ends, then shuts the HTTP
// server down and drains the engine.
func (a *App) Serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         ":" + a.Config.Port,
		Handler:      a.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		a.log.Info("starting rtfbridge", "port", a.Config.Port)
		serverErrors <- httpServer.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		a.log.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("http shutdown incomplete", "error", err)
			httpServer.Close()
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.Join(serveErr, a.Close(closeCtx))
}

// Close drains the engine within ctx and releases the cache.
func (a *App) Close(ctx context.Context) error {
	return a.Orchestrator.Stop(ctx)
}
