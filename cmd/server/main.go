// Package main is the entry point for the answerd server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/answerd-ai/answerd/internal/api"
	"github.com/answerd-ai/answerd/internal/cache"
	"github.com/answerd-ai/answerd/internal/catalog"
	"github.com/answerd-ai/answerd/internal/config"
	"github.com/answerd-ai/answerd/internal/engine"
	"github.com/answerd-ai/answerd/internal/health"
	"github.com/answerd-ai/answerd/internal/metrics"
	"github.com/answerd-ai/answerd/internal/ratelimit"
	"github.com/answerd-ai/answerd/internal/search"
	"github.com/answerd-ai/answerd/internal/upstream"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	cfgManager, err := config.NewManager(*configPath, slog.Default())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting answerd", "version", "0.1.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	// Model catalog: remote discovery with the static list as last resort.
	remote := catalog.NewRemoteSource(cfg.Upstream.BaseURL, cfg.Upstream.APIKey, nil)
	static := catalog.NewStaticSource(cfg.Catalog.StaticModels)
	models := catalog.NewCachedSource(remote, static, cfg.Catalog.RefreshTTL)
	models.OnRefreshError(func(err error) {
		metrics.CatalogRefreshFailures.Inc()
		logger.Warn("catalog refresh failed, serving previous", "error", err)
	})

	tracker := health.NewTracker(health.DefaultMaxFailures, logger)
	answers := cache.New(cache.Config{
		MaxSize: cfg.Cache.MaxSize,
		TTL:     cfg.Cache.TTL,
	})

	client := upstream.NewClient(upstream.Config{
		BaseURL: cfg.Upstream.BaseURL,
		APIKey:  cfg.Upstream.APIKey,
		Referer: cfg.Upstream.Referer,
		Title:   cfg.Upstream.Title,
	})

	var searcher search.Provider = search.Noop{}
	if cfg.Search.Enabled {
		searcher = search.NewBraveProvider(search.Config{
			Endpoint: cfg.Search.BaseURL,
			APIKey:   cfg.Search.APIKey,
		})
		logger.Info("web search grounding enabled")
	}

	eng := engine.New(engine.Options{
		Catalog:     models,
		Health:      tracker,
		Provider:    client,
		Cache:       answers,
		Searcher:    searcher,
		Logger:      logger,
		UpstreamRPS: cfg.Upstream.RequestsPerSecond,
	})

	handler := api.NewHandler(eng, answers, logger)

	var limiter *ratelimit.Limiter
	limit := ratelimit.Limit{
		MaxRequests: cfg.RateLimit.MaxRequests,
		Window:      cfg.RateLimit.Window,
	}
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewLimiter()
	}

	mux := api.Routes(handler, limiter, limit)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	var httpHandler http.Handler = mux
	httpHandler = corsMiddleware(cfg.CORS, httpHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Warm the catalog so the first request does not pay the fetch.
	go func() {
		cat := models.Refresh(ctx)
		logger.Info("model catalog ready", "models", cat.Size())
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	_ = cfgManager.Close()
	logger.Info("server stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
