// Package main is the entry point for the caching reverse proxy server.
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

	goredis "github.com/redis/go-redis/v9"

	"github.com/haloreach/cacheproxy/internal/cache"
	"github.com/haloreach/cacheproxy/internal/config"
	"github.com/haloreach/cacheproxy/internal/origin"
	"github.com/haloreach/cacheproxy/internal/proxy"
	"github.com/haloreach/cacheproxy/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(bootstrapLogger)
	bootstrapLogger.Info("starting cacheproxy")

	cfgManager, err := config.NewManager(*configPath, bootstrapLogger)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	defer func() { _ = cfgManager.Close() }()

	cfg := cfgManager.Get()
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.ConfigHotReload {
		if watchErr := cfgManager.Watch(ctx); watchErr != nil {
			logger.Warn("config hot-reload disabled", "error", watchErr)
		}
	}

	redisOpts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid redis_url: %w", err)
	}

	engine := cache.NewEngine(cache.Params{
		RedisAddr:         redisOpts.Addr,
		RedisPassword:     redisOpts.Password,
		RedisDB:           redisOpts.DB,
		RedisTimeout:      cfg.RedisTimeout(),
		NearMaxSize:       cfg.L1CacheMaxSize,
		NearCleanupEvery:  time.Minute,
		StaleTTLOffset:    cfg.StaleTTLOffset(),
		IncludeQueryInKey: cfg.CacheIncludeQuery,
		DefaultTTL:        cfg.CacheDefaultTTL,
		ContentTypeTTL:    cfg.TTLByContentType,
		StatusTTL:         cfg.TTLByStatusCode,
		PathRules:         pathTTLEntries(cfg.TTLByPathPattern),
	}, logger)
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Error("failed to close cache engine", "error", err)
		}
	}()

	originClient := origin.New(origin.Config{
		BaseURL:             cfg.OriginURL,
		Timeout:             cfg.OriginTimeout(),
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxBodyBytes:        cfg.MaxResponseBodyBytes,
	})
	defer originClient.Close()

	sched := scheduler.New(scheduler.Config{
		QueueSize: cfg.SchedulerQueueSize,
		Workers:   cfg.SchedulerWorkers,
	}, logger)
	defer sched.Stop()

	pipeline, err := proxy.New(engine, originClient, sched, proxy.Config{
		OriginBaseURL: cfg.OriginURL,
		SkipPaths:     cfg.SkipPathSet(),
		LockLease:     cfg.LockLease(),
		LoserMaxWait:  cfg.LoserMaxWait(),
		RefreshTTL:    cfg.StaleTTLOffset(),
		FetchTimeout:  cfg.OriginTimeout(),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to build proxy pipeline: %w", err)
	}

	mux := buildMux(cfg, pipeline, engine.Store, logger)
	httpHandler := buildMiddlewareStack(logger)(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      httpHandler,
		ReadTimeout:  time.Duration(cfg.ServerReadTimeoutMS) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.ServerWriteTimeoutMS) * time.Millisecond,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutting down server...")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func pathTTLEntries(entries []config.PathTTLEntry) []cache.PathTTLRule {
	out := make([]cache.PathTTLRule, len(entries))
	for i, e := range entries {
		out[i] = cache.PathTTLRule{Glob: e.Glob, TTL: e.TTL}
	}
	return out
}
