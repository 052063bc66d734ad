package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/star/azeltrack/internal/api"
	"github.com/star/azeltrack/internal/config"
	"github.com/star/azeltrack/internal/health"
	"github.com/star/azeltrack/internal/observability"
	"github.com/star/azeltrack/internal/stream"
	"github.com/star/azeltrack/internal/tle"
	"github.com/star/azeltrack/internal/tracker"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	level.Set(cfg.LogLevel)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, logger)
	if err != nil {
		logger.Error("tracing init failed", "error", err)
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, logger)

	store := tle.NewStore()
	var source tle.Source
	if cfg.TLE.EnableFetch {
		source = tle.NewFetcher(cfg.TLE.SourceURL, logger, cfg.TLE.ExtraSourceURLs...)
	}
	refresher := tle.NewRefresher(source, tle.NewCache(cfg.TLE.CacheDir, cfg.TLE.MaxFiles), store, cfg.TLE.MaxAge, logger)

	// Attempt to load cached TLE data on startup.
	if _, err := refresher.LoadCache(); err != nil {
		logger.Info("no usable TLE cache, starting without TLE data", "dir", cfg.TLE.CacheDir, "error", err)
	}

	hub := tracker.NewHub(cfg.HubBuffer)
	emitters := tracker.MultiEmitter{hub}
	if cfg.EmitStdout {
		emitters = append(emitters, tracker.NewJSONLinesEmitter(os.Stdout))
	}

	trk, err := tracker.New(cfg.Tracking, store, emitters, logger)
	if err != nil {
		logger.Error("invalid tracking configuration", "error", err)
		os.Exit(1)
	}

	readiness := health.NewReadiness()
	readiness.Add("tle_dataset", func() error {
		if store.Get() == nil {
			return tracker.ErrNoDataset
		}
		return nil
	})
	readiness.Add("target", func() error {
		_, _, err := trk.Satellite()
		return err
	})

	deps := api.Deps{
		Store:     store,
		Tracker:   trk,
		Hub:       hub,
		Stream:    stream.NewHandler(hub, store, cfg.Tracking, cfg.Stream, logger),
		Readiness: readiness,
	}
	if cfg.TLE.EnableFetch {
		deps.Refresher = refresher
	}

	srv := api.NewServer(ctx, api.Config{
		Addr:       cfg.HTTP.Addr,
		Auth:       cfg.Auth,
		TrustProxy: cfg.HTTP.TrustProxy,
		FetchRate:  cfg.HTTP.FetchPerMinute / 60,
		FetchBurst: cfg.HTTP.FetchBurst,
	}, deps, logger)

	var wg sync.WaitGroup
	if cfg.TLE.EnableFetch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			refresher.Run(ctx, cfg.TLE.RefreshInterval)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		trk.Run(ctx)
	}()

	go func() {
		logger.Info("starting server",
			"addr", cfg.HTTP.Addr,
			"auth_enabled", cfg.Auth.Enabled,
			"tle_fetch_enabled", cfg.TLE.EnableFetch,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	wg.Wait()

	logger.Info("server stopped")
}
