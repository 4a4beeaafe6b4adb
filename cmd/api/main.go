// Package main is the entry point for the ClipVault API server.
//
// It loads configuration, runs pending schema migrations, wires the
// database repositories, the Helix client, and the archive pipeline into
// the HTTP chassis, and serves until a shutdown signal arrives. Background
// archive runs started by POST /v1/archive/{channel} are drained before the
// process exits so no run is cut off mid-window without a checkpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"clipvault/internal/api/handlers"
	"clipvault/internal/archive"
	"clipvault/internal/config"
	"clipvault/internal/core"
	"clipvault/internal/db"
	"clipvault/internal/scheduler"
	"clipvault/internal/twitch"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("clipvault API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	version, err := db.Migrate(cfg.Database)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("database schema ready", "version", version)

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	deps := buildPipeline(pool, cfg, logger)

	srv, err := core.NewServer(logger, cfg.Server.RequestTimeout)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	archiveHandler := handlers.NewArchiveHandler(deps.controller, deps.runner, cfg.Archive.RunBudget)
	exportHandler := handlers.NewExportHandler(deps.clips)
	clipsHandler := handlers.NewClipsHandler(deps.clips, deps.games)
	sweepHandler := handlers.NewSweepHandler(deps.sweeper, cfg.Server.SweepToken)

	srv.Router().Route("/v1", func(r chi.Router) {
		archiveHandler.RegisterRoutes(r)
		clipsHandler.RegisterRoutes(r)
		exportHandler.RegisterRoutes(r)
	})
	srv.Router().Route("/internal", func(r chi.Router) {
		sweepHandler.RegisterRoutes(r)
	})
	srv.Router().Get("/health", srv.HandleHealth)

	return runHTTPServer(srv, cfg, deps.runner, logger)
}

// pipeline groups the wired dependencies handed to the HTTP handlers.
type pipeline struct {
	clips      *db.ClipRepository
	games      *db.GameRepository
	controller *archive.Controller
	runner     *archive.Runner
	sweeper    *scheduler.Sweeper
}

// buildPipeline wires repositories, the Helix client, and the archive
// components on top of the connection pool.
func buildPipeline(pool db.DBTX, cfg *config.Config, logger *slog.Logger) *pipeline {
	clipRepo := db.NewClipRepository(pool)
	jobRepo := db.NewJobRepository(pool)
	gameRepo := db.NewGameRepository(pool)
	provRepo := db.NewProvisioningRepository(pool)

	base := twitch.NewBaseClient(
		&http.Client{Timeout: 30 * time.Second},
		"helix",
		twitch.RetryPolicy{
			MaxRetries: cfg.Twitch.MaxRetries,
			MinWait:    cfg.Twitch.RetryBaseWait,
			MaxWait:    cfg.Twitch.RetryMaxWait,
		},
	)
	tokens := twitch.NewTokenSource(base, twitch.TokenSourceConfig{
		ClientID:     cfg.Twitch.ClientID,
		ClientSecret: cfg.Twitch.ClientSecret,
		TokenURL:     cfg.Twitch.TokenURL,
		Logger:       logger,
	})
	helix := twitch.NewClient(base, tokens, twitch.ClientConfig{
		APIBaseURL: cfg.Twitch.APIBaseURL,
		ClientID:   cfg.Twitch.ClientID,
		PageSize:   cfg.Twitch.PageSize,
		MaxPages:   cfg.Twitch.MaxPages,
		PageDelay:  cfg.Twitch.PageDelay,
		Logger:     logger,
	})

	finalizer := archive.NewFinalizer(clipRepo, gameRepo, provRepo, helix, archive.FinalizerConfig{
		Logger: logger,
	})
	controller := archive.NewController(jobRepo, clipRepo, helix, finalizer, archive.ControllerConfig{
		WindowLen:            time.Duration(cfg.Archive.WindowDays) * 24 * time.Hour,
		IncrementalWindowLen: time.Duration(cfg.Scheduler.IncrementalDays) * 24 * time.Hour,
		SafetyMargin:         cfg.Scheduler.SafetyMargin,
		LivenessWindow:       cfg.Archive.LivenessWindow,
		MaxActiveJobs:        cfg.Archive.MaxActiveJobs,
		TokenRefreshWindows:  cfg.Archive.TokenRefreshWindows,
		APIFloor:             twitch.ClipsFloor,
		Logger:               logger,
	})
	runner := archive.NewRunner(controller, cfg.Archive.RunBudget, logger)
	sweeper := scheduler.NewSweeper(jobRepo, controller, scheduler.SweeperConfig{
		FreshnessThreshold: cfg.Scheduler.FreshnessThreshold,
		Budget:             cfg.Scheduler.Budget,
		Concurrency:        cfg.Scheduler.Concurrency,
		ChannelBudget:      cfg.Archive.RunBudget,
		Logger:             logger,
	})

	return &pipeline{
		clips:      clipRepo,
		games:      gameRepo,
		controller: controller,
		runner:     runner,
		sweeper:    sweeper,
	}
}

// runHTTPServer serves until SIGINT/SIGTERM, then shuts down gracefully and
// drains in-flight background archive runs.
func runHTTPServer(srv *core.Server, cfg *config.Config, runner *archive.Runner, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Background runs checkpoint at window boundaries; waiting here means a
	// deploy never loses more than the current window.
	if err := runner.Wait(ctx); err != nil {
		logger.Error("background runs did not drain before deadline", "error", err)
		return fmt.Errorf("draining background runs: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
