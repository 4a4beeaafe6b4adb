// Package main is the entrypoint for the one-shot refresh sweeper.
//
// The sweeper runs a single scheduler tick and exits: it selects completed
// channels whose catalogs have gone stale, runs the incremental archive
// variant for each under the configured concurrency cap and wall-clock
// budget, and reports a summary. It is designed to be invoked from cron or
// a container scheduler; all cross-run state lives in the job ledger, so
// overlapping or missed invocations are safe.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"clipvault/internal/archive"
	"clipvault/internal/config"
	"clipvault/internal/db"
	"clipvault/internal/scheduler"
	"clipvault/internal/twitch"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	logger.Info("sweeper starting", "environment", cfg.Environment)

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	clipRepo := db.NewClipRepository(pool)
	jobRepo := db.NewJobRepository(pool)
	gameRepo := db.NewGameRepository(pool)
	provRepo := db.NewProvisioningRepository(pool)

	base := twitch.NewBaseClient(
		&http.Client{Timeout: 30 * time.Second},
		"helix-sweeper",
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
	sweeper := scheduler.NewSweeper(jobRepo, controller, scheduler.SweeperConfig{
		FreshnessThreshold: cfg.Scheduler.FreshnessThreshold,
		Budget:             cfg.Scheduler.Budget,
		Concurrency:        cfg.Scheduler.Concurrency,
		ChannelBudget:      cfg.Archive.RunBudget,
		Logger:             logger,
	})

	// Outer deadline: the tick itself enforces the sweep budget, this only
	// guards against a wedged upstream call.
	runCtx, cancel := context.WithTimeout(ctx, cfg.Scheduler.Budget+cfg.Archive.RunBudget)
	defer cancel()

	result, err := sweeper.Sweep(runCtx)
	if err != nil {
		logger.Error("sweep failed", "error", err)
		os.Exit(1)
	}
	logger.Info("sweep complete",
		"eligible", result.Eligible,
		"refreshed", result.Refreshed,
		"yielded", result.Yielded,
		"failed", result.Failed,
		"unreached", len(result.Unreached),
		"elapsed", result.Elapsed,
	)
}
