package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"clipvault/internal/types"
)

// JobStore is the ledger access the controller needs. Implemented by
// db.JobRepository.
type JobStore interface {
	GetByChannel(ctx context.Context, channel string) (*types.ArchiveJob, error)
	Create(ctx context.Context, job *types.ArchiveJob) error
	ResetPlan(ctx context.Context, channel, broadcasterID string, totalWindows int, rangeStart time.Time) error
	Checkpoint(ctx context.Context, channel string, currentWindow, seenDelta, insertedDelta int) error
	SetStatus(ctx context.Context, channel string, status types.JobStatus) error
	MarkFailed(ctx context.Context, channel, detail string) error
	MarkComplete(ctx context.Context, channel string) error
	TouchRefresh(ctx context.Context, channel string) error
	CountActive(ctx context.Context, checkpointedAfter time.Time) (int, error)
}

// ClipSource is the upstream API surface the pipeline needs. Implemented by
// twitch.Client.
type ClipSource interface {
	ResolveChannel(ctx context.Context, login string) (*types.Broadcaster, error)
	FetchClips(ctx context.Context, broadcasterID string, w types.Window, page func([]types.ClipRecord) error) (int, error)
	ResolveGames(ctx context.Context, ids []string) ([]types.Game, error)
	ForceTokenRefresh(ctx context.Context) error
}

// ControllerConfig holds the tuning for a Controller.
type ControllerConfig struct {
	// WindowLen is the full-backfill window length.
	WindowLen time.Duration
	// IncrementalWindowLen is the window length for refresh runs.
	IncrementalWindowLen time.Duration
	// SafetyMargin is how far before last_refresh an incremental plan
	// starts, to catch near-boundary records missed by clock skew.
	SafetyMargin time.Duration
	// LivenessWindow is how recent a checkpoint must be for a job to count
	// as in progress (and against the concurrency cap).
	LivenessWindow time.Duration
	// MaxActiveJobs is the global cap on concurrently running jobs. The cap
	// is advisory: it is checked against the ledger, not held as a mutex,
	// so a short race admitting one extra job is absorbed by the idempotent
	// writer.
	MaxActiveJobs int
	// TokenRefreshWindows is the proactive token rotation cadence.
	TokenRefreshWindows int
	// APIFloor is the earliest instant the upstream API has data for.
	APIFloor time.Time

	Logger *slog.Logger
	// Now overrides the clock for tests.
	Now func() time.Time
}

// Controller orchestrates the planner, fetch client, and writer across one
// channel's window list, persisting progress to the ledger after every
// window.
type Controller struct {
	jobs      JobStore
	clips     ClipStore
	source    ClipSource
	finalizer *Finalizer
	cfg       ControllerConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewController creates a Controller.
func NewController(jobs JobStore, clips ClipStore, source ClipSource, finalizer *Finalizer, cfg ControllerConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		jobs:      jobs,
		clips:     clips,
		source:    source,
		finalizer: finalizer,
		cfg:       cfg,
		logger:    logger,
		now:       now,
	}
}

// Start admits a new archive run for a channel. It is idempotent:
//
//   - complete job            -> already_archived, nothing mutated
//   - job checkpointed within the liveness window -> in_progress
//   - active-job cap reached  -> rate_limited
//   - unknown login upstream  -> not_found
//   - otherwise the full window plan is (re)computed from the channel's
//     creation date and persisted, and the job is ready for execution.
//
// Start does not execute anything; RunToBudget (directly or via a Runner)
// does the work.
func (c *Controller) Start(ctx context.Context, channel string) (*types.StartResult, error) {
	job, err := c.jobs.GetByChannel(ctx, channel)
	if err != nil {
		return nil, err
	}

	if job != nil {
		if job.Status == types.JobComplete {
			return &types.StartResult{Status: types.StartAlreadyArchived, Job: job}, nil
		}
		if job.Status.Active() && c.checkpointLive(job) {
			return &types.StartResult{Status: types.StartInProgress, Job: job}, nil
		}
	}

	active, err := c.jobs.CountActive(ctx, c.now().Add(-c.cfg.LivenessWindow))
	if err != nil {
		return nil, err
	}
	if active >= c.cfg.MaxActiveJobs {
		return &types.StartResult{Status: types.StartRateLimited, Job: job}, nil
	}

	bc, err := c.source.ResolveChannel(ctx, channel)
	if err != nil {
		return nil, err
	}
	if bc == nil {
		return &types.StartResult{Status: types.StartNotFound}, nil
	}

	plan := Plan(bc.CreatedAt, c.now(), c.cfg.WindowLen, c.cfg.APIFloor)
	rangeStart := bc.CreatedAt.UTC()
	if rangeStart.Before(c.cfg.APIFloor) {
		rangeStart = c.cfg.APIFloor
	}

	if job == nil {
		job = &types.ArchiveJob{
			Channel:       channel,
			BroadcasterID: bc.ID,
			Status:        types.JobPending,
			TotalWindows:  len(plan),
			RangeStart:    rangeStart,
		}
		if err := c.jobs.Create(ctx, job); err != nil {
			return nil, err
		}
	} else {
		// Failed or stale-running job: re-anchor the plan and resume. The
		// checkpoint survives, so execution continues at the window where
		// the last run stopped.
		if err := c.jobs.ResetPlan(ctx, channel, bc.ID, len(plan), rangeStart); err != nil {
			return nil, err
		}
		job, err = c.jobs.GetByChannel(ctx, channel)
		if err != nil {
			return nil, err
		}
	}

	c.logger.InfoContext(ctx, "archive job admitted",
		"channel", channel,
		"broadcaster_id", bc.ID,
		"total_windows", len(plan),
		"resume_window", job.CurrentWindow,
	)
	return &types.StartResult{Status: types.StartStarted, Job: job}, nil
}

// RunToBudget is the bounded execution unit. It resumes the job at its
// checkpointed window and processes windows in order, committing the
// checkpoint synchronously after each window before starting the next. If
// elapsed time exceeds budget at a window boundary it stops and reports
// RunYielded; a later invocation continues from the ledger. When the last
// window is committed it runs finalization and flips the job to complete.
//
// It is equally safe to call synchronously or detached: checkpointing, not
// caller attention, is the durability mechanism.
func (c *Controller) RunToBudget(ctx context.Context, channel string, budget time.Duration) (types.RunOutcome, error) {
	job, err := c.jobs.GetByChannel(ctx, channel)
	if err != nil {
		return types.RunFailed, err
	}
	if job == nil {
		return types.RunFailed, types.NewAppError(types.ErrCodeNotFoundJob, "no archive job for channel", nil)
	}
	if job.Status == types.JobComplete {
		return types.RunCompleted, nil
	}

	if job.Status != types.JobRunning {
		if err := c.jobs.SetStatus(ctx, channel, types.JobRunning); err != nil {
			return types.RunFailed, err
		}
	}

	writer, err := NewWriter(ctx, c.clips, channel, c.logger)
	if err != nil {
		return c.fail(ctx, channel, fmt.Errorf("initializing writer: %w", err))
	}

	started := c.now()
	processed := 0
	for i := job.CurrentWindow; i < job.TotalWindows; i++ {
		if processed > 0 && c.now().Sub(started) > budget {
			c.logger.InfoContext(ctx, "time budget reached, yielding",
				"channel", channel,
				"current_window", i,
				"total_windows", job.TotalWindows,
			)
			return types.RunYielded, nil
		}

		if c.cfg.TokenRefreshWindows > 0 && processed > 0 && processed%c.cfg.TokenRefreshWindows == 0 {
			if err := c.source.ForceTokenRefresh(ctx); err != nil {
				return c.fail(ctx, channel, fmt.Errorf("refreshing token: %w", err))
			}
		}

		w := WindowAt(job.RangeStart, c.cfg.WindowLen, i, job.TotalWindows, c.now())
		seen, inserted, err := c.processWindow(ctx, job.BroadcasterID, w, writer)
		if err != nil {
			// The checkpoint stays at the last completed window; the job is
			// resumable from there.
			return c.fail(ctx, channel, fmt.Errorf("window %d [%s, %s]: %w",
				i, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339), err))
		}

		if err := c.jobs.Checkpoint(ctx, channel, i+1, seen, inserted); err != nil {
			return c.fail(ctx, channel, fmt.Errorf("checkpointing window %d: %w", i, err))
		}
		processed++
	}

	return c.finalize(ctx, channel)
}

// processWindow fetches every page of one window and writes the records.
func (c *Controller) processWindow(ctx context.Context, broadcasterID string, w types.Window, writer *Writer) (seen, inserted int, err error) {
	_, err = c.source.FetchClips(ctx, broadcasterID, w, func(records []types.ClipRecord) error {
		n, werr := writer.Write(ctx, records)
		if werr != nil {
			return werr
		}
		seen += len(records)
		inserted += n
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return seen, inserted, nil
}

// finalize runs the post-ingestion step and flips the ledger to complete.
// On failure the job is failed with current_window == total_windows, so a
// retry re-enters here directly instead of re-fetching.
func (c *Controller) finalize(ctx context.Context, channel string) (types.RunOutcome, error) {
	if err := c.jobs.SetStatus(ctx, channel, types.JobResolvingMetadata); err != nil {
		return c.fail(ctx, channel, err)
	}
	if err := c.finalizer.Run(ctx, channel); err != nil {
		return c.fail(ctx, channel, fmt.Errorf("finalizing: %w", err))
	}
	if err := c.jobs.MarkComplete(ctx, channel); err != nil {
		return c.fail(ctx, channel, err)
	}
	c.logger.InfoContext(ctx, "archive job complete", "channel", channel)
	return types.RunCompleted, nil
}

// Refresh is the incremental variant: a short window plan starting a safety
// margin before the last refresh, using the same fetch client and writer.
// It only applies to channels with a completed catalog; the ledger's state
// machine is not re-entered, and last_refresh_at is only stamped when every
// window was processed, so an interrupted refresh is simply redone by the
// next tick.
func (c *Controller) Refresh(ctx context.Context, channel string, budget time.Duration) (types.RunOutcome, error) {
	job, err := c.jobs.GetByChannel(ctx, channel)
	if err != nil {
		return types.RunFailed, err
	}
	if job == nil {
		return types.RunFailed, types.NewAppError(types.ErrCodeNotFoundJob, "no archive job for channel", nil)
	}
	if job.Status != types.JobComplete {
		return types.RunFailed, types.NewAppError(types.ErrCodeConflictJobRunning,
			"catalog is not complete; run start instead", nil)
	}

	since := job.RangeStart
	if job.LastRefreshAt != nil {
		since = *job.LastRefreshAt
	} else if job.CompletedAt != nil {
		since = *job.CompletedAt
	}
	lower := since.Add(-c.cfg.SafetyMargin)

	windows := Plan(lower, c.now(), c.cfg.IncrementalWindowLen, c.cfg.APIFloor)
	if len(windows) == 0 {
		return types.RunCompleted, c.jobs.TouchRefresh(ctx, channel)
	}

	writer, err := NewWriter(ctx, c.clips, channel, c.logger)
	if err != nil {
		return types.RunFailed, err
	}

	started := c.now()
	for i, w := range windows {
		if i > 0 && c.now().Sub(started) > budget {
			c.logger.InfoContext(ctx, "refresh budget reached, yielding",
				"channel", channel, "windows_done", i, "windows_total", len(windows))
			return types.RunYielded, nil
		}
		if _, _, err := c.processWindow(ctx, job.BroadcasterID, w, writer); err != nil {
			return types.RunFailed, fmt.Errorf("refresh window %d: %w", i, err)
		}
	}

	_, inserted, _ := writer.Totals()
	if inserted > 0 {
		// Keep the catalog chronologically sequenced after appends.
		if err := c.clips.Resequence(ctx, channel); err != nil {
			return types.RunFailed, fmt.Errorf("resequencing after refresh: %w", err)
		}
	}
	if err := c.jobs.TouchRefresh(ctx, channel); err != nil {
		return types.RunFailed, err
	}

	seen, _, skipped := writer.Totals()
	c.logger.InfoContext(ctx, "incremental refresh complete",
		"channel", channel,
		"windows", len(windows),
		"clips_seen", seen,
		"clips_inserted", inserted,
		"clips_skipped", skipped,
	)
	return types.RunCompleted, nil
}

// Status returns the ledger row for a channel, or nil when none exists.
func (c *Controller) Status(ctx context.Context, channel string) (*types.ArchiveJob, error) {
	return c.jobs.GetByChannel(ctx, channel)
}

// fail records the failure atomically with its detail and reports it.
func (c *Controller) fail(ctx context.Context, channel string, cause error) (types.RunOutcome, error) {
	c.logger.ErrorContext(ctx, "archive job failed",
		"channel", channel,
		"error", cause,
	)
	if err := c.jobs.MarkFailed(ctx, channel, cause.Error()); err != nil {
		c.logger.ErrorContext(ctx, "failed to record job failure",
			"channel", channel,
			"error", err,
		)
	}
	return types.RunFailed, cause
}

func (c *Controller) checkpointLive(job *types.ArchiveJob) bool {
	if job.CheckpointedAt == nil {
		// A job that has never checkpointed is live only briefly after its
		// last status write, covering the gap between admission and the
		// first window commit.
		return c.now().Sub(job.UpdatedAt) < c.cfg.LivenessWindow
	}
	return c.now().Sub(*job.CheckpointedAt) < c.cfg.LivenessWindow
}
