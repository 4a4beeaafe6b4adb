// Package scheduler implements the periodic cross-channel refresh sweep.
//
// A sweep selects every channel with a completed catalog whose last refresh
// is older than the freshness threshold, least-recently-refreshed first,
// and runs the incremental archive variant for each under a global
// concurrency cap and a hard wall-clock budget. Channels not reached before
// the budget expires are recorded and left for the next tick; the only
// cross-tick state is each channel's own last_refresh_at.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"clipvault/internal/types"
)

// staleBatchLimit bounds how many candidates one sweep considers, keeping a
// single tick's work predictable even with many archived channels.
const staleBatchLimit = 200

// JobLister is the ledger read the sweeper needs. Implemented by
// db.JobRepository.
type JobLister interface {
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*types.ArchiveJob, error)
}

// Refresher runs the incremental archive variant for one channel.
// Implemented by archive.Controller.
type Refresher interface {
	Refresh(ctx context.Context, channel string, budget time.Duration) (types.RunOutcome, error)
}

// SweeperConfig holds the configuration for creating a Sweeper.
type SweeperConfig struct {
	// FreshnessThreshold: channels refreshed more recently than this are
	// skipped entirely.
	FreshnessThreshold time.Duration
	// Budget is the hard wall-clock limit for one sweep.
	Budget time.Duration
	// Concurrency caps simultaneous channel refreshes.
	Concurrency int
	// ChannelBudget bounds a single channel's refresh run.
	ChannelBudget time.Duration

	Logger *slog.Logger
	// Now overrides the clock for tests.
	Now func() time.Time
}

// Sweeper runs refresh sweeps.
type Sweeper struct {
	jobs      JobLister
	refresher Refresher
	cfg       SweeperConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewSweeper creates a Sweeper.
func NewSweeper(jobs JobLister, refresher Refresher, cfg SweeperConfig) *Sweeper {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Sweeper{
		jobs:      jobs,
		refresher: refresher,
		cfg:       cfg,
		logger:    logger,
		now:       now,
	}
}

// SweepResult summarizes one sweep tick.
type SweepResult struct {
	Eligible  int      `json:"eligible"`
	Refreshed int      `json:"refreshed"`
	Yielded   int      `json:"yielded"`
	Failed    int      `json:"failed"`
	Unreached []string `json:"unreached,omitempty"`
	Elapsed   string   `json:"elapsed"`
}

// Sweep runs one tick. Individual channel failures are counted and logged
// but never abort the sweep; only a ledger read error is returned.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	started := s.now()
	cutoff := started.Add(-s.cfg.FreshnessThreshold)

	stale, err := s.jobs.ListStale(ctx, cutoff, staleBatchLimit)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Eligible: len(stale)}
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i, job := range stale {
		if s.now().Sub(started) > s.cfg.Budget {
			// Out of budget: record the remainder and stop admitting.
			for _, rest := range stale[i:] {
				result.Unreached = append(result.Unreached, rest.Channel)
			}
			s.logger.InfoContext(ctx, "sweep budget reached",
				"refreshed_so_far", i,
				"unreached", len(result.Unreached),
			)
			break
		}

		channel := job.Channel
		g.Go(func() error {
			outcome, err := s.refresher.Refresh(gCtx, channel, s.cfg.ChannelBudget)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed++
				s.logger.ErrorContext(gCtx, "channel refresh failed",
					"channel", channel, "error", err)
			case outcome == types.RunYielded:
				// Partially done; last_refresh_at was not stamped, so the
				// next tick picks the channel up again.
				result.Yielded++
			default:
				result.Refreshed++
			}
			// Errors stay local to the channel.
			return nil
		})
	}

	// Goroutines only ever return nil.
	_ = g.Wait()

	result.Elapsed = s.now().Sub(started).Round(time.Millisecond).String()
	s.logger.InfoContext(ctx, "sweep finished",
		"eligible", result.Eligible,
		"refreshed", result.Refreshed,
		"yielded", result.Yielded,
		"failed", result.Failed,
		"unreached", len(result.Unreached),
	)
	return result, nil
}
