package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"clipvault/internal/types"
)

// Runner executes archive jobs in background goroutines with their own
// lifecycle, so a caller can trigger a run, receive its response, and walk
// away. Durability comes from the ledger checkpoints, not from the caller
// or from this process: a runner dying mid-job leaves a resumable
// checkpoint exactly like a yielded run does.
//
// The in-process de-duplication here is a convenience, not a correctness
// mechanism; the ledger's liveness check is what gates admission across
// processes.
type Runner struct {
	ctrl   *Controller
	budget time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

// NewRunner creates a Runner that invokes RunToBudget with the given
// per-invocation budget, re-invoking after every yield until the job
// completes or fails.
func NewRunner(ctrl *Controller, budget time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		ctrl:   ctrl,
		budget: budget,
		logger: logger,
		active: make(map[string]struct{}),
	}
}

// Kick starts background execution for a channel. It returns immediately;
// if this process is already executing the channel, Kick is a no-op. The
// job context is detached from the caller's so an abandoned request does
// not cancel the run.
func (r *Runner) Kick(ctx context.Context, channel string) {
	r.mu.Lock()
	if _, running := r.active[channel]; running {
		r.mu.Unlock()
		return
	}
	r.active[channel] = struct{}{}
	r.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.active, channel)
			r.mu.Unlock()
		}()

		for {
			outcome, err := r.ctrl.RunToBudget(runCtx, channel, r.budget)
			if outcome == types.RunYielded {
				continue
			}
			if err != nil {
				r.logger.ErrorContext(runCtx, "background run ended with failure",
					"channel", channel, "error", err)
			}
			return
		}
	}()
}

// Wait blocks until all background runs have finished or ctx is done.
// Called on shutdown; an interrupted job resumes from its checkpoint later.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
