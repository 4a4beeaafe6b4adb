package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clipvault/internal/types"
)

// mockJobLister returns a scripted stale set and records the cutoff.
type mockJobLister struct {
	stale  []*types.ArchiveJob
	err    error
	cutoff time.Time
	limit  int
}

func (m *mockJobLister) ListStale(_ context.Context, cutoff time.Time, limit int) ([]*types.ArchiveJob, error) {
	m.cutoff = cutoff
	m.limit = limit
	if m.err != nil {
		return nil, m.err
	}
	return m.stale, nil
}

// mockRefresher records refreshes and returns scripted outcomes.
type mockRefresher struct {
	mu       sync.Mutex
	outcomes map[string]types.RunOutcome
	errs     map[string]error
	calls    []string

	// delay simulates slow channels; inFlight tracks the concurrency
	// high-water mark.
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (m *mockRefresher) Refresh(_ context.Context, channel string, _ time.Duration) (types.RunOutcome, error) {
	n := m.inFlight.Add(1)
	for {
		max := m.maxSeen.Load()
		if n <= max || m.maxSeen.CompareAndSwap(max, n) {
			break
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.inFlight.Add(-1)

	m.mu.Lock()
	m.calls = append(m.calls, channel)
	m.mu.Unlock()

	if err := m.errs[channel]; err != nil {
		return types.RunFailed, err
	}
	if outcome, ok := m.outcomes[channel]; ok {
		return outcome, nil
	}
	return types.RunCompleted, nil
}

func staleJob(channel string) *types.ArchiveJob {
	return &types.ArchiveJob{Channel: channel, Status: types.JobComplete}
}

func testSweeper(jobs JobLister, refresher Refresher, cfg SweeperConfig) *Sweeper {
	if cfg.FreshnessThreshold == 0 {
		cfg.FreshnessThreshold = 4 * time.Hour
	}
	if cfg.Budget == 0 {
		cfg.Budget = 10 * time.Minute
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 2
	}
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSweeper(jobs, refresher, cfg)
}

func TestSweep_RefreshesEveryStaleChannel(t *testing.T) {
	lister := &mockJobLister{stale: []*types.ArchiveJob{
		staleJob("alpha"), staleJob("beta"), staleJob("gamma"),
	}}
	refresher := &mockRefresher{}

	s := testSweeper(lister, refresher, SweeperConfig{})
	result, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if result.Eligible != 3 || result.Refreshed != 3 {
		t.Errorf("result = %+v, want 3 eligible and 3 refreshed", result)
	}
	if len(refresher.calls) != 3 {
		t.Errorf("refreshed %d channels, want 3", len(refresher.calls))
	}
}

func TestSweep_CutoffUsesFreshnessThreshold(t *testing.T) {
	lister := &mockJobLister{}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	s := testSweeper(lister, &mockRefresher{}, SweeperConfig{
		FreshnessThreshold: 4 * time.Hour,
		Now:                func() time.Time { return now },
	})
	if _, err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	want := now.Add(-4 * time.Hour)
	if !lister.cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", lister.cutoff, want)
	}
	if lister.limit != staleBatchLimit {
		t.Errorf("limit = %d, want %d", lister.limit, staleBatchLimit)
	}
}

func TestSweep_ChannelFailureDoesNotAbort(t *testing.T) {
	lister := &mockJobLister{stale: []*types.ArchiveJob{
		staleJob("alpha"), staleJob("broken"), staleJob("gamma"),
	}}
	refresher := &mockRefresher{errs: map[string]error{
		"broken": errors.New("upstream unavailable"),
	}}

	s := testSweeper(lister, refresher, SweeperConfig{})
	result, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if result.Refreshed != 2 || result.Failed != 1 {
		t.Errorf("result = %+v, want 2 refreshed and 1 failed", result)
	}
}

func TestSweep_CountsYieldedSeparately(t *testing.T) {
	lister := &mockJobLister{stale: []*types.ArchiveJob{
		staleJob("alpha"), staleJob("slowpoke"),
	}}
	refresher := &mockRefresher{outcomes: map[string]types.RunOutcome{
		"slowpoke": types.RunYielded,
	}}

	s := testSweeper(lister, refresher, SweeperConfig{})
	result, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if result.Refreshed != 1 || result.Yielded != 1 {
		t.Errorf("result = %+v, want 1 refreshed and 1 yielded", result)
	}
}

func TestSweep_BudgetExhaustionRecordsUnreached(t *testing.T) {
	lister := &mockJobLister{stale: []*types.ArchiveJob{
		staleJob("first"), staleJob("second"), staleJob("third"), staleJob("fourth"),
	}}
	refresher := &mockRefresher{}

	// The clock advances past the budget after the first two admissions.
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var calls atomic.Int32
	s := testSweeper(lister, refresher, SweeperConfig{
		Budget:      time.Minute,
		Concurrency: 1,
		Now: func() time.Time {
			if calls.Add(1) > 3 {
				return base.Add(2 * time.Minute)
			}
			return base
		},
	})

	result, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(result.Unreached) == 0 {
		t.Fatal("expected unreached channels")
	}
	if result.Refreshed+len(result.Unreached) != result.Eligible {
		t.Errorf("refreshed %d + unreached %d != eligible %d",
			result.Refreshed, len(result.Unreached), result.Eligible)
	}
	// Staleness order is preserved: the tail is what gets cut.
	if result.Unreached[len(result.Unreached)-1] != "fourth" {
		t.Errorf("unreached = %v, want the tail of the stale list", result.Unreached)
	}
}

func TestSweep_HonorsConcurrencyCap(t *testing.T) {
	var stale []*types.ArchiveJob
	for _, ch := range []string{"a", "b", "c", "d", "e", "f"} {
		stale = append(stale, staleJob(ch))
	}
	lister := &mockJobLister{stale: stale}
	refresher := &mockRefresher{delay: 10 * time.Millisecond}

	s := testSweeper(lister, refresher, SweeperConfig{Concurrency: 2})
	if _, err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if max := refresher.maxSeen.Load(); max > 2 {
		t.Errorf("observed %d concurrent refreshes, cap is 2", max)
	}
}

func TestSweep_ListerErrorPropagates(t *testing.T) {
	lister := &mockJobLister{err: errors.New("connection refused")}

	s := testSweeper(lister, &mockRefresher{}, SweeperConfig{})
	if _, err := s.Sweep(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
