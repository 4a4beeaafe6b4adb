package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"clipvault/internal/types"
)

// JobRepository provides data access for the archive_jobs ledger. The ledger
// row is the single source of truth for resumption: every status flip is
// written atomically with the detail it reflects.
type JobRepository struct {
	db DBTX
}

// NewJobRepository creates a JobRepository backed by the given connection.
func NewJobRepository(db DBTX) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, channel, broadcaster_id, status, total_windows, current_window,
	clips_seen, clips_inserted, range_start, last_error,
	created_at, updated_at, checkpointed_at, completed_at, last_refresh_at`

func scanJob(row pgx.Row) (*types.ArchiveJob, error) {
	var j types.ArchiveJob
	err := row.Scan(
		&j.ID, &j.Channel, &j.BroadcasterID, &j.Status, &j.TotalWindows, &j.CurrentWindow,
		&j.ClipsSeen, &j.ClipsInserted, &j.RangeStart, &j.LastError,
		&j.CreatedAt, &j.UpdatedAt, &j.CheckpointedAt, &j.CompletedAt, &j.LastRefreshAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// GetByChannel returns the ledger row for a channel, or nil when the channel
// has never been archived.
func (r *JobRepository) GetByChannel(ctx context.Context, channel string) (*types.ArchiveJob, error) {
	job, err := scanJob(r.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM archive_jobs WHERE channel = $1`,
		channel,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying job: %w", err)
	}
	return job, nil
}

// Create inserts a fresh ledger row in pending state.
func (r *JobRepository) Create(ctx context.Context, job *types.ArchiveJob) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO archive_jobs
		        (channel, broadcaster_id, status, total_windows, current_window, range_start)
		 VALUES ($1, $2, $3, $4, 0, $5)
		 RETURNING id, created_at, updated_at`,
		job.Channel, job.BroadcasterID, job.Status, job.TotalWindows, job.RangeStart,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

// ResetPlan re-anchors an existing ledger row to a freshly computed window
// plan and moves it back to running. The checkpoint (current_window) is kept
// so a resumed job continues where it stopped; it is clamped in case the new
// plan is shorter.
func (r *JobRepository) ResetPlan(ctx context.Context, channel, broadcasterID string, totalWindows int, rangeStart time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE archive_jobs
		    SET broadcaster_id = $2,
		        status = $3,
		        total_windows = $4,
		        current_window = LEAST(current_window, $4),
		        range_start = $5,
		        last_error = '',
		        completed_at = NULL,
		        updated_at = now()
		  WHERE channel = $1`,
		channel, broadcasterID, types.JobRunning, totalWindows, rangeStart,
	)
	if err != nil {
		return fmt.Errorf("resetting job plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
	}
	return nil
}

// Checkpoint persists window progress. The write is synchronous and strictly
// ordered per channel: window N+1's checkpoint is never issued before window
// N's has returned.
func (r *JobRepository) Checkpoint(ctx context.Context, channel string, currentWindow, seenDelta, insertedDelta int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE archive_jobs
		    SET current_window = $2,
		        clips_seen = clips_seen + $3,
		        clips_inserted = clips_inserted + $4,
		        checkpointed_at = now(),
		        updated_at = now()
		  WHERE channel = $1`,
		channel, currentWindow, seenDelta, insertedDelta,
	)
	if err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
	}
	return nil
}

// SetStatus flips the job status.
func (r *JobRepository) SetStatus(ctx context.Context, channel string, status types.JobStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE archive_jobs SET status = $2, updated_at = now() WHERE channel = $1`,
		channel, status,
	)
	if err != nil {
		return fmt.Errorf("setting job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
	}
	return nil
}

// MarkFailed records a failure. Status and error detail change in one
// statement so the ledger never shows one without the other.
func (r *JobRepository) MarkFailed(ctx context.Context, channel, detail string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE archive_jobs
		    SET status = $2, last_error = $3, updated_at = now()
		  WHERE channel = $1`,
		channel, types.JobFailed, detail,
	)
	if err != nil {
		return fmt.Errorf("marking job failed: %w", err)
	}
	return nil
}

// MarkComplete flips the job to its terminal state and stamps both the
// completion and refresh times.
func (r *JobRepository) MarkComplete(ctx context.Context, channel string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE archive_jobs
		    SET status = $2, last_error = '', completed_at = now(),
		        last_refresh_at = now(), updated_at = now()
		  WHERE channel = $1`,
		channel, types.JobComplete,
	)
	if err != nil {
		return fmt.Errorf("marking job complete: %w", err)
	}
	return nil
}

// TouchRefresh stamps last_refresh_at after an incremental refresh run.
func (r *JobRepository) TouchRefresh(ctx context.Context, channel string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE archive_jobs SET last_refresh_at = now(), updated_at = now() WHERE channel = $1`,
		channel,
	)
	if err != nil {
		return fmt.Errorf("touching refresh time: %w", err)
	}
	return nil
}

// CountActive counts jobs holding a slot against the global concurrency cap:
// running or resolving_metadata with a checkpoint newer than the liveness
// cutoff. Jobs with older checkpoints are treated as abandoned.
func (r *JobRepository) CountActive(ctx context.Context, checkpointedAfter time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM archive_jobs
		  WHERE status IN ($1, $2) AND checkpointed_at > $3`,
		types.JobRunning, types.JobResolvingMetadata, checkpointedAfter,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active jobs: %w", err)
	}
	return n, nil
}

// ListStale returns completed jobs whose catalog has not been refreshed
// since the cutoff, least-recently-refreshed first. Jobs that have never
// been refreshed sort first.
func (r *JobRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*types.ArchiveJob, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+jobColumns+` FROM archive_jobs
		  WHERE status = $1 AND (last_refresh_at IS NULL OR last_refresh_at < $2)
		  ORDER BY last_refresh_at ASC NULLS FIRST
		  LIMIT $3`,
		types.JobComplete, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing stale jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*types.ArchiveJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
