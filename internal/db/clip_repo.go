package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"clipvault/internal/types"
)

// TxBeginner is satisfied by *pgxpool.Pool and enables repository methods
// that must run inside their own transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ClipRepository provides data access for the clips catalog table.
type ClipRepository struct {
	db       DBTX
	beginner TxBeginner
}

// NewClipRepository creates a ClipRepository backed by the given database
// connection. When db is a pool, transactional methods (Resequence) become
// available.
func NewClipRepository(db DBTX) *ClipRepository {
	r := &ClipRepository{db: db}
	if b, ok := db.(TxBeginner); ok {
		r.beginner = b
	}
	return r
}

const clipColumns = `c.id, c.channel, c.clip_id, c.seq, c.title, c.duration_seconds,
	c.clip_created_at, c.view_count, c.game_id, c.creator_name,
	c.thumbnail_url, c.video_url, c.suppressed, c.first_seen_at, c.updated_at`

// scanClip scans a single clip row. The columns must match clipColumns.
func scanClip(row pgx.Row) (*types.Clip, error) {
	var c types.Clip
	err := row.Scan(
		&c.ID, &c.Channel, &c.ClipID, &c.Seq, &c.Title, &c.Duration,
		&c.ClipCreatedAt, &c.ViewCount, &c.GameID, &c.CreatorName,
		&c.ThumbnailURL, &c.VideoURL, &c.Suppressed, &c.FirstSeenAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// MaxSeq returns the highest assigned sequence number for a channel, or 0
// when the channel has no clips. Callers cache this once per run and assign
// from memory; it must be read fresh at the start of every run.
func (r *ClipRepository) MaxSeq(ctx context.Context, channel string) (int, error) {
	var max int
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM clips WHERE channel = $1`,
		channel,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("querying max seq: %w", err)
	}
	return max, nil
}

// Count returns the number of archived clips for a channel.
func (r *ClipRepository) Count(ctx context.Context, channel string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM clips WHERE channel = $1`,
		channel,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting clips: %w", err)
	}
	return n, nil
}

// UpdateFetched refreshes the mutable fields of an existing catalog row from
// a re-fetched record without touching its sequence number. Returns true if
// a row existed and was updated.
func (r *ClipRepository) UpdateFetched(ctx context.Context, channel string, rec types.ClipRecord) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE clips
		    SET title = $3, view_count = $4, thumbnail_url = $5, updated_at = now()
		  WHERE channel = $1 AND clip_id = $2`,
		channel, rec.ID, rec.Title, rec.ViewCount, rec.ThumbnailURL,
	)
	if err != nil {
		return false, fmt.Errorf("updating clip %s: %w", rec.ID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Insert adds a new catalog row with the given sequence number. Returns
// false if another writer inserted the same (channel, clip_id) first; the
// caller treats that as an absorbed duplicate, not an error.
func (r *ClipRepository) Insert(ctx context.Context, clip *types.Clip) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO clips (channel, clip_id, seq, title, duration_seconds,
		                    clip_created_at, view_count, game_id, creator_name,
		                    thumbnail_url, video_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (channel, clip_id) DO NOTHING`,
		clip.Channel, clip.ClipID, clip.Seq, clip.Title, clip.Duration,
		clip.ClipCreatedAt, clip.ViewCount, clip.GameID, clip.CreatorName,
		clip.ThumbnailURL, clip.VideoURL,
	)
	if err != nil {
		return false, fmt.Errorf("inserting clip %s: %w", clip.ClipID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Resequence renumbers a channel's catalog 1..N in chronological order
// (ties broken by clip_id). It runs as a single transaction in two phases:
// all sequences are first negated to move them out of the unique index's
// value space, then reassigned ascending. Other readers only ever observe
// the committed before or after state.
func (r *ClipRepository) Resequence(ctx context.Context, channel string) error {
	if r.beginner == nil {
		return errors.New("resequence requires a pool-backed repository")
	}
	tx, err := r.beginner.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning resequence tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE clips SET seq = -seq WHERE channel = $1`, channel,
	); err != nil {
		return fmt.Errorf("negating sequences: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE clips c
		    SET seq = ranked.rn
		   FROM (SELECT id, ROW_NUMBER() OVER (ORDER BY clip_created_at, clip_id) AS rn
		           FROM clips WHERE channel = $1) ranked
		  WHERE c.id = ranked.id`, channel,
	); err != nil {
		return fmt.Errorf("reassigning sequences: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing resequence: %w", err)
	}
	return nil
}

// UnresolvedGameIDs returns the distinct game ids referenced by a channel's
// catalog that are absent from the games cache.
func (r *ClipRepository) UnresolvedGameIDs(ctx context.Context, channel string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT c.game_id
		   FROM clips c
		   LEFT JOIN games g ON g.game_id = c.game_id
		  WHERE c.channel = $1 AND c.game_id <> '' AND g.game_id IS NULL
		  ORDER BY c.game_id`,
		channel,
	)
	if err != nil {
		return nil, fmt.Errorf("querying unresolved game ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning game id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ForEachByChannel streams a channel's clips in sequence order through fn.
// Iteration stops on the first error fn returns.
func (r *ClipRepository) ForEachByChannel(ctx context.Context, channel string, fn func(*types.Clip) error) error {
	rows, err := r.db.Query(ctx,
		`SELECT `+clipColumns+` FROM clips c WHERE c.channel = $1 ORDER BY c.seq`,
		channel,
	)
	if err != nil {
		return fmt.Errorf("querying clips: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		clip, err := scanClip(rows)
		if err != nil {
			return fmt.Errorf("scanning clip: %w", err)
		}
		if err := fn(clip); err != nil {
			return err
		}
	}
	return rows.Err()
}

// SetSuppressed flips the suppression flag on a single clip. Suppression is
// the pipeline's only removal mechanism; rows are never hard-deleted.
func (r *ClipRepository) SetSuppressed(ctx context.Context, channel, clipID string, suppressed bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE clips SET suppressed = $3, updated_at = now()
		  WHERE channel = $1 AND clip_id = $2`,
		channel, clipID, suppressed,
	)
	if err != nil {
		return fmt.Errorf("setting suppression: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundChannel, "clip not found", nil)
	}
	return nil
}

// GetByClipID fetches one catalog row.
func (r *ClipRepository) GetByClipID(ctx context.Context, channel, clipID string) (*types.Clip, error) {
	clip, err := scanClip(r.db.QueryRow(ctx,
		`SELECT `+clipColumns+` FROM clips c WHERE c.channel = $1 AND c.clip_id = $2`,
		channel, clipID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying clip: %w", err)
	}
	return clip, nil
}
