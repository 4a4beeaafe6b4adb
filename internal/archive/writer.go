package archive

import (
	"context"
	"log/slog"

	"clipvault/internal/types"
)

// ClipStore is the catalog access the pipeline needs. Implemented by
// db.ClipRepository.
type ClipStore interface {
	// MaxSeq returns the highest assigned sequence number for the channel,
	// or 0 for an empty catalog.
	MaxSeq(ctx context.Context, channel string) (int, error)
	// UpdateFetched refreshes mutable fields of an existing row without
	// changing its sequence. Returns true when a row existed.
	UpdateFetched(ctx context.Context, channel string, rec types.ClipRecord) (bool, error)
	// Insert adds a new row. Returns false when another writer inserted the
	// same (channel, clip_id) first.
	Insert(ctx context.Context, clip *types.Clip) (bool, error)
	// Count returns the catalog size for the channel.
	Count(ctx context.Context, channel string) (int, error)
	// Resequence renumbers the channel 1..N chronologically in one
	// transaction.
	Resequence(ctx context.Context, channel string) error
	// UnresolvedGameIDs returns game ids referenced by the channel but
	// absent from the metadata cache.
	UnresolvedGameIDs(ctx context.Context, channel string) ([]string, error)
}

// Writer converts fetched records into catalog rows. It caches the
// channel's max sequence number once at construction and assigns from
// memory, guaranteeing strictly increasing, gap-free sequences within one
// run. Re-running any window through a Writer never creates duplicate rows
// or duplicate sequences: existing records are updated in place.
//
// A Writer is bound to a single run; construct a fresh one per invocation
// so the cached sequence is read fresh from the store.
type Writer struct {
	store   ClipStore
	channel string
	nextSeq int
	logger  *slog.Logger

	seen     int
	inserted int
	skipped  int
}

// NewWriter creates a Writer for one channel, reading the current max
// sequence from the store.
func NewWriter(ctx context.Context, store ClipStore, channel string, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	max, err := store.MaxSeq(ctx, channel)
	if err != nil {
		return nil, err
	}
	return &Writer{
		store:   store,
		channel: channel,
		nextSeq: max + 1,
		logger:  logger,
	}, nil
}

// Write upserts a batch of fetched records and returns the number inserted.
// Records already present are updated in place (view counts, titles,
// thumbnails) without sequence changes. A record-level store error is
// counted and skipped; it never aborts the batch.
func (w *Writer) Write(ctx context.Context, records []types.ClipRecord) (int, error) {
	inserted := 0
	for _, rec := range records {
		w.seen++

		updated, err := w.store.UpdateFetched(ctx, w.channel, rec)
		if err != nil {
			w.skipped++
			w.logger.WarnContext(ctx, "skipping clip after update error",
				"channel", w.channel, "clip_id", rec.ID, "error", err)
			continue
		}
		if updated {
			continue
		}

		ok, err := w.store.Insert(ctx, &types.Clip{
			Channel:       w.channel,
			ClipID:        rec.ID,
			Seq:           w.nextSeq,
			Title:         rec.Title,
			Duration:      rec.Duration,
			ClipCreatedAt: rec.CreatedAt,
			ViewCount:     rec.ViewCount,
			GameID:        rec.GameID,
			CreatorName:   rec.CreatorName,
			ThumbnailURL:  rec.ThumbnailURL,
			VideoURL:      rec.VideoURL,
		})
		if err != nil {
			w.skipped++
			w.logger.WarnContext(ctx, "skipping clip after insert error",
				"channel", w.channel, "clip_id", rec.ID, "error", err)
			continue
		}
		if ok {
			w.nextSeq++
			inserted++
			w.inserted++
		}
	}
	return inserted, nil
}

// Totals returns cumulative counts across all Write calls on this Writer.
func (w *Writer) Totals() (seen, inserted, skipped int) {
	return w.seen, w.inserted, w.skipped
}
