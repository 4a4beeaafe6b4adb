package archive

import (
	"context"
	"fmt"
	"log/slog"

	"clipvault/internal/types"
)

// GameStore is the metadata cache access the finalizer needs. Implemented
// by db.GameRepository.
type GameStore interface {
	UpsertBatch(ctx context.Context, games []types.Game) error
}

// ProvisioningStore creates downstream channel resources. Implemented by
// db.ProvisioningRepository.
type ProvisioningStore interface {
	EnsureChannel(ctx context.Context, channel string) error
}

// Finalizer runs once after the last window of a job. Its three steps are
// sequential and independently retryable:
//
//  1. Resequence the catalog chronologically. Ingestion order from a
//     resumed job is not chronological, since windows run oldest-first but
//     re-fetches interleave.
//  2. Resolve game metadata for ids missing from the cache, in batches.
//     Partial failure here is tolerated and does not fail the job.
//  3. Provision downstream rows if the catalog is non-empty.
type Finalizer struct {
	clips  ClipStore
	games  GameStore
	prov   ProvisioningStore
	source ClipSource

	batchLimit int
	logger     *slog.Logger
}

// FinalizerConfig holds the configuration for creating a Finalizer.
type FinalizerConfig struct {
	// GamesBatchLimit caps ids per metadata lookup call. Defaults to the
	// upstream maximum of 100.
	GamesBatchLimit int
	Logger          *slog.Logger
}

// NewFinalizer creates a Finalizer.
func NewFinalizer(clips ClipStore, games GameStore, prov ProvisioningStore, source ClipSource, cfg FinalizerConfig) *Finalizer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.GamesBatchLimit
	if limit <= 0 {
		limit = 100
	}
	return &Finalizer{
		clips:      clips,
		games:      games,
		prov:       prov,
		source:     source,
		batchLimit: limit,
		logger:     logger,
	}
}

// Run executes the three finalization steps for a channel.
func (f *Finalizer) Run(ctx context.Context, channel string) error {
	if err := f.clips.Resequence(ctx, channel); err != nil {
		return fmt.Errorf("resequencing catalog: %w", err)
	}

	if err := f.resolveMetadata(ctx, channel); err != nil {
		return fmt.Errorf("resolving metadata: %w", err)
	}

	n, err := f.clips.Count(ctx, channel)
	if err != nil {
		return fmt.Errorf("counting catalog: %w", err)
	}
	if n > 0 {
		if err := f.prov.EnsureChannel(ctx, channel); err != nil {
			return fmt.Errorf("provisioning channel: %w", err)
		}
	}
	return nil
}

// resolveMetadata backfills the games cache for every id the channel's
// catalog references that has not been resolved yet. A failed batch is
// logged and skipped; the remaining batches still run.
func (f *Finalizer) resolveMetadata(ctx context.Context, channel string) error {
	ids, err := f.clips.UnresolvedGameIDs(ctx, channel)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	resolved := 0
	for start := 0; start < len(ids); start += f.batchLimit {
		end := min(start+f.batchLimit, len(ids))
		batch := ids[start:end]

		games, err := f.source.ResolveGames(ctx, batch)
		if err != nil {
			f.logger.WarnContext(ctx, "game metadata batch failed",
				"channel", channel,
				"batch_size", len(batch),
				"error", err,
			)
			continue
		}
		if err := f.games.UpsertBatch(ctx, games); err != nil {
			return err
		}
		resolved += len(games)
	}

	f.logger.InfoContext(ctx, "game metadata resolved",
		"channel", channel,
		"referenced", len(ids),
		"resolved", resolved,
	)
	return nil
}
