package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"clipvault/internal/types"
)

// GameRepository provides data access for the games metadata cache. The
// cache is append-only: rows are inserted once resolved and never removed,
// so absence always means "not yet resolved".
type GameRepository struct {
	db DBTX
}

// NewGameRepository creates a GameRepository backed by the given connection.
func NewGameRepository(db DBTX) *GameRepository {
	return &GameRepository{db: db}
}

// UpsertBatch caches a batch of resolved games. Re-resolving an id refreshes
// its name; ids already cached are not an error.
func (r *GameRepository) UpsertBatch(ctx context.Context, games []types.Game) error {
	for _, g := range games {
		_, err := r.db.Exec(ctx,
			`INSERT INTO games (game_id, name, box_art_url)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (game_id) DO UPDATE
			   SET name = EXCLUDED.name, box_art_url = EXCLUDED.box_art_url`,
			g.GameID, g.Name, g.BoxArtURL,
		)
		if err != nil {
			return fmt.Errorf("caching game %s: %w", g.GameID, err)
		}
	}
	return nil
}

// Get returns a cached game, or nil when the id has not been resolved.
func (r *GameRepository) Get(ctx context.Context, gameID string) (*types.Game, error) {
	var g types.Game
	err := r.db.QueryRow(ctx,
		`SELECT game_id, name, box_art_url, resolved_at FROM games WHERE game_id = $1`,
		gameID,
	).Scan(&g.GameID, &g.Name, &g.BoxArtURL, &g.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying game: %w", err)
	}
	return &g, nil
}
