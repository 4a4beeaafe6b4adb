package db

import (
	"context"
	"fmt"
)

// ProvisioningRepository creates the downstream rows (dashboard settings,
// bot registration) for a channel whose catalog became non-empty. Creation
// is idempotent; the rows are owned and mutated by other subsystems
// afterwards.
type ProvisioningRepository struct {
	db DBTX
}

// NewProvisioningRepository creates a ProvisioningRepository.
func NewProvisioningRepository(db DBTX) *ProvisioningRepository {
	return &ProvisioningRepository{db: db}
}

// EnsureChannel creates the settings and bot-registration rows if absent.
// "Already exists" is success, not an error.
func (r *ProvisioningRepository) EnsureChannel(ctx context.Context, channel string) error {
	if _, err := r.db.Exec(ctx,
		`INSERT INTO channel_settings (channel) VALUES ($1) ON CONFLICT (channel) DO NOTHING`,
		channel,
	); err != nil {
		return fmt.Errorf("ensuring channel settings: %w", err)
	}
	if _, err := r.db.Exec(ctx,
		`INSERT INTO bot_channels (channel) VALUES ($1) ON CONFLICT (channel) DO NOTHING`,
		channel,
	); err != nil {
		return fmt.Errorf("ensuring bot channel: %w", err)
	}
	return nil
}
