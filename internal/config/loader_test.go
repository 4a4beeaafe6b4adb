package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/clipvault")
	t.Setenv("TWITCH_CLIENT_ID", "test-client-id")
	t.Setenv("TWITCH_CLIENT_SECRET", "test-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Environment)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30, cfg.Archive.WindowDays)
	assert.Equal(t, 2, cfg.Archive.MaxActiveJobs)
	assert.Equal(t, 100, cfg.Twitch.PageSize)
	assert.Equal(t, 30, cfg.Twitch.MaxPages)
	assert.Equal(t, 7, cfg.Scheduler.IncrementalDays)
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("TWITCH_CLIENT_ID", "")
	t.Setenv("TWITCH_CLIENT_SECRET", "x")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadSweepTokenRequiredOutsideLocal(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "prod")
	t.Setenv("SWEEP_TOKEN", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SWEEP_TOKEN")
}

func TestSecretRedaction(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "[REDACTED]", cfg.Twitch.ClientSecret.String())
	assert.Equal(t, "test-secret", cfg.Twitch.ClientSecret.Reveal())
}
