// Package config defines the global configuration for the ClipVault service.
// Configuration is loaded once at process initialization and is immutable
// thereafter; components receive only the subsets they require.
//
// Values come from the OS environment, optionally seeded by a .env file in
// local development. Any missing required value or invalid format fails
// startup immediately.
package config

import (
	"time"

	"clipvault/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used for credentials to prevent accidental logging.
type SecretString = types.SecretString

// Config is the top-level configuration struct.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server    ServerConfig
	Database  DatabaseConfig
	Twitch    TwitchConfig
	Archive   ArchiveConfig
	Scheduler SchedulerConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`

	// SweepToken authenticates the scheduler tick endpoint. Required in
	// non-local environments.
	SweepToken SecretString `envconfig:"SWEEP_TOKEN"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// TwitchConfig holds Helix API credentials and client tuning.
type TwitchConfig struct {
	ClientID     string       `envconfig:"TWITCH_CLIENT_ID" validate:"required"`
	ClientSecret SecretString `envconfig:"TWITCH_CLIENT_SECRET" validate:"required"`

	// Override URLs for testing.
	APIBaseURL string `envconfig:"TWITCH_API_BASE_URL" default:"https://api.twitch.tv/helix"`
	TokenURL   string `envconfig:"TWITCH_TOKEN_URL" default:"https://id.twitch.tv/oauth2/token"`

	PageSize      int           `envconfig:"TWITCH_PAGE_SIZE" default:"100" validate:"min=1,max=100"`
	MaxPages      int           `envconfig:"TWITCH_MAX_PAGES_PER_WINDOW" default:"30" validate:"min=1"`
	PageDelay     time.Duration `envconfig:"TWITCH_PAGE_DELAY" default:"150ms"`
	// MaxRetries counts retries after the first attempt.
	MaxRetries    int           `envconfig:"TWITCH_MAX_RETRIES" default:"5" validate:"min=0"`
	RetryBaseWait time.Duration `envconfig:"TWITCH_RETRY_BASE_WAIT" default:"1s"`
	RetryMaxWait  time.Duration `envconfig:"TWITCH_RETRY_MAX_WAIT" default:"30s"`
}

// ArchiveConfig tunes the ingestion pipeline.
type ArchiveConfig struct {
	WindowDays     int           `envconfig:"ARCHIVE_WINDOW_DAYS" default:"30" validate:"min=1"`
	RunBudget      time.Duration `envconfig:"ARCHIVE_RUN_BUDGET" default:"4m"`
	LivenessWindow time.Duration `envconfig:"ARCHIVE_LIVENESS_WINDOW" default:"5m"`
	MaxActiveJobs  int           `envconfig:"ARCHIVE_MAX_ACTIVE_JOBS" default:"2" validate:"min=1"`

	// Token refresh cadence in windows; long jobs outlive token lifetimes.
	TokenRefreshWindows int `envconfig:"ARCHIVE_TOKEN_REFRESH_WINDOWS" default:"20" validate:"min=1"`
}

// SchedulerConfig tunes the cross-channel refresh sweep.
type SchedulerConfig struct {
	FreshnessThreshold time.Duration `envconfig:"SWEEP_FRESHNESS_THRESHOLD" default:"4h"`
	SafetyMargin       time.Duration `envconfig:"SWEEP_SAFETY_MARGIN" default:"24h"`
	IncrementalDays    int           `envconfig:"SWEEP_INCREMENTAL_WINDOW_DAYS" default:"7" validate:"min=1"`
	Budget             time.Duration `envconfig:"SWEEP_BUDGET" default:"10m"`
	Concurrency        int           `envconfig:"SWEEP_CONCURRENCY" default:"2" validate:"min=1"`
}
