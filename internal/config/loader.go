package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Load loads and validates the configuration.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs in window math.
//  2. Load a .env file if present (non-fatal if missing).
//  3. Process envconfig tags to populate the Config struct.
//  4. Validate the struct using go-playground/validator.
func Load() (*Config, error) {
	// Window planning and checkpoint comparisons assume UTC everywhere.
	time.Local = time.UTC

	// Seed the environment from .env for local development. Absence is fine.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment config: %w", err)
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.Environment != "local" && cfg.Server.SweepToken == "" {
		return nil, fmt.Errorf("SWEEP_TOKEN is required outside local environments")
	}

	return &cfg, nil
}
