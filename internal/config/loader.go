package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Load builds the Config from the process environment. In local development
// a .env file (if present) seeds missing variables first; OS environment
// always wins. The populated struct is validated and any violation fails
// the process immediately.
func Load() (*Config, error) {
	// Ignore a missing .env file: production environments configure the
	// process environment directly.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to process environment: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return &cfg, nil
}
