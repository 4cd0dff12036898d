package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	// DefaultExpiryWindow is how long an unconfirmed operation may sit
	// before the sweeper expires it.
	DefaultExpiryWindow = 15 * time.Minute
	// DefaultSweepInterval is how often the sweeper scans.
	DefaultSweepInterval = 2 * time.Minute
)

// Config holds the application configuration.
type Config struct {
	Environment      string
	DatabaseURL      string
	AMQPURL          string
	AuditArchivePath string
	ExpiryWindow     time.Duration
	SweepInterval    time.Duration
}

// Load loads configuration from environment variables. AMQP_URL and
// AUDIT_ARCHIVE_PATH are optional; leaving them unset disables notification
// fan-out and the archived audit trail respectively.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:      os.Getenv("APP_ENV"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		AMQPURL:          os.Getenv("AMQP_URL"),
		AuditArchivePath: os.Getenv("AUDIT_ARCHIVE_PATH"),
		ExpiryWindow:     DefaultExpiryWindow,
		SweepInterval:    DefaultSweepInterval,
	}

	var err error
	if cfg.ExpiryWindow, err = durationEnv("EXPIRY_WINDOW", DefaultExpiryWindow); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", DefaultSweepInterval); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var missing []string

	if c.Environment == "" {
		missing = append(missing, "APP_ENV")
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	// Expiring operations the moment they are created would be a
	// misconfiguration, not a policy.
	if c.ExpiryWindow <= 0 {
		return errors.New("EXPIRY_WINDOW must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("SWEEP_INTERVAL must be positive")
	}

	return nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, raw, err)
	}
	return d, nil
}
