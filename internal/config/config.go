// Package config loads and validates runtime configuration from
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration.
type Config struct {
	// Dev enables the invariant checker and fail-fast phase validation.
	Dev bool

	// Cache settings.
	CachePath    string // SQLite file for the boot cache; empty means in-memory only.
	CacheVersion string // Schema version stamp; a bump invalidates every entry.

	// Broadcast settings.
	BroadcastURL string // Direct Postgres URL for LISTEN/NOTIFY; empty means local-only.

	// Journal settings.
	JournalCapacity int

	// Boot settings.
	BootTimeout time.Duration // Upper bound WhenReady waits before callers re-check.

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		CachePath:    envStr("LEEZR_CACHE_PATH", ""),
		CacheVersion: envStr("LEEZR_CACHE_VERSION", "v1"),
		BroadcastURL: envStr("LEEZR_BROADCAST_URL", ""),
		OTELEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "leezr-runtime"),
		LogLevel:     envStr("LEEZR_LOG_LEVEL", "info"),
	}

	var err error
	if cfg.Dev, err = envBool("LEEZR_DEV", false); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if cfg.JournalCapacity, err = envInt("LEEZR_JOURNAL_CAPACITY", 256); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if cfg.BootTimeout, err = envDuration("LEEZR_BOOT_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if cfg.OTELInsecure, err = envBool("LEEZR_OTEL_INSECURE", true); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that configuration values are coherent.
func (c Config) Validate() error {
	if c.JournalCapacity <= 0 {
		return fmt.Errorf("config: LEEZR_JOURNAL_CAPACITY must be positive")
	}
	if c.BootTimeout < 0 {
		return fmt.Errorf("config: LEEZR_BOOT_TIMEOUT must not be negative")
	}
	if c.CacheVersion == "" {
		return fmt.Errorf("config: LEEZR_CACHE_VERSION must not be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: LEEZR_LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel)
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
