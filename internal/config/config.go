// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - New() returns a Config populated with defaults.
// - Load(ctx) layers defaults, an optional YAML file and CLANRANK_* env vars.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"time"
)

// Store drivers understood by the service.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the slog handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// StoreDriver selects the ranked list store: memory or sqlite.
	StoreDriver string `koanf:"store_driver"`

	// DatabasePath is the SQLite file used when StoreDriver is sqlite.
	DatabasePath string `koanf:"database_path"`

	// BaseRankValue is the rank assigned to the top of a committed order.
	BaseRankValue int64 `koanf:"base_rank_value"`

	// RankStep is the gap between consecutive positions.
	RankStep int64 `koanf:"rank_step"`

	// MaxListSize bounds how many entities take part in one reorder session.
	MaxListSize int `koanf:"max_list_size"`

	// TransientRetries is how many times a row write is retried after a
	// transient store failure.
	TransientRetries int `koanf:"transient_retries"`

	// OptimisticConcurrency makes session commits compare-and-swap on row versions.
	OptimisticConcurrency bool `koanf:"optimistic_concurrency"`

	// SessionTTLSeconds expires reorder sessions idle for longer than this.
	SessionTTLSeconds int `koanf:"session_ttl_seconds"`

	// NoticeQueueSize bounds the commit notice queue feeding live clients.
	NoticeQueueSize int `koanf:"notice_queue_size"`

	// AllowedOrigins lists CORS origins for the browser admin panel.
	// Empty means local development origins only.
	AllowedOrigins []string `koanf:"allowed_origins"`

	// AdminTokens maps bearer tokens to roles (owner, admin, user).
	AdminTokens map[string]string `koanf:"admin_tokens"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":9080",
		StoreDriver:           DriverMemory,
		DatabasePath:          "data/clanrank.db",
		BaseRankValue:         1000,
		RankStep:              50,
		MaxListSize:           20,
		TransientRetries:      1,
		OptimisticConcurrency: true,
		SessionTTLSeconds:     900,
		NoticeQueueSize:       1024,
		AdminTokens:           map[string]string{},
	}
}

// SessionTTL returns SessionTTLSeconds as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// Validate checks the invariants the service relies on.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.StoreDriver != DriverMemory && c.StoreDriver != DriverSQLite:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	case c.StoreDriver == DriverSQLite && c.DatabasePath == "":
		return fmt.Errorf("%w: database_path must be set for sqlite", ErrInvalidConfig)
	case c.RankStep <= 0:
		return fmt.Errorf("%w: rank_step must be positive", ErrInvalidConfig)
	case c.BaseRankValue <= 0:
		return fmt.Errorf("%w: base_rank_value must be positive", ErrInvalidConfig)
	case c.MaxListSize < 1:
		return fmt.Errorf("%w: max_list_size must be at least 1", ErrInvalidConfig)
	case int64(c.MaxListSize-1)*c.RankStep > c.BaseRankValue:
		return fmt.Errorf("%w: max_list_size %d with rank_step %d underflows base_rank_value %d",
			ErrInvalidConfig, c.MaxListSize, c.RankStep, c.BaseRankValue)
	case c.TransientRetries < 0:
		return fmt.Errorf("%w: transient_retries must not be negative", ErrInvalidConfig)
	}
	for token, role := range c.AdminTokens {
		switch role {
		case "owner", "admin", "user":
		default:
			return fmt.Errorf("%w: token %q has unknown role %q", ErrInvalidConfig, redact(token), role)
		}
	}
	return nil
}

func redact(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
