package config

import "time"

// Config holds runtime settings for the sync daemon.
//
// Fields:
//   - RedisURL: URL of the backend push endpoint (redis://host:port).
//   - DatabaseDSN: path/DSN of the local SQLite cache.
//   - ReconnectBase: initial reconnect backoff delay.
//   - ReconnectCap: upper bound a single backoff delay may grow to.
//   - ReconnectMaxAttempts: consecutive failures tolerated before the
//     persistent-failure signal is raised.
//   - CorrelationWindow: how long a confirmed record stays correlatable
//     against a late local-pending counterpart (and vice versa).
//   - DevotionalDwellThreshold: minimum reading time for a devotional to
//     count as a gamification action.
type Config struct {
	RedisURL                 string
	DatabaseDSN              string
	ReconnectBase            time.Duration
	ReconnectCap             time.Duration
	ReconnectMaxAttempts     uint64
	CorrelationWindow        time.Duration
	DevotionalDwellThreshold time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.RedisURL = "redis://127.0.0.1:6379"
	c.DatabaseDSN = "sync.db"
	c.ReconnectBase = 1 * time.Second
	c.ReconnectCap = 30 * time.Second
	c.ReconnectMaxAttempts = 10
	c.CorrelationWindow = 5 * time.Second
	c.DevotionalDwellThreshold = 2 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present), environment variables, and command-line flags. Later
// sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}
