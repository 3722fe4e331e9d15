package config

import (
	"os"
	"time"
)

// parseEnv overlays Config with values from environment variables.
// Invalid duration strings are ignored so a bad environment never
// prevents startup with defaults.
func parseEnv(cfg *Config) {
	if v, ok := os.LookupEnv("SYNC_REDIS_URL"); ok {
		cfg.RedisURL = v
	}
	if v, ok := os.LookupEnv("SYNC_DATABASE_DSN"); ok {
		cfg.DatabaseDSN = v
	}
	if v, ok := os.LookupEnv("SYNC_CORRELATION_WINDOW"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CorrelationWindow = d
		}
	}
	if v, ok := os.LookupEnv("SYNC_RECONNECT_BASE"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ReconnectBase = d
		}
	}
	if v, ok := os.LookupEnv("SYNC_RECONNECT_CAP"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ReconnectCap = d
		}
	}
}
