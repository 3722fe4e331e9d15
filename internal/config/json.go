package config

import (
	"encoding/json"
	"os"

	"github.com/Akintomiwa200/aagc-sub000/internal/flagx"
	"github.com/Akintomiwa200/aagc-sub000/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "3s" or as integer nanoseconds. After parsing, values
// are copied into the runtime Config (which uses time.Duration).
type JsonConfig struct {
	RedisURL                 string         `json:"redis_url"`
	DatabaseDSN              string         `json:"database_dsn"`
	ReconnectBase            timex.Duration `json:"reconnect_base"`
	ReconnectCap             timex.Duration `json:"reconnect_cap"`
	ReconnectMaxAttempts     uint64         `json:"reconnect_max_attempts"`
	CorrelationWindow        timex.Duration `json:"correlation_window"`
	DevotionalDwellThreshold timex.Duration `json:"devotional_dwell_threshold"`
}

// parseJson overlays Config with values loaded from a JSON file. The file
// path comes from the -c/-config flags via flagx.JsonConfigFlags; when no
// path is given the function is a no-op. Read or unmarshal errors panic
// (caller should recover if desired). Zero values in the file leave the
// corresponding Config field untouched.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.RedisURL != "" {
		cfg.RedisURL = jc.RedisURL
	}
	if jc.DatabaseDSN != "" {
		cfg.DatabaseDSN = jc.DatabaseDSN
	}
	if jc.ReconnectBase.Duration > 0 {
		cfg.ReconnectBase = jc.ReconnectBase.Duration
	}
	if jc.ReconnectCap.Duration > 0 {
		cfg.ReconnectCap = jc.ReconnectCap.Duration
	}
	if jc.ReconnectMaxAttempts > 0 {
		cfg.ReconnectMaxAttempts = jc.ReconnectMaxAttempts
	}
	if jc.CorrelationWindow.Duration > 0 {
		cfg.CorrelationWindow = jc.CorrelationWindow.Duration
	}
	if jc.DevotionalDwellThreshold.Duration > 0 {
		cfg.DevotionalDwellThreshold = jc.DevotionalDwellThreshold.Duration
	}
}
