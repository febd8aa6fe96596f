package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/medscribe/internal/flagx"
	"github.com/dmitrijs2005/medscribe/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Durations go
// through timex.Duration so they may be written as "15s" or as integer
// nanoseconds. Absent keys keep the value already in Config.
type JsonConfig struct {
	APIBaseURL          *string         `json:"api_base_url"`
	RequestTimeout      *timex.Duration `json:"request_timeout"`
	StatePath           *string         `json:"state_path"`
	LogLevel            *string         `json:"log_level"`
	MetricsAddr         *string         `json:"metrics_addr"`
	HealthCheckInterval *timex.Duration `json:"health_check_interval"`
	RateLimit           *float64        `json:"rate_limit"`
	RateBurst           *int            `json:"rate_burst"`
}

// parseJson overlays Config with values loaded from the file named by -c,
// -config or $MEDSCRIBE_CONFIG. Panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.APIBaseURL != nil {
		cfg.APIBaseURL = *jc.APIBaseURL
	}
	if jc.RequestTimeout != nil {
		cfg.RequestTimeout = jc.RequestTimeout.Duration
	}
	if jc.StatePath != nil {
		cfg.StatePath = *jc.StatePath
	}
	if jc.LogLevel != nil {
		cfg.LogLevel = *jc.LogLevel
	}
	if jc.MetricsAddr != nil {
		cfg.MetricsAddr = *jc.MetricsAddr
	}
	if jc.HealthCheckInterval != nil {
		cfg.HealthCheckInterval = jc.HealthCheckInterval.Duration
	}
	if jc.RateLimit != nil {
		cfg.RateLimit = *jc.RateLimit
	}
	if jc.RateBurst != nil {
		cfg.RateBurst = *jc.RateBurst
	}
}
