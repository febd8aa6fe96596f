package config

import "time"

// Config holds runtime settings for the medscribe CLI.
//
// Fields:
//   - APIBaseURL: scheme://host[:port] of the transcription API.
//   - RequestTimeout: per-request HTTP timeout.
//   - StatePath: SQLite file keeping the refresh cookie between runs.
//   - LogLevel: debug, info, warn or error.
//   - MetricsAddr: listen address for /metrics; empty disables it.
//   - HealthCheckInterval: how often the client probes API reachability.
//   - RateLimit / RateBurst: client-side request throttle (requests per second).
type Config struct {
	APIBaseURL          string        `env:"MEDSCRIBE_API_URL"`
	RequestTimeout      time.Duration `env:"MEDSCRIBE_REQUEST_TIMEOUT"`
	StatePath           string        `env:"MEDSCRIBE_STATE_PATH"`
	LogLevel            string        `env:"MEDSCRIBE_LOG_LEVEL"`
	MetricsAddr         string        `env:"MEDSCRIBE_METRICS_ADDR"`
	HealthCheckInterval time.Duration `env:"MEDSCRIBE_HEALTH_CHECK_INTERVAL"`
	RateLimit           float64       `env:"MEDSCRIBE_RATE_LIMIT"`
	RateBurst           int           `env:"MEDSCRIBE_RATE_BURST"`
}

// LoadDefaults populates c with development defaults.
func (c *Config) LoadDefaults() {
	c.APIBaseURL = "http://localhost:8000"
	c.RequestTimeout = 15 * time.Second
	c.StatePath = "medscribe.db"
	c.LogLevel = "info"
	c.MetricsAddr = ""
	c.HealthCheckInterval = 5 * time.Second
	c.RateLimit = 10
	c.RateBurst = 5
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present), the environment and command-line flags. Later sources
// take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}
