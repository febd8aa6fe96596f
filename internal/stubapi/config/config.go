// Package config handles configuration for the stub API server,
// including defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the stub API.
//
// Fields:
//   - EndpointAddrHTTP: bind address for the HTTP endpoint.
//   - SecretKey: HMAC secret for signing access tokens (HS256). Do not use test defaults in prod.
//   - AccessTokenValidityDuration / RefreshTokenValidityDuration: token lifetimes.
//   - SecondFactorCode: the code two-factor accounts must present.
//   - DebugCodes: echo the code in login challenges.
//   - LogLevel: debug, info, warn or error.
type Config struct {
	EndpointAddrHTTP             string
	SecretKey                    string
	AccessTokenValidityDuration  time.Duration
	RefreshTokenValidityDuration time.Duration
	SecondFactorCode             string
	DebugCodes                   bool
	LogLevel                     string
}

// LoadDefaults populates Config with development defaults.
// NOTE: These values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.EndpointAddrHTTP = ":8000"
	c.SecretKey = "secretKey"
	c.AccessTokenValidityDuration = 1 * time.Minute
	c.RefreshTokenValidityDuration = 24 * time.Hour
	c.SecondFactorCode = "123456"
	c.DebugCodes = true
	c.LogLevel = "debug"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
