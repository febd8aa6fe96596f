package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/medscribe/internal/flagx"
	"github.com/dmitrijs2005/medscribe/internal/timex"
)

// JsonConfig is the on-disk shape of Config. Durations use timex.Duration so
// they can be strings such as "1m" or integer nanoseconds.
type JsonConfig struct {
	EndpointAddrHTTP             string         `json:"endpoint_addr_http"`
	SecretKey                    string         `json:"secret_key"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	SecondFactorCode             string         `json:"second_factor_code"`
	DebugCodes                   bool           `json:"debug_codes"`
	LogLevel                     string         `json:"log_level"`
}

// parseJson loads the file named by -c/-config (or $MEDSCRIBE_CONFIG) into
// config. Unlike the client loader the file replaces every field, so it must
// be complete. Panics on read or unmarshal errors.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.SecretKey = c.SecretKey
	config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	config.RefreshTokenValidityDuration = c.RefreshTokenValidityDuration.Duration
	config.SecondFactorCode = c.SecondFactorCode
	config.DebugCodes = c.DebugCodes
	config.LogLevel = c.LogLevel
}
