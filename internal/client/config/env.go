package config

import "github.com/ilyakaznacheev/cleanenv"

// parseEnv overlays Config with MEDSCRIBE_* environment variables. Unset
// variables leave the current value alone. Panics on malformed values.
func parseEnv(cfg *Config) {
	if err := cleanenv.ReadEnv(cfg); err != nil {
		panic(err)
	}
}
