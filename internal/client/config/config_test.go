package config

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaults() *Config {
	c := &Config{}
	c.LoadDefaults()
	return c
}

func TestLoadDefaults(t *testing.T) {
	want := &Config{
		APIBaseURL:          "http://localhost:8000",
		RequestTimeout:      15 * time.Second,
		StatePath:           "medscribe.db",
		LogLevel:            "info",
		HealthCheckInterval: 5 * time.Second,
		RateLimit:           10,
		RateBurst:           5,
	}
	assert.Empty(t, cmp.Diff(want, defaults()))
}

func TestLoadConfig_Precedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	path := writeTempJSON(t, "", "", map[string]any{
		"api_base_url": "http://json:1",
		"state_path":   "json.db",
		"log_level":    "warn",
	})
	t.Setenv("MEDSCRIBE_CONFIG", "")
	t.Setenv("MEDSCRIBE_STATE_PATH", "env.db")
	t.Setenv("MEDSCRIBE_LOG_LEVEL", "error")

	os.Args = []string{"cmd", "-config", path, "-l", "debug"}
	cfg := LoadConfig()

	require.NotNil(t, cfg)
	assert.Equal(t, "http://json:1", cfg.APIBaseURL)
	assert.Equal(t, "env.db", cfg.StatePath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
}
