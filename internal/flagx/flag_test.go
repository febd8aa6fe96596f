package flagx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		allowedFlags []string
		want         []string
	}{
		{
			name:         "short flag with separate value",
			args:         []string{"-c", "conf.json", "-a", "http://localhost:8000"},
			allowedFlags: []string{"-c", "--config"},
			want:         []string{"-c", "conf.json"},
		},
		{
			name:         "long flag with equals",
			args:         []string{"--config=alt.json", "-a", "http://localhost:8000"},
			allowedFlags: []string{"-c", "--config"},
			want:         []string{"--config=alt.json"},
		},
		{
			name:         "unknown flags ignored",
			args:         []string{"-x", "1", "--y=2", "positional"},
			allowedFlags: []string{"-c", "--config"},
			want:         []string{},
		},
		{
			name:         "flag without value at end is kept as-is",
			args:         []string{"-c"},
			allowedFlags: []string{"-c"},
			want:         []string{"-c"},
		},
		{
			name:         "flag followed by another flag keeps no value",
			args:         []string{"-c", "-a", "x"},
			allowedFlags: []string{"-c"},
			want:         []string{"-c"},
		},
		{
			name:         "multiple allowed flags preserve order",
			args:         []string{"-a", "http://api:8000", "-s", "state.db", "--other", "x"},
			allowedFlags: []string{"-s", "-a"},
			want:         []string{"-a", "http://api:8000", "-s", "state.db"},
		},
		{
			name:         "empty args",
			args:         []string{},
			allowedFlags: []string{"-c"},
			want:         []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, tt.allowedFlags))
		})
	}
}

func TestConfigPath(t *testing.T) {
	t.Run("short flag", func(t *testing.T) {
		t.Setenv(ConfigPathEnv, "")
		assert.Equal(t, "a.json", ConfigPath([]string{"-a", "x", "-c", "a.json"}))
	})

	t.Run("long flag with equals", func(t *testing.T) {
		t.Setenv(ConfigPathEnv, "")
		assert.Equal(t, "b.json", ConfigPath([]string{"-config=b.json"}))
	})

	t.Run("env fallback", func(t *testing.T) {
		t.Setenv(ConfigPathEnv, "env.json")
		assert.Equal(t, "env.json", ConfigPath([]string{"-a", "x"}))
	})

	t.Run("flag wins over env", func(t *testing.T) {
		t.Setenv(ConfigPathEnv, "env.json")
		assert.Equal(t, "flag.json", ConfigPath([]string{"-c", "flag.json"}))
	})

	t.Run("nothing set", func(t *testing.T) {
		t.Setenv(ConfigPathEnv, "")
		assert.Equal(t, "", ConfigPath(nil))
	})
}
