package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Server.ShutdownTimeout)
	assert.Empty(t, cfg.Server.Host)
	assert.Equal(t, 0, cfg.Invocation.Timeout)
	assert.Equal(t, 8, cfg.Tasks.Workers)
	assert.False(t, cfg.Debug.Actions)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9090", cfg.Metrics.Addr)
}

func TestConfigValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("invalid port", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.Port = 70000
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("negative shutdown timeout", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.ShutdownTimeout = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative invocation timeout", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Invocation.Timeout = -5
		assert.Error(t, cfg.Validate())
	})

	t.Run("metrics enabled without addr", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "metrics addr")
	})

	t.Run("unknown log level", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Logging.Level = "verbose"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	s := cfg.String()

	assert.NotEmpty(t, s)

	// The string form must round-trip as JSON
	var decoded Config
	require.NoError(t, json.Unmarshal([]byte(s), &decoded))
	assert.Equal(t, cfg.Server.Port, decoded.Server.Port)
	assert.Equal(t, cfg.Logging.Level, decoded.Logging.Level)
}
