package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	for _, level := range []string{"trace", "debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level), level)
	}

	err := v.ValidateLogLevel("verbose")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestValidatePort(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidatePort(0))
	assert.NoError(t, v.ValidatePort(8080))
	assert.NoError(t, v.ValidatePort(65535))
	assert.Error(t, v.ValidatePort(-1))
	assert.Error(t, v.ValidatePort(65536))
}

func TestValidateListenAddr(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateListenAddr("127.0.0.1:9090"))
	assert.NoError(t, v.ValidateListenAddr(":9090"))
	assert.Error(t, v.ValidateListenAddr(""))
	assert.Error(t, v.ValidateListenAddr("no-port"))
}

func TestValidateConfigCollectsAllErrors(t *testing.T) {
	v := NewValidator()

	cfg := DefaultConfig()
	cfg.Server.Port = -1
	cfg.Invocation.Timeout = -1
	cfg.Logging.Level = "verbose"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "bogus"

	errs := v.ValidateConfig(cfg)
	assert.Len(t, errs, 4)
}

func TestValidateConfigCleanDefaults(t *testing.T) {
	v := NewValidator()
	assert.Empty(t, v.ValidateConfig(DefaultConfig()))
}
