package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main runtime configuration
type Config struct {
	// Server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Invocation
	Invocation InvocationConfig `json:"invocation" mapstructure:"invocation"`

	// Background tasks
	Tasks TasksConfig `json:"tasks" mapstructure:"tasks"`

	// Debug actions
	Debug DebugConfig `json:"debug" mapstructure:"debug"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds the invocation server configuration
type ServerConfig struct {
	Host            string `json:"host" mapstructure:"host"` // empty selects the container-aware default
	Port            int    `json:"port" mapstructure:"port"`
	ShutdownTimeout int    `json:"shutdown_timeout" mapstructure:"shutdown_timeout"` // seconds
}

// InvocationConfig bounds a single entrypoint call
type InvocationConfig struct {
	Timeout int `json:"timeout" mapstructure:"timeout"` // seconds, 0 disables
}

// TasksConfig holds background task settings
type TasksConfig struct {
	Workers int `json:"workers" mapstructure:"workers"`
}

// DebugConfig controls the debug control actions
type DebugConfig struct {
	Actions bool `json:"actions" mapstructure:"actions"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds the Prometheus listener configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "",
			Port:            8080,
			ShutdownTimeout: 30,
		},
		Invocation: InvocationConfig{
			Timeout: 0,
		},
		Tasks: TasksConfig{
			Workers: 8,
		},
		Debug: DebugConfig{
			Actions: false,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid, stopping at the first
// problem. Use Validator.ValidateConfig to collect all of them.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server shutdown_timeout must be >= 0")
	}
	if c.Invocation.Timeout < 0 {
		return fmt.Errorf("invocation timeout must be >= 0")
	}
	if c.Tasks.Workers < 0 {
		return fmt.Errorf("tasks workers must be >= 0")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics addr is required when metrics are enabled")
	}

	v := NewValidator()
	if err := v.ValidateLogLevel(c.Logging.Level); err != nil {
		return err
	}

	return nil
}
