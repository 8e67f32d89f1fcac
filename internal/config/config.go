// File: internal/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Endpoint EndpointConfig `mapstructure:"endpoint" yaml:"endpoint"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Actions  ActionsConfig  `mapstructure:"actions" yaml:"actions"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// EndpointConfig describes how to reach the browser-process endpoint.
type EndpointConfig struct {
	// URL is a websocket endpoint (ws:// or wss://). Mutually exclusive with Pipe.
	URL string `mapstructure:"url" yaml:"url"`
	// Pipe is a filesystem path to a pipe pair endpoint.
	Pipe        string        `mapstructure:"pipe" yaml:"pipe"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// EngineConfig tunes protocol-level behavior of the engine.
type EngineConfig struct {
	// DefaultTimeout bounds every protocol operation that takes no explicit deadline.
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	// NavigationTimeout bounds navigations and post-action load-state waits.
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// ActionsConfig tunes the actionability wait loop.
type ActionsConfig struct {
	// Timeout is the total budget for one action (resolve + probe + act + settle).
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// PollInterval is the pacing between consecutive actionability probes.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// SettleGrace bounds the wait for a navigation triggered by an action.
	SettleGrace time.Duration `mapstructure:"settle_grace" yaml:"settle_grace"`
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Endpoint.URL != "" && c.Endpoint.Pipe != "" {
		return fmt.Errorf("endpoint.url and endpoint.pipe are mutually exclusive")
	}
	if c.Actions.PollInterval < 0 {
		return fmt.Errorf("actions.poll_interval must not be negative")
	}
	if c.Actions.Timeout < 0 {
		return fmt.Errorf("actions.timeout must not be negative")
	}
	return nil
}
