// File: internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.Equal(t, "marionet", cfg.Logger.ServiceName)
	assert.Equal(t, 30*time.Second, cfg.Endpoint.DialTimeout)
	assert.Equal(t, 30*time.Second, cfg.Engine.DefaultTimeout)
	assert.Equal(t, 30*time.Second, cfg.Engine.NavigationTimeout)
	assert.Equal(t, 30*time.Second, cfg.Actions.Timeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Actions.PollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Actions.SettleGrace)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
logger:
  level: debug
  format: json
endpoint:
  url: ws://localhost:9222/session
engine:
  default_timeout: 10s
actions:
  poll_interval: 50ms
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "json", cfg.Logger.Format)
	assert.Equal(t, "ws://localhost:9222/session", cfg.Endpoint.URL)
	assert.Equal(t, 10*time.Second, cfg.Engine.DefaultTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.Actions.PollInterval)
	// Untouched sections keep their defaults.
	assert.Equal(t, 500*time.Millisecond, cfg.Actions.SettleGrace)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MARIONET_LOGGER_LEVEL", "warn")
	t.Setenv("MARIONET_ACTIONS_TIMEOUT", "5s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logger.Level)
	assert.Equal(t, 5*time.Second, cfg.Actions.Timeout)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Run("mutually exclusive endpoints", func(t *testing.T) {
		cfg := &Config{Endpoint: EndpointConfig{URL: "ws://x", Pipe: "/tmp/pipe"}}
		require.Error(t, cfg.Validate())
	})

	t.Run("negative intervals rejected", func(t *testing.T) {
		cfg := &Config{Actions: ActionsConfig{PollInterval: -time.Second}}
		require.Error(t, cfg.Validate())

		cfg = &Config{Actions: ActionsConfig{Timeout: -time.Second}}
		require.Error(t, cfg.Validate())
	})

	t.Run("zero config is valid", func(t *testing.T) {
		cfg := &Config{}
		require.NoError(t, cfg.Validate())
	})
}
