package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 7300, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "./data/drydock.db", cfg.History.DSN)
	assert.Equal(t, 60*time.Second, cfg.Docker.ReadyTimeout)
	assert.Equal(t, 10*time.Second, cfg.Docker.StopTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "pytest", cfg.Pipeline.TestCommand)
	assert.Equal(t, "flake8", cfg.Pipeline.LintCommand)
	assert.Equal(t, 15*time.Minute, cfg.Pipeline.Timeout)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
server:
  host: "0.0.0.0"
  port: 9000

docker:
  host: "tcp://127.0.0.1:2375"
  ready_timeout: 90s

history:
  dsn: "/tmp/test.db"

log:
  level: "debug"
  format: "text"

pipeline:
  test_command: "pytest -x tests/"
  lint_command: "flake8 src/"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "tcp://127.0.0.1:2375", cfg.Docker.Host)
	assert.Equal(t, 90*time.Second, cfg.Docker.ReadyTimeout)
	assert.Equal(t, "/tmp/test.db", cfg.History.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "pytest -x tests/", cfg.Pipeline.TestCommand)
	assert.Equal(t, "flake8 src/", cfg.Pipeline.LintCommand)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("DRYDOCK_SERVER_HOST", "192.168.1.1")
	t.Setenv("DRYDOCK_SERVER_PORT", "3000")
	t.Setenv("DRYDOCK_HISTORY_DSN", "/custom/path.db")
	t.Setenv("DRYDOCK_LOG_LEVEL", "warn")
	t.Setenv("DRYDOCK_SECRETS_PASSPHRASE", "s3cret")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.1", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/custom/path.db", cfg.History.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "s3cret", cfg.Secrets.Passphrase)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err) // Should not error, just use defaults

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 7300, cfg.Server.Port)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		cfg := &Config{Log: LogConfig{Level: "info", Format: format}}
		assert.NotNil(t, SetupLogger(cfg))
	}
}

func TestSetupLogger_InvalidLevel(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "invalid", Format: "json"}}

	// Should fall back to info level, not panic
	assert.NotNil(t, SetupLogger(cfg))
}

// =============================================================================
// Config Validation Tests
// =============================================================================

func TestConfig_Address(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 7300,
		},
	}

	assert.Equal(t, "localhost:7300", cfg.Server.Address())
}

// =============================================================================
// Test Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"DRYDOCK_SERVER_HOST",
		"DRYDOCK_SERVER_PORT",
		"DRYDOCK_HISTORY_DSN",
		"DRYDOCK_DOCKER_HOST",
		"DRYDOCK_LOG_LEVEL",
		"DRYDOCK_LOG_FORMAT",
		"DRYDOCK_SECRETS_PASSPHRASE",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}
