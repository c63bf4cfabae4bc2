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

	assert.Equal(t, "flotilla.yml", cfg.Stack.File)
	assert.Equal(t, "flotilla", cfg.Stack.Project)
	assert.Equal(t, "", cfg.Engine.Host)
	assert.Equal(t, "./secrets", cfg.Secrets.Dir)
	assert.False(t, cfg.Secrets.Cleanup)
	assert.Equal(t, 10*time.Minute, cfg.Deploy.Timeout)
	assert.Equal(t, 0, cfg.Deploy.MaxConcurrent)
	assert.Equal(t, 30*time.Second, cfg.Deploy.StartTimeout)
	assert.Equal(t, 2*time.Second, cfg.Health.Interval)
	assert.Equal(t, 60*time.Second, cfg.Health.Timeout)
	assert.False(t, cfg.Images.Push)
	assert.Equal(t, 3, cfg.Images.PushRetries)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, "./data/flotilla.db", cfg.Journal.DSN)
	assert.Equal(t, "", cfg.Notify.WebhookURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
stack:
  file: "stacks/shop.yml"
  project: "shop"

secrets:
  cleanup: true
  values:
    db_password: "hunter2"

deploy:
  timeout: 5m
  max_concurrent: 2

journal:
  dsn: "/tmp/runs.db"

notify:
  webhook_url: "https://hooks.example.com/deploy"

log:
  level: "debug"
  format: "text"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "stacks/shop.yml", cfg.Stack.File)
	assert.Equal(t, "shop", cfg.Stack.Project)
	assert.True(t, cfg.Secrets.Cleanup)
	assert.Equal(t, "hunter2", cfg.Secrets.Values["db_password"])
	assert.Equal(t, 5*time.Minute, cfg.Deploy.Timeout)
	assert.Equal(t, 2, cfg.Deploy.MaxConcurrent)
	assert.Equal(t, "/tmp/runs.db", cfg.Journal.DSN)
	assert.Equal(t, "https://hooks.example.com/deploy", cfg.Notify.WebhookURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("FLOTILLA_STACK_FILE", "other.yml")
	t.Setenv("FLOTILLA_DEPLOY_TIMEOUT", "1m")
	t.Setenv("FLOTILLA_JOURNAL_DSN", "/custom/runs.db")
	t.Setenv("FLOTILLA_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "other.yml", cfg.Stack.File)
	assert.Equal(t, time.Minute, cfg.Deploy.Timeout)
	assert.Equal(t, "/custom/runs.db", cfg.Journal.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_SecretValuesFromEnv(t *testing.T) {
	clearEnv(t)

	t.Setenv("FLOTILLA_SECRET_DB_PASSWORD", "s3cr3t")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "s3cr3t", cfg.Secrets.Values["db_password"])
}

func TestLoadConfig_SecretEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	configContent := `
secrets:
  values:
    db_password: "from-file"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))
	t.Setenv("FLOTILLA_SECRET_DB_PASSWORD", "from-env")

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Secrets.Values["db_password"])
}

func TestMergeSecretEnv_IgnoresMalformedEntries(t *testing.T) {
	cfg := &Config{}
	mergeSecretEnv(cfg, []string{
		"FLOTILLA_SECRET_API_KEY=abc",
		"FLOTILLA_SECRET_=no-name",
		"UNRELATED=x",
	})

	assert.Equal(t, map[string]string{"api_key": "abc"}, cfg.Secrets.Values)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err) // Should not error, just use defaults

	assert.Equal(t, "flotilla.yml", cfg.Stack.File)
	assert.True(t, cfg.Journal.Enabled)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	// Create invalid config file
	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

// =============================================================================
// Registry Auth Tests
// =============================================================================

func TestRegistryConfig_Auth(t *testing.T) {
	cfg := RegistryConfig{Username: "bob", Password: "pw", Server: "registry.example.com"}

	auth := cfg.Auth()
	assert.Equal(t, "bob", auth.Username)
	assert.Equal(t, "pw", auth.Password)
	assert.Equal(t, "registry.example.com", auth.ServerAddress)
	assert.False(t, auth.Empty())

	assert.True(t, RegistryConfig{}.Auth().Empty())
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_JSONFormat(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}

	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

func TestSetupLogger_TextFormat(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}

	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

func TestSetupLogger_InvalidLevel(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "invalid",
			Format: "json",
		},
	}

	// Should fall back to info level, not panic
	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

// =============================================================================
// Test Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"FLOTILLA_STACK_FILE",
		"FLOTILLA_STACK_PROJECT",
		"FLOTILLA_DEPLOY_TIMEOUT",
		"FLOTILLA_JOURNAL_DSN",
		"FLOTILLA_LOG_LEVEL",
		"FLOTILLA_LOG_FORMAT",
		"FLOTILLA_SECRET_DB_PASSWORD",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}
