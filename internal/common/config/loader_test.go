package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
app:
  name: workflow-runner
  environment: test
backend:
  base_url: http://localhost:8000
  timeout: 30000
defaults:
  provider: anthropic
session:
  token_key: session:test:token
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "workflow-runner", cfg.App.Name)
	assert.Equal(t, "http://localhost:8000", cfg.Backend.BaseURL)
	assert.Equal(t, 30000, cfg.Backend.Timeout)
	assert.Equal(t, "anthropic", cfg.Defaults.Provider)
	assert.Equal(t, "session:test:token", cfg.Session.TokenKey)
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
backend:
  base_url: http://localhost:8000
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 120000, cfg.Backend.Timeout)
	assert.Equal(t, 3, cfg.Backend.MaxAttempts)
	assert.Equal(t, 500, cfg.Backend.BackoffInitial)
	assert.Equal(t, "google", cfg.Defaults.Provider)
	assert.Equal(t, 0.7, cfg.Defaults.Temperature)
	assert.Equal(t, []string{"openai", "anthropic"}, cfg.Defaults.ParallelProviders)
	assert.Equal(t, "session:current:token", cfg.Session.TokenKey)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFileRequiresBackendURL(t *testing.T) {
	path := writeConfig(t, `
app:
  name: workflow-runner
`)

	_, err := LoadFromFile(path)
	assert.ErrorContains(t, err, "backend.base_url is required")
}

func TestLoadFromFileValidatesNotifications(t *testing.T) {
	path := writeConfig(t, `
backend:
  base_url: http://localhost:8000
notifications:
  email:
    enabled: true
`)

	_, err := LoadFromFile(path)
	assert.ErrorContains(t, err, "from_email is required")
}

func TestOverrideEmptyConfigFromEnv(t *testing.T) {
	t.Setenv("WORKFLOW_BACKEND_URL", "http://backend.internal:8000")
	t.Setenv("WORKFLOW_SESSION_TOKEN", "env-token")

	var cfg Config
	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	assert.Equal(t, "http://backend.internal:8000", cfg.Backend.BaseURL)
	assert.Equal(t, "env-token", cfg.Session.StaticToken)
}

func TestGetDSN(t *testing.T) {
	pg := PostgresConfig{
		Host: "localhost", Port: 5432, User: "app", Password: "secret",
		Database: "valueprop", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=app password=secret dbname=valueprop sslmode=disable",
		pg.GetDSN())
	assert.True(t, pg.Enabled())
	assert.False(t, PostgresConfig{}.Enabled())
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, GetDuration(500))
	assert.Equal(t, 2*time.Minute, GetDuration(120000))
}
