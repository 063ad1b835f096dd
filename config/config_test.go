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
	path := filepath.Join(t.TempDir(), "pto.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5, cfg.Integration.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Integration.RetryInterval)
	assert.False(t, cfg.Integration.Enabled)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("HOOK_HOST", "hooks.internal")
	path := writeConfig(t, `
server:
  port: 9090
  host: "127.0.0.1"
  read_timeout: 5s
storage:
  driver: memory
log:
  level: debug
  environment: production
directory:
  accounts:
    - accountId: acc-1
      displayName: Ann
      emailAddress: ann@example.com
      active: true
integration:
  enabled: true
  url: "https://${HOOK_HOST}/pto"
  max_attempts: 3
  retry_interval: 30s
cors:
  allowed_origins: ["https://example.com"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Addr())
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout, "unset fields keep defaults")
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, "production", cfg.Log.Environment)
	require.Len(t, cfg.Directory.Accounts, 1)
	assert.Equal(t, "Ann", cfg.Directory.Accounts[0].DisplayName)
	assert.True(t, cfg.Directory.Accounts[0].Active)
	assert.Equal(t, "https://hooks.internal/pto", cfg.Integration.URL)
	assert.Equal(t, 3, cfg.Integration.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Integration.RetryInterval)
	assert.Equal(t, []string{"https://example.com"}, cfg.CORS.AllowedOrigins)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PTO_PORT", "7070")
	t.Setenv("PTO_STORAGE_DRIVER", "memory")
	t.Setenv("PTO_INTEGRATION_URL", "http://hook")
	t.Setenv("PTO_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.True(t, cfg.Integration.Enabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [not a map"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "storage:\n  driver: postgres\n"))
	assert.ErrorContains(t, err, "storage.driver")

	_, err = Load(writeConfig(t, "integration:\n  enabled: true\n"))
	assert.ErrorContains(t, err, "integration.url")
}
