package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, defaultServerAddress, cfg.Server.Address)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, 50, cfg.Worker.Concurrency)
	assert.Equal(t, time.Minute, cfg.Scheduler.LeaseTTL)
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
logger:
  level: debug
server:
  address: ":9000"
storage:
  backend: redis
redis:
  address: "127.0.0.1:6379"
worker:
  concurrency: 8
  heartbeat: 2s
scheduler:
  lease_ttl: 30s
  poll_interval: 5s
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, BackendRedis, cfg.Storage.Backend)
	assert.Equal(t, "127.0.0.1:6379", cfg.Redis.Address)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, 2*time.Second, cfg.Worker.Heartbeat)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.LeaseTTL)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.PollInterval)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("QUARRY_SERVER_ADDRESS", ":7070")
	cfg, err := Load(writeConfig(t, "server:\n  address: \":9000\"\n"))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Address)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	_, err := Load(writeConfig(t, "storage:\n  backend: postgres\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage backend")
}

func TestLoadRedisBackendRequiresAddress(t *testing.T) {
	_, err := Load(writeConfig(t, "storage:\n  backend: redis\n"))
	require.Error(t, err)
}
