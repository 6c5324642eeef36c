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
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Nil(t, cfg)

	// Without an explicit path a missing file falls back to defaults.
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8086", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 800*time.Millisecond, cfg.Fraud.PerCheckTimeout)
	assert.Equal(t, time.Minute, cfg.Fraud.SweepInterval)
	assert.Contains(t, cfg.Fraud.HighRiskCountries, "KP")
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fraudguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
server:
  addr: ":9090"
  mode: debug
database:
  driver: postgres
  dsn: "host=localhost user=fraudguard dbname=fraudguard"
redis:
  addr: "localhost:6379"
kafka:
  brokers:
    - "localhost:9092"
fraud:
  per_check_timeout: 250ms
  sweep_interval: 30s
  whitelist_users:
    - vip
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 250*time.Millisecond, cfg.Fraud.PerCheckTimeout)
	assert.Equal(t, 30*time.Second, cfg.Fraud.SweepInterval)
	assert.Equal(t, []string{"vip"}, cfg.Fraud.WhitelistUsers)
	// Untouched sections keep their defaults.
	assert.Equal(t, "fraudguard.alerts", cfg.Kafka.Topic)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fraudguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: mysql\n"), 0o600))

	cfg, err := Load(path)
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FRAUDGUARD_LOG_LEVEL", "warn")
	t.Setenv("FRAUDGUARD_SERVER_ADDR", ":7070")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}
