package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "portfolio", cfg.Database.Postgres.Database)
	assert.Equal(t, "6379", cfg.Database.Redis.Port)
	assert.Equal(t, 30*time.Second, cfg.Sync.LockTTL)
	assert.Equal(t, 20*time.Second, cfg.Sync.WaitMax)
	assert.Equal(t, 25*time.Second, cfg.Snapshot.LockWait)
	assert.Equal(t, 45*time.Second, cfg.Snapshot.DedupWindow)
	assert.Equal(t, 5*time.Minute, cfg.Sync.PriceThrottle)
	assert.Equal(t, 48, cfg.Sync.PriceHistoryKeepHours)
	assert.Equal(t, "USD", cfg.Sync.BaseCurrency)
	assert.GreaterOrEqual(t, cfg.Dispatcher.Concurrency, 1)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("SYNC_LOCK_TTL", "45s")
	t.Setenv("SNAPSHOT_DEDUP_WINDOW", "90s")
	t.Setenv("BASE_CURRENCY", "EUR")
	t.Setenv("POSTGRES_MAX_CONNECTIONS", "10")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Sync.LockTTL)
	assert.Equal(t, 90*time.Second, cfg.Snapshot.DedupWindow)
	assert.Equal(t, "EUR", cfg.Sync.BaseCurrency)
	assert.Equal(t, 10, cfg.Database.Postgres.MaxConnections)
}

func TestLoadConfigInvalidValuesFallBack(t *testing.T) {
	t.Setenv("SYNC_WAIT_MAX", "not-a-duration")
	t.Setenv("REDIS_DB", "not-an-int")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 20*time.Second, cfg.Sync.WaitMax)
	assert.Equal(t, 0, cfg.Database.Redis.DB)
}
