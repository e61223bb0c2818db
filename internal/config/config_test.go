package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 10, cfg.Redis.PoolSize)
	assert.Equal(t, "redis_timers:timeline", cfg.Timers.TimelineKey)
	assert.Equal(t, "redis_timers:payloads", cfg.Timers.PayloadsKey)
	assert.Equal(t, 32, cfg.Timers.ConcurrentProcessingLimit)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_FromYAMLFile(t *testing.T) {
	path := writeTempYAML(t, `
redis:
  addr: "redis.internal:6380"
timers:
  concurrent_processing_limit: 8
log:
  level: "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 8, cfg.Timers.ConcurrentProcessingLimit)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Unset values still come from defaults.
	assert.Equal(t, "redis_timers:timeline", cfg.Timers.TimelineKey)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("REDIS_ADDR", "env-redis:6379")
	t.Setenv("TIMERS_CONCURRENT_PROCESSING_LIMIT", "4")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 4, cfg.Timers.ConcurrentProcessingLimit)
}

func TestConfig_ValidateRejectsMissingRedisAddr(t *testing.T) {
	cfg := Config{Timers: TimersConfig{TimelineKey: "t", PayloadsKey: "p"}}
	require.Error(t, cfg.Validate())
}

func TestConfig_ValidateRejectsMissingTimersKeys(t *testing.T) {
	cfg := Config{Redis: RedisConfig{Addr: "localhost:6379"}}
	require.Error(t, cfg.Validate())
}

func TestConfig_ValidateRejectsNegativeConcurrencyLimit(t *testing.T) {
	cfg := Config{
		Redis:  RedisConfig{Addr: "localhost:6379"},
		Timers: TimersConfig{TimelineKey: "t", PayloadsKey: "p", ConcurrentProcessingLimit: -1},
	}
	require.Error(t, cfg.Validate())
}

func TestConfig_ValidateAcceptsZeroConcurrencyLimit(t *testing.T) {
	cfg := Config{
		Redis:  RedisConfig{Addr: "localhost:6379"},
		Timers: TimersConfig{TimelineKey: "t", PayloadsKey: "p", ConcurrentProcessingLimit: 0},
	}
	require.NoError(t, cfg.Validate())
}

func TestTimersConfig_ToEngineConfig(t *testing.T) {
	tc := TimersConfig{
		TimelineKey:               "tl",
		PayloadsKey:               "pl",
		ConcurrentProcessingLimit: 16,
	}
	ec := tc.ToEngineConfig()
	assert.Equal(t, "tl", ec.TimelineKey)
	assert.Equal(t, "pl", ec.PayloadsKey)
	assert.Equal(t, 16, ec.ConcurrentProcessingLimit)
}
