// Package config loads process-wide configuration for the timersd host:
// Redis connection settings, the dispatch engine's tunables, logging, and
// metrics. Modeled directly on the teacher's internal/config/config.go
// (viper, YAML file + TIMERS_/REDIS_/LOG_ env vars, a Validate method on
// the top-level Config).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vitaliisemenov/redis-timers/timers"
)

// Config is the top-level configuration for the timersd host process.
type Config struct {
	Redis  RedisConfig  `mapstructure:"redis"`
	Timers TimersConfig `mapstructure:"timers"`
	Log    LogConfig    `mapstructure:"log"`
}

// RedisConfig holds the connection settings for the backing store,
// modeled on the teacher's CacheConfig
// (internal/infrastructure/cache/interface.go).
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// TimersConfig mirrors spec.md §6's TIMERS_* configuration surface.
type TimersConfig struct {
	TimelineKey               string        `mapstructure:"timeline_key"`
	PayloadsKey               string        `mapstructure:"payloads_key"`
	ConcurrentProcessingLimit int           `mapstructure:"concurrent_processing_limit"`
	TimerLockTTL              time.Duration `mapstructure:"timer_lock_ttl"`
	ConsumeLockTTL            time.Duration `mapstructure:"consume_lock_ttl"`
}

// ToEngineConfig converts the loaded section into the timers.Config shape
// Engine construction expects.
func (c TimersConfig) ToEngineConfig() timers.Config {
	return timers.Config{
		TimelineKey:               c.TimelineKey,
		PayloadsKey:               c.PayloadsKey,
		ConcurrentProcessingLimit: c.ConcurrentProcessingLimit,
		TimerLockTTL:              c.TimerLockTTL,
		ConsumeLockTTL:            c.ConsumeLockTTL,
	}
}

// LogConfig holds structured-logging configuration, matching the teacher's
// pkg/logger.Config.
type LogConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	Filename string `mapstructure:"filename"`
}

// Load reads configuration from an optional YAML file at configPath (if
// non-empty and present) layered under environment variables
// (REDIS_*/TIMERS_*/LOG_*, via viper.AutomaticEnv with "." -> "_"
// replacement) and the package defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			// An explicitly set file that does not exist surfaces as a
			// not-exist path error rather than ConfigFileNotFoundError.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("redis-timers: read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("redis-timers: unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("redis-timers: invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the loaded configuration for obviously-broken values.
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Timers.TimelineKey == "" || c.Timers.PayloadsKey == "" {
		return fmt.Errorf("timers.timeline_key and timers.payloads_key are required")
	}
	if c.Timers.ConcurrentProcessingLimit < 0 {
		return fmt.Errorf("timers.concurrent_processing_limit must be >= 0")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 1)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	v.SetDefault("timers.timeline_key", "redis_timers:timeline")
	v.SetDefault("timers.payloads_key", "redis_timers:payloads")
	v.SetDefault("timers.concurrent_processing_limit", 32)
	v.SetDefault("timers.timer_lock_ttl", "5s")
	v.SetDefault("timers.consume_lock_ttl", "30s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
}
