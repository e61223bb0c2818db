package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/vitaliisemenov/redis-timers/internal/config"
	"github.com/vitaliisemenov/redis-timers/internal/metrics"
	"github.com/vitaliisemenov/redis-timers/pkg/logger"
	"github.com/vitaliisemenov/redis-timers/timers"
)

// notificationPayload is the one demo timer type this binary ships with: a
// deferred notification message. Real deployments register their own
// topics through the timers package directly; this exists so `timersd set`
// has something concrete to schedule.
type notificationPayload struct {
	Recipient string `json:"recipient" validate:"required"`
	Message   string `json:"message" validate:"required"`
}

const notificationTopic = "notifications"

func demoRouter(log *slog.Logger) *timers.Router {
	r := timers.NewRouter()
	timers.Handle(r, notificationTopic, func(ctx context.Context, payload notificationPayload, tctx timers.Context) error {
		log.Info("dispatching notification", "recipient", payload.Recipient, "message", payload.Message)
		return nil
	})
	return r
}

// app wires configuration, logging, metrics, the Redis client, and the
// engine together — the construction sequence every subcommand needs
// before it can do anything.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	redis  *redis.Client
	engine *timers.Engine
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.NewLogger(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	m := metrics.NewTimersMetrics("redis_timers")
	engine := timers.NewEngine(client, cfg.Timers.ToEngineConfig(), nil, log, m, demoRouter(log))

	return &app{cfg: cfg, log: log, redis: client, engine: engine}, nil
}

func (a *app) close() {
	_ = a.redis.Close()
}
