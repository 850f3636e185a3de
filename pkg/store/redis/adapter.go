// Package redis provides the optional Redis backend for lease and
// parameter state. Jobs always live in the relational store.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flockwork/flockwork/pkg/observability/logger"
)

// RedisAdapter provides Redis connectivity with connection pooling.
type RedisAdapter struct {
	client *redis.Client
	logger logger.Logger
	config Config
}

// Config holds Redis connection configuration.
type Config struct {
	URL              string
	MaxConns         int
	OperationTimeout time.Duration
}

// NewRedisAdapter parses the URL, configures the pool and verifies the
// connection with an initial ping.
func NewRedisAdapter(cfg Config, log logger.Logger) (*RedisAdapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	opts.PoolSize = cfg.MaxConns
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = cfg.OperationTimeout
	opts.WriteTimeout = cfg.OperationTimeout

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info("Redis connection established",
		"max_conns", cfg.MaxConns,
		"operation_timeout", cfg.OperationTimeout,
	)

	return &RedisAdapter{client: client, logger: log, config: cfg}, nil
}

// Client returns the underlying *redis.Client. The lease and parameter
// stores issue their SET NX and Lua commands through it directly.
func (a *RedisAdapter) Client() *redis.Client {
	return a.client
}

// Ping verifies the Redis connection is alive.
func (a *RedisAdapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

// HealthCheck verifies the Redis connection is healthy with a bounded timeout.
func (a *RedisAdapter) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.client.Ping(hcCtx).Err(); err != nil {
		a.logger.Error("Redis health check failed", "error", err)
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close gracefully closes the Redis connection.
func (a *RedisAdapter) Close() error {
	a.logger.Info("closing Redis connection")
	if err := a.client.Close(); err != nil {
		a.logger.Error("failed to close Redis connection", "error", err)
		return fmt.Errorf("failed to close redis connection: %w", err)
	}
	a.logger.Info("Redis connection closed successfully")
	return nil
}
