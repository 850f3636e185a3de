package params

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/flockwork/flockwork/pkg/observability/logger"
)

const redisKeyPrefix = "flockwork:param:"

// RedisStore persists parameters as plain Redis strings without expiry.
type RedisStore struct {
	client *redis.Client
	log    logger.Logger
}

// NewRedisStore builds a parameter store over an existing Redis client.
func NewRedisStore(client *redis.Client, log logger.Logger) (*RedisStore, error) {
	if client == nil {
		return nil, paramsError(ErrInvalidArgument, "redis client is required")
	}
	if log == nil {
		return nil, paramsError(ErrInvalidArgument, "logger is required")
	}
	return &RedisStore{client: client, log: log}, nil
}

// Seed writes the parameter with SET NX so an existing value survives.
func (s *RedisStore) Seed(ctx context.Context, id string, value float64) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return paramsError(ErrInvalidArgument, "parameter id is required")
	}

	created, err := s.client.SetNX(ctx, redisKeyPrefix+id, value, 0).Result()
	if err != nil {
		return fmt.Errorf("seed parameter %s: %w", id, err)
	}
	if created {
		s.log.Debug("parameter seeded", "id", id, "value", value)
	}
	return nil
}

// Number reads the parameter value for id.
func (s *RedisStore) Number(ctx context.Context, id string) (float64, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return 0, paramsError(ErrInvalidArgument, "parameter id is required")
	}

	value, err := s.client.Get(ctx, redisKeyPrefix+id).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, paramsError(ErrNotFound, "parameter "+id)
	}
	if err != nil {
		return 0, fmt.Errorf("read parameter %s: %w", id, err)
	}
	return value, nil
}
