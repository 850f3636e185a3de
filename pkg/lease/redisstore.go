package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flockwork/flockwork/pkg/observability/logger"
)

const redisKeyPrefix = "flockwork:lease:"

// casScript swaps the whole record only while the stored version still
// matches. Records carry a logical expires_at instead of a key TTL, so an
// expired lease stays visible for takeover just like a relational row.
var casScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if raw == false then
  return 0
end
local rec = cjson.decode(raw)
if tostring(rec.version) ~= ARGV[1] then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2])
return 1
`)

type redisRecord struct {
	Owner      string `json:"owner"`
	AcquiredAt string `json:"acquired_at"`
	ExpiresAt  string `json:"expires_at"`
	Version    int64  `json:"version"`
}

// RedisStore keeps lease records as JSON strings under flockwork:lease:*.
type RedisStore struct {
	client *redis.Client
	log    logger.Logger
}

// NewRedisStore builds a lease store over an existing Redis client.
func NewRedisStore(client *redis.Client, log logger.Logger) (*RedisStore, error) {
	if client == nil {
		return nil, leaseError(ErrInvalidArgument, "redis client is required")
	}
	if log == nil {
		return nil, leaseError(ErrInvalidArgument, "logger is required")
	}
	return &RedisStore{client: client, log: log}, nil
}

// Get returns the lease record for name.
func (s *RedisStore) Get(ctx context.Context, name string) (Record, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+name).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, leaseError(ErrNotFound, "lease "+name)
	}
	if err != nil {
		return Record{}, fmt.Errorf("read lease %s: %w", name, err)
	}
	return decodeRecord(name, raw)
}

// Insert creates the lease record with SET NX.
func (s *RedisStore) Insert(ctx context.Context, rec Record) error {
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	created, err := s.client.SetNX(ctx, redisKeyPrefix+rec.Name, raw, 0).Result()
	if err != nil {
		return fmt.Errorf("insert lease %s: %w", rec.Name, err)
	}
	if !created {
		return leaseError(ErrConflict, "lease "+rec.Name+" already exists")
	}
	return nil
}

// Update swaps the record under the version guard via a Lua script.
func (s *RedisStore) Update(ctx context.Context, rec Record, expectedVersion int64) (bool, error) {
	next := rec
	next.Version = expectedVersion + 1
	raw, err := encodeRecord(next)
	if err != nil {
		return false, err
	}

	result, err := casScript.Run(ctx, s.client,
		[]string{redisKeyPrefix + rec.Name},
		strconv.FormatInt(expectedVersion, 10), raw).Int64()
	if err != nil {
		return false, fmt.Errorf("update lease %s: %w", rec.Name, err)
	}
	return result == 1, nil
}

func encodeRecord(rec Record) (string, error) {
	raw, err := json.Marshal(redisRecord{
		Owner:      rec.Owner,
		AcquiredAt: rec.AcquiredAt.UTC().Format(time.RFC3339Nano),
		ExpiresAt:  rec.ExpiresAt.UTC().Format(time.RFC3339Nano),
		Version:    rec.Version,
	})
	if err != nil {
		return "", fmt.Errorf("encode lease %s: %w", rec.Name, err)
	}
	return string(raw), nil
}

func decodeRecord(name, raw string) (Record, error) {
	var stored redisRecord
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return Record{}, fmt.Errorf("decode lease %s: %w", name, err)
	}
	acquiredAt, err := time.Parse(time.RFC3339Nano, stored.AcquiredAt)
	if err != nil {
		return Record{}, fmt.Errorf("decode lease %s acquired_at: %w", name, err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, stored.ExpiresAt)
	if err != nil {
		return Record{}, fmt.Errorf("decode lease %s expires_at: %w", name, err)
	}
	return Record{
		Name:       name,
		Owner:      stored.Owner,
		AcquiredAt: acquiredAt,
		ExpiresAt:  expiresAt,
		Version:    stored.Version,
	}, nil
}
