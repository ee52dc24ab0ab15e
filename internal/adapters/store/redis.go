// Package store is the redis adapter behind the durable roster cache.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dkeye/Lecture/internal/app/roomstate"
)

// RedisKV implements roomstate.KV on a single redis client.
type RedisKV struct {
	client *redis.Client
}

func NewRedisKV(address, password string, db int) (*RedisKV, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisKV{client: client}, nil
}

func (s *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, roomstate.ErrNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (s *RedisKV) SetEx(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, val, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// casScript compares the stored version against the caller's expected
// one and, only on match, writes data plus the bumped version with a
// refreshed TTL. A missing version key counts as version 0, so first
// writers race fairly too. Returns 1 on swap, 0 on mismatch.
var casScript = redis.NewScript(`
local current = redis.call("GET", KEYS[2])
if not current then
  current = "0"
end
if current ~= ARGV[1] then
  return 0
end
local next = tonumber(ARGV[1]) + 1
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
redis.call("SET", KEYS[2], tostring(next), "PX", ARGV[3])
return 1
`)

func (s *RedisKV) CompareAndSwap(ctx context.Context, dataKey, versionKey string, expected int64, data []byte, ttl time.Duration) (bool, error) {
	res, err := casScript.Run(ctx, s.client,
		[]string{dataKey, versionKey},
		expected, data, ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("redis cas %s: %w", dataKey, err)
	}
	return res == 1, nil
}

func (s *RedisKV) Close() error {
	return s.client.Close()
}

var _ roomstate.KV = (*RedisKV)(nil)
