package artifact

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ricesearch/rice-nlu/internal/pkg/errors"
)

// RedisStore keeps the artifact under a single Redis key. SET replaces the
// value atomically, so readers never observe a partial artifact.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to Redis and returns a store for key.
// Returns error if connection fails.
func NewRedisStore(url, key string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.ServiceUnavailableError("redis", err)
	}

	return &RedisStore{
		client: client,
		key:    key,
	}, nil
}

// Location returns the Redis key.
func (rs *RedisStore) Location() string {
	return rs.key
}

// Exists reports whether the key is present.
func (rs *RedisStore) Exists(ctx context.Context) (bool, error) {
	n, err := rs.client.Exists(ctx, rs.key).Result()
	if err != nil {
		return false, errors.Wrap(errors.CodeUnavailable, "checking artifact", err).
			WithDetail("key", rs.key)
	}
	return n > 0, nil
}

// Read returns the stored artifact.
func (rs *RedisStore) Read(ctx context.Context) ([]byte, error) {
	data, err := rs.client.Get(ctx, rs.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, errors.NotFoundError("artifact " + rs.key)
		}
		return nil, fmt.Errorf("reading artifact: %w", err)
	}
	return data, nil
}

// Write replaces the stored artifact.
func (rs *RedisStore) Write(ctx context.Context, data []byte) error {
	if err := rs.client.Set(ctx, rs.key, data, 0).Err(); err != nil {
		return fmt.Errorf("writing artifact: %w", err)
	}
	return nil
}

// Delete removes the stored artifact.
func (rs *RedisStore) Delete(ctx context.Context) error {
	if err := rs.client.Del(ctx, rs.key).Err(); err != nil {
		return fmt.Errorf("deleting artifact: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
