package cache

import (
	"context"
	"time"

	"dicomweb-oauth-proxy/internal/redis"
)

// RedisBackend stores entries in a shared Redis under a key prefix, so
// several proxy instances can reuse each other's tokens.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend wraps an already-connected Redis client. The prefix
// namespaces this deployment's keys.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "dicomweb-oauth:"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) key(k string) string {
	return r.prefix + k
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, r.key(key))
	if err != nil {
		if redis.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(value), true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.key(key), value, ttl)
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	return r.client.Delete(ctx, r.key(key))
}

// Close is a no-op: the underlying client is shared and closed by its owner.
func (r *RedisBackend) Close() error {
	return nil
}
