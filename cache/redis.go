package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kazini-app/go-kazini-auth"
	"github.com/redis/go-redis/v9"
)

var _ auth.LocalCache = (*Redis)(nil)

const defaultRedisPrefix = "kazini:cache:"

// Redis keeps values under a key prefix, optionally with a TTL.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisOption customizes a Redis cache.
type RedisOption func(*Redis)

// WithRedisPrefix namespaces every key.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithRedisTTL expires entries after ttl. Zero keeps them forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl >= 0 {
			r.ttl = ttl
		}
	}
}

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
