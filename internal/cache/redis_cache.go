package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"kasirledger/internal/domain"
)

// MetricsNamespace prefixes every dashboard report key stored in Redis.
const MetricsNamespace = "kasirledger:metrics"

// RedisJSONCache stores values of one type as JSON under a key namespace.
// Callers pass bare keys; the namespace keeps caches sharing a Redis
// database from colliding.
type RedisJSONCache[T any] struct {
	client    *redis.Client
	namespace string
}

// RedisMetricsCache is the dashboard report cache.
type RedisMetricsCache = RedisJSONCache[domain.MetricsReport]

func NewRedisJSONCache[T any](client *redis.Client, namespace string) *RedisJSONCache[T] {
	return &RedisJSONCache[T]{client: client, namespace: strings.TrimSuffix(namespace, ":")}
}

func NewRedisMetricsCache(addr string, password string, db int) *RedisMetricsCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisJSONCache[domain.MetricsReport](client, MetricsNamespace)
}

func (c *RedisJSONCache[T]) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisJSONCache[T]) Close() error {
	return c.client.Close()
}

func (c *RedisJSONCache[T]) key(key string) string {
	if c.namespace == "" {
		return key
	}
	return c.namespace + ":" + key
}

func (c *RedisJSONCache[T]) Get(ctx context.Context, key string) (*T, bool, error) {
	fullKey := c.key(key)
	raw, err := c.client.Get(ctx, fullKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", fullKey, err)
	}

	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		// A payload from an older shape is treated as a miss and replaced on the next Set.
		_ = c.client.Del(ctx, fullKey).Err()
		return nil, false, fmt.Errorf("decode cached %s: %w", fullKey, err)
	}
	return &value, true, nil
}

// Set is a no-op for a nil value or a non-positive ttl, so a zero TTL
// disables caching instead of storing keys that never expire.
func (c *RedisJSONCache[T]) Set(ctx context.Context, key string, value *T, ttl time.Duration) error {
	if value == nil || ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.key(key), err)
	}
	if err := c.client.Set(ctx, c.key(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", c.key(key), err)
	}
	return nil
}
