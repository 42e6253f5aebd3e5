package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKeyMissCache shares negative lookups across service instances.
// Keys are hashed before they reach redis so raw license keys never
// leave the process.
type RedisKeyMissCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisKeyMissCache(client redis.UniversalClient, prefix string) *RedisKeyMissCache {
	if prefix == "" {
		prefix = "license_key_miss"
	}
	return &RedisKeyMissCache{client: client, prefix: prefix}
}

func (c *RedisKeyMissCache) Get(ctx context.Context, key string) (bool, error) {
	if c.client == nil {
		return false, nil
	}
	_, err := c.client.Get(ctx, c.cacheKey(key)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisKeyMissCache) Set(ctx context.Context, key string, ttl time.Duration) error {
	if c.client == nil || ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, c.cacheKey(key), "1", ttl).Err()
}

func (c *RedisKeyMissCache) cacheKey(key string) string {
	return fmt.Sprintf("%s:%s", c.prefix, hashKey(key))
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
