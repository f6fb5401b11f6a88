package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/liamcoop/docforge/internal/logger"
)

const redisKeyPrefix = "docforge:resolved"

// RedisCache shares resolved templates between server instances. Redis
// failures degrade to cache misses; the catalog store stays authoritative.
type RedisCache struct {
	client redis.UniversalClient
	config CacheConfig
}

// NewRedisCache creates a cache on an existing client.
func NewRedisCache(client redis.UniversalClient, config CacheConfig) *RedisCache {
	return &RedisCache{client: client, config: config}
}

// NewRedisCacheFromAddr connects a new client.
func NewRedisCacheFromAddr(addr, password string, db int, config CacheConfig) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisCache(rdb, config)
}

func redisKey(key Key) string {
	return fmt.Sprintf("%s:%s:%s:%s", redisKeyPrefix, key.Code, key.Jurisdiction, key.Language)
}

// Get reads and decodes a cached resolution.
func (c *RedisCache) Get(ctx context.Context, key Key) (*ResolvedTemplate, bool) {
	data, err := c.client.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("resolver cache read failed", "key", redisKey(key), "error", err)
		}
		return nil, false
	}

	var resolved ResolvedTemplate
	if err := json.Unmarshal(data, &resolved); err != nil {
		logger.Warn("resolver cache entry corrupt", "key", redisKey(key), "error", err)
		return nil, false
	}
	return &resolved, true
}

// Set encodes and stores a resolution with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, key Key, value *ResolvedTemplate) {
	data, err := json.Marshal(value)
	if err != nil {
		logger.Warn("resolver cache encode failed", "key", redisKey(key), "error", err)
		return
	}
	if err := c.client.Set(ctx, redisKey(key), data, c.config.TTL).Err(); err != nil {
		logger.Warn("resolver cache write failed", "key", redisKey(key), "error", err)
	}
}

// InvalidateTemplate scans and deletes every key of the template code.
func (c *RedisCache) InvalidateTemplate(ctx context.Context, code string) error {
	pattern := fmt.Sprintf("%s:%s:*", redisKeyPrefix, code)

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scan resolver cache: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("invalidate resolver cache: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Close releases the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
