package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"memecoin-lending-oracle/internal/domain"
)

// DistributedCache is the shared cache tier sitting behind the in-process
// cache. A nil implementation is valid; the aggregator skips the tier.
type DistributedCache interface {
	Get(ctx context.Context, mint string) (*domain.PriceRecord, error)
	Set(ctx context.Context, record *domain.PriceRecord, ttl time.Duration) error
}

const redisKeyPrefix = "oracle:price:"

// RedisCache stores price records in redis with a per-key TTL, so multiple
// oracle instances share provider fetches.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a redis-backed cache tier and verifies connectivity.
func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Compile-time interface check.
var _ DistributedCache = (*RedisCache)(nil)

// Get returns the shared record for a mint, or nil when absent/expired.
func (c *RedisCache) Get(ctx context.Context, mint string) (*domain.PriceRecord, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+mint).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var rec domain.PriceRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode cached price: %w", err)
	}
	return &rec, nil
}

// Set stores a record with the given TTL.
func (c *RedisCache) Set(ctx context.Context, record *domain.PriceRecord, ttl time.Duration) error {
	if record == nil || record.Mint == "" {
		return nil
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode price: %w", err)
	}

	if err := c.client.Set(ctx, redisKeyPrefix+record.Mint, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
