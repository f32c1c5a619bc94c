package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/biomarker-kb-server/internal/domain"
)

// RedisHashCache caches canonical hash lookups in Redis. It is shared
// between pipeline runs; entries never change once written (the canonical
// map is append-only) so the TTL only bounds memory, not correctness.
type RedisHashCache struct {
	redis      *redis.Client
	defaultTTL time.Duration
	log        *logrus.Logger
}

// NewRedisHashCache creates a Redis-backed hash cache and verifies the
// connection.
func NewRedisHashCache(config domain.CacheConfig, logger *logrus.Logger) (*RedisHashCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisHashCache{
		redis:      client,
		defaultTTL: config.DefaultTTL,
		log:        logger,
	}, nil
}

// Get retrieves a cached canonical ID entry. Cache errors surface as misses:
// the store is the source of truth.
func (c *RedisHashCache) Get(ctx context.Context, hashValue string) (*domain.CanonicalIDEntry, bool) {
	val, err := c.redis.Get(ctx, cacheKey(hashValue)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.log.WithError(err).Warn("Canonical hash cache read failed")
		return nil, false
	}

	var entry domain.CanonicalIDEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		// Remove the corrupted entry and fall through to the store.
		c.redis.Del(ctx, cacheKey(hashValue))
		return nil, false
	}
	return &entry, true
}

// Set caches a canonical ID entry under its hash.
func (c *RedisHashCache) Set(ctx context.Context, entry *domain.CanonicalIDEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal canonical ID entry: %w", err)
	}
	return c.redis.Set(ctx, cacheKey(entry.HashValue), raw, c.defaultTTL).Err()
}

// Ping checks if the Redis connection is alive.
func (c *RedisHashCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisHashCache) Close() error {
	return c.redis.Close()
}

func cacheKey(hashValue string) string {
	return "canonical:hash:" + hashValue
}

// LRUHashCache is an in-process hash cache for runs without a Redis
// deployment.
type LRUHashCache struct {
	cache *lru.Cache[string, *domain.CanonicalIDEntry]
}

// NewLRUHashCache creates an in-process cache holding up to size entries.
func NewLRUHashCache(size int) (*LRUHashCache, error) {
	cache, err := lru.New[string, *domain.CanonicalIDEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &LRUHashCache{cache: cache}, nil
}

// Get retrieves a cached canonical ID entry.
func (c *LRUHashCache) Get(ctx context.Context, hashValue string) (*domain.CanonicalIDEntry, bool) {
	entry, ok := c.cache.Get(hashValue)
	if !ok {
		return nil, false
	}
	cp := *entry
	return &cp, true
}

// Set caches a canonical ID entry under its hash.
func (c *LRUHashCache) Set(ctx context.Context, entry *domain.CanonicalIDEntry) error {
	cp := *entry
	c.cache.Add(entry.HashValue, &cp)
	return nil
}
