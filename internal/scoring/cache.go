package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL is how long a computed score stays fresh.
const DefaultCacheTTL = time.Hour

const cacheKeyPrefix = "risk_score:"

// Cache stores computed scores keyed by entity. Get returns (nil, nil) when
// no fresh entry exists — absence is not an error.
type Cache interface {
	Get(ctx context.Context, entityType, entityID string) (*ScoreResult, error)
	Set(ctx context.Context, entityType, entityID string, result *ScoreResult) error
}

func cacheKey(entityType, entityID string) string {
	return cacheKeyPrefix + entityType + ":" + entityID
}

// RedisCache is the production cache backend.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a cache on client. ttl <= 0 uses DefaultCacheTTL.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Get fetches a cached score.
func (c *RedisCache) Get(ctx context.Context, entityType, entityID string) (*ScoreResult, error) {
	data, err := c.client.Get(ctx, cacheKey(entityType, entityID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s/%s: %w", entityType, entityID, err)
	}

	var result ScoreResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("cache decode %s/%s: %w", entityType, entityID, err)
	}
	return &result, nil
}

// Set stores a score with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, entityType, entityID string, result *ScoreResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("cache encode %s/%s: %w", entityType, entityID, err)
	}
	if err := c.client.Set(ctx, cacheKey(entityType, entityID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s/%s: %w", entityType, entityID, err)
	}
	return nil
}

// MemoryCache is an in-memory Cache for tests and single-node development.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryCacheEntry struct {
	result    ScoreResult
	expiresAt time.Time
}

// NewMemoryCache creates an in-memory cache. ttl <= 0 uses DefaultCacheTTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{
		entries: make(map[string]memoryCacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock overrides the expiry clock.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

func (c *MemoryCache) Get(_ context.Context, entityType, entityID string) (*ScoreResult, error) {
	key := cacheKey(entityType, entityID)
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if c.now().After(entry.expiresAt) {
		// Expired entries are deleted on read so the map does not grow
		// without bound in long-lived processes.
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && c.now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, nil
	}
	result := entry.result
	return &result, nil
}

func (c *MemoryCache) Set(_ context.Context, entityType, entityID string, result *ScoreResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Sweep expired entries that will never be read again. Linear, but this
	// backend only serves tests and single-node development.
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[cacheKey(entityType, entityID)] = memoryCacheEntry{
		result:    *result,
		expiresAt: now.Add(c.ttl),
	}
	return nil
}
