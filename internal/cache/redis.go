// Package cache provides the idempotency-key decision cache. Backed by
// Redis when configured; the in-memory implementation is the fallback, so
// the engine never depends on Redis being reachable.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zabvenie/backend/internal/campaign"
)

// decisionTTL bounds staleness: keys include a UTC date bucket, so anything
// older than two days can never match again.
const decisionTTL = 48 * time.Hour

// ============================================================================
// REDIS CACHE
// ============================================================================

// RedisCache stores decision snapshots keyed by idempotency key.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache connects to Redis and verifies connectivity. Callers fall
// back to the in-memory cache on error.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("Redis decision cache connected", "addr", addr, "db", db)
	return &RedisCache{rdb: rdb}, nil
}

// Close shuts down the underlying client.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

func cacheKey(idempotencyKey string) string {
	return "zabvenie:decision:" + idempotencyKey
}

// GetDecision returns the cached snapshot for the key, if present.
func (c *RedisCache) GetDecision(ctx context.Context, idempotencyKey string) (*campaign.StoredDecision, bool) {
	raw, err := c.rdb.Get(ctx, cacheKey(idempotencyKey)).Bytes()
	if err != nil {
		return nil, false
	}

	var d campaign.StoredDecision
	if err := json.Unmarshal(raw, &d); err != nil {
		slog.Warn("Dropping corrupt cached decision", "key", idempotencyKey, "error", err)
		return nil, false
	}
	return &d, true
}

// SetDecision caches the snapshot. Write errors are logged, never fatal.
func (c *RedisCache) SetDecision(ctx context.Context, idempotencyKey string, d *campaign.StoredDecision) {
	raw, err := json.Marshal(d)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(idempotencyKey), raw, decisionTTL).Err(); err != nil {
		slog.Warn("Decision cache write failed", "key", idempotencyKey, "error", err)
	}
}

// ============================================================================
// IN-MEMORY CACHE
// ============================================================================

// MemoryCache is the in-process fallback.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*campaign.StoredDecision
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*campaign.StoredDecision)}
}

// GetDecision returns the cached snapshot for the key, if present.
func (c *MemoryCache) GetDecision(_ context.Context, idempotencyKey string) (*campaign.StoredDecision, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.entries[idempotencyKey]
	if !ok {
		return nil, false
	}
	cp := *d
	return &cp, true
}

// SetDecision caches the snapshot.
func (c *MemoryCache) SetDecision(_ context.Context, idempotencyKey string, d *campaign.StoredDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := *d
	c.entries[idempotencyKey] = &cp
}
