// Package cache provides a short-TTL read cache for expensive, frequently
// polled list endpoints ("/pickers/cis" and "/dashboard/summary"). It backs
// onto Redis when one is configured and reachable, and always keeps a small
// in-process LRU in front of it so a cold or flaky Redis never turns into a
// full cache miss storm against the store.
//
// Redis is explicitly optional: callers that never configure an address get
// a Cache that still works off the in-process layer alone, and any Redis
// error (timeout, connection refused, eviction) degrades a Get into a plain
// miss rather than surfacing to the handler. Nothing here blocks a request
// on Redis being up.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when key is present in neither cache layer.
var ErrMiss = errors.New("cache: miss")

// Config configures the Redis connection. Addr == "" disables the Redis
// layer entirely and Cache runs purely in-process.
type Config struct {
	Addr     string
	Password string
	DB       int

	// LocalEntries bounds the in-process LRU. 0 uses a default of 256.
	LocalEntries int
}

// Cache is a two-level read cache: a bounded in-process LRU in front of an
// optional Redis instance. Values are JSON-encoded for the Redis layer and
// stored as raw bytes locally.
type Cache struct {
	redis  *redis.Client
	local  *lru.Cache[string, []byte]
	logger *slog.Logger
}

// New builds a Cache from cfg. A zero Config is valid and yields an
// in-process-only cache.
func New(cfg Config, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries := cfg.LocalEntries
	if entries <= 0 {
		entries = 256
	}
	local, err := lru.New[string, []byte](entries)
	if err != nil {
		return nil, err
	}

	c := &Cache{local: local, logger: logger.With("component", "cache")}

	if cfg.Addr != "" {
		c.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}

	return c, nil
}

// Get looks up key, decoding the stored JSON into dest. It checks the
// in-process LRU first, then Redis (if configured), populating the LRU on a
// Redis hit. Returns ErrMiss when absent from both layers, or when Redis is
// configured but unreachable and the local layer also misses.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	if raw, ok := c.local.Get(key); ok {
		return json.Unmarshal(raw, dest)
	}

	if c.redis == nil {
		return ErrMiss
	}

	raw, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis cache get degraded to miss", "key", key, "error", err)
		}
		return ErrMiss
	}

	c.local.Add(key, raw)
	return json.Unmarshal(raw, dest)
}

// Set stores value under key with the given TTL in both layers. A Redis
// write failure is logged and swallowed: the in-process layer still holds
// the value for this process, which is the best a degraded Redis allows.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	c.local.Add(key, raw)

	if c.redis == nil {
		return nil
	}

	if err := c.redis.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.logger.Warn("redis cache set degraded", "key", key, "error", err)
	}
	return nil
}

// Invalidate drops key from both layers. Callers use this after a write
// that changes the data a cached list reflects, rather than waiting out the
// TTL.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.local.Remove(key)
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("redis cache invalidate degraded", "key", key, "error", err)
	}
}

// Ping reports whether the Redis layer (if configured) is reachable. The
// health endpoint does not call it; it checks only the store.
func (c *Cache) Ping(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Ping(ctx).Err()
}

// Close releases the Redis client, if any.
func (c *Cache) Close() error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Close()
}
