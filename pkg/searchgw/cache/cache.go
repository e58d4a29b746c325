// Package cache is the read-through Redis layer in front of the expensive
// stages (LLM calls, search execution, popular queries). It is deliberately
// optional: with no URL or DISABLE_CACHE=true every Get is a miss and every
// Set a no-op, and the pipeline behaves identically apart from latency.
// Backend failures degrade the same way; a broken Redis never fails a
// request.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kasioon/searchgw/pkg/searchgw/config"
	"github.com/kasioon/searchgw/pkg/searchgw/metrics"
)

// TTL classes. Every key stored through this package belongs to one.
type TTLClass int

const (
	TTLSearch TTLClass = iota
	TTLStructure
	TTLLLM
	TTLPopular
)

// Cache wraps the Redis client with namespaced keys, per-class TTLs, and a
// hard per-operation deadline.
type Cache struct {
	client  *redis.Client // nil when disabled
	ttls    [4]time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

// New builds the cache from config. A missing URL or the disable flag yields
// a disabled cache that satisfies the same contract.
func New(cfg config.CacheConfig, logger *slog.Logger) (*Cache, error) {
	c := &Cache{
		ttls: [4]time.Duration{
			cfg.SearchTTL,
			cfg.StructureTTL,
			cfg.LLMTTL,
			cfg.PopularTTL,
		},
		timeout: cfg.OpTimeout,
		logger:  logger.With("component", "cache"),
	}
	if c.timeout <= 0 {
		c.timeout = 200 * time.Millisecond
	}
	if cfg.Disabled || cfg.URL == "" {
		return c, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = c.timeout
	opts.WriteTimeout = c.timeout
	c.client = redis.NewClient(opts)
	return c, nil
}

// NewDisabled returns a cache that always misses.
func NewDisabled(logger *slog.Logger) *Cache {
	return &Cache{timeout: time.Millisecond, logger: logger.With("component", "cache")}
}

// Enabled reports whether a backend is attached.
func (c *Cache) Enabled() bool { return c.client != nil }

// Ping verifies the backend is reachable. Disabled caches always succeed.
func (c *Cache) Ping(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

// Close releases the client.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// TTL returns the configured duration for a class.
func (c *Cache) TTL(class TTLClass) time.Duration {
	return c.ttls[class]
}

// Get returns the stored blob, or ok=false on miss, disabled cache, or
// backend error.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.client == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("cache get failed", "key", key, "error", err)
			metrics.RecordCacheOp("get", "error")
		} else {
			metrics.RecordCacheOp("get", "miss")
		}
		return nil, false
	}
	metrics.RecordCacheOp("get", "hit")
	return val, true
}

// GetJSON unmarshals a stored blob into target. A corrupt entry counts as a
// miss.
func (c *Cache) GetJSON(ctx context.Context, key string, target any) bool {
	val, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(val, target); err != nil {
		c.logger.Debug("cache entry corrupt", "key", key, "error", err)
		return false
	}
	return true
}

// Set stores a blob under the class TTL. No-op when disabled.
func (c *Cache) Set(ctx context.Context, key string, val []byte, class TTLClass) {
	if c.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Set(ctx, key, val, c.ttls[class]).Err(); err != nil {
		c.logger.Debug("cache set failed", "key", key, "error", err)
		metrics.RecordCacheOp("set", "error")
		return
	}
	metrics.RecordCacheOp("set", "ok")
}

// SetJSON marshals and stores a value. Marshal failures are logged and
// dropped.
func (c *Cache) SetJSON(ctx context.Context, key string, val any, class TTLClass) {
	data, err := json.Marshal(val)
	if err != nil {
		c.logger.Debug("cache marshal failed", "key", key, "error", err)
		return
	}
	c.Set(ctx, key, data, class)
}

// Delete removes a single key.
func (c *Cache) Delete(ctx context.Context, key string) {
	if c.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Debug("cache delete failed", "key", key, "error", err)
	}
}

// DeletePattern removes every key under a prefix via SCAN, in batches. Used
// by the daily sweep; runs with a generous deadline since it is maintenance,
// not request path.
func (c *Cache) DeletePattern(ctx context.Context, prefix string) int {
	if c.client == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	deleted := 0
	iter := c.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	batch := make([]string, 0, 100)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			c.logger.Debug("cache sweep delete failed", "error", err)
			return
		}
		deleted += len(batch)
		batch = batch[:0]
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			flush()
		}
	}
	flush()
	if err := iter.Err(); err != nil {
		c.logger.Debug("cache sweep scan failed", "prefix", prefix, "error", err)
	}
	return deleted
}
