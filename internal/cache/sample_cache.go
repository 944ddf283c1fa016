package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/OstapBender-commits/ema-signal-bot/internal/models"
)

// SampleStore persists the last known window of samples per symbol so a
// restart can warm up without refetching everything.
type SampleStore interface {
	Load(ctx context.Context, symbol string) ([]models.Sample, bool)
	Save(ctx context.Context, symbol string, samples []models.Sample) error
}

// SampleCacheEntry is the Redis payload for one symbol.
type SampleCacheEntry struct {
	Symbol    string          `json:"symbol"`
	Samples   []models.Sample `json:"samples"`
	CachedAt  time.Time       `json:"cached_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// CacheStats tracks cache performance.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
}

// RedisSampleCache implements SampleStore on Redis.
type RedisSampleCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
	logger *logrus.Logger

	mu    sync.RWMutex
	stats CacheStats
}

// NewRedisSampleCache creates a Redis-backed sample cache. An empty prefix
// defaults to "samples:".
func NewRedisSampleCache(client *redis.Client, ttl time.Duration, prefix string, logger *logrus.Logger) *RedisSampleCache {
	if prefix == "" {
		prefix = "samples:"
	}
	return &RedisSampleCache{redis: client, ttl: ttl, prefix: prefix, logger: logger}
}

func (c *RedisSampleCache) count(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// Load returns the cached samples of symbol.
func (c *RedisSampleCache) Load(ctx context.Context, symbol string) ([]models.Sample, bool) {
	data, err := c.redis.Get(ctx, c.prefix+symbol).Bytes()
	if err == redis.Nil {
		c.count(&c.stats.Misses)
		return nil, false
	}
	if err != nil {
		c.logger.WithError(err).WithField("symbol", symbol).Warn("Redis error loading samples")
		c.count(&c.stats.Misses)
		return nil, false
	}

	var entry SampleCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.WithError(err).WithField("symbol", symbol).Warn("Discarding undecodable cached samples")
		c.count(&c.stats.Misses)
		return nil, false
	}

	c.count(&c.stats.Hits)
	return entry.Samples, len(entry.Samples) > 0
}

// Save stores samples for symbol with the cache TTL.
func (c *RedisSampleCache) Save(ctx context.Context, symbol string, samples []models.Sample) error {
	now := time.Now().UTC()
	entry := SampleCacheEntry{
		Symbol:    symbol,
		Samples:   samples,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode samples for %s: %w", symbol, err)
	}
	if err := c.redis.Set(ctx, c.prefix+symbol, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set samples for %s: %w", symbol, err)
	}
	c.count(&c.stats.Sets)
	c.logger.WithFields(logrus.Fields{
		"symbol":  symbol,
		"samples": len(samples),
		"ttl":     c.ttl.String(),
	}).Debug("Cached samples")
	return nil
}

// Stats returns a snapshot of the cache counters.
func (c *RedisSampleCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// CachedSymbols lists the symbols that currently have an entry.
func (c *RedisSampleCache) CachedSymbols(ctx context.Context) ([]string, error) {
	keys, err := c.scan(ctx)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(keys))
	for _, key := range keys {
		if len(key) > len(c.prefix) {
			symbols = append(symbols, key[len(c.prefix):])
		}
	}
	return symbols, nil
}

// Clear removes every entry under the cache prefix.
func (c *RedisSampleCache) Clear(ctx context.Context) error {
	keys, err := c.scan(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("error clearing cache: %w", err)
	}
	return nil
}

func (c *RedisSampleCache) scan(ctx context.Context) ([]string, error) {
	var keys []string
	iter := c.redis.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("error scanning cache keys: %w", err)
	}
	return keys, nil
}
