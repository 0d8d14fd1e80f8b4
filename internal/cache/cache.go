// Package cache implements the two-tier read-through cache shared by the
// brokerage client and the scoring pipeline.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Cache is the read-through interface every caller depends on.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Flush(ctx context.Context, namespace string) error
}

// Class names the per-operation TTL buckets from the external config.
type Class string

const (
	ClassPrice     Class = "price"
	ClassOHLCV     Class = "ohlcv"
	ClassFinancial Class = "financial"
	ClassUniverse  Class = "universe"
)

// TTLs maps each Class to its configured duration.
type TTLs map[Class]time.Duration

// Key derives the spec's namespace:module.function:sha256(args)[:16] form.
func Key(namespace, qualifiedFunc string, args any) string {
	payload, _ := json.Marshal(args)
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("%s:%s:%s", namespace, qualifiedFunc, hex.EncodeToString(sum[:])[:16])
}

// fallbackEntry is the in-process tier's record.
type fallbackEntry struct {
	value     []byte
	expiresAt time.Time
}

// TieredCache composes a Redis primary with a sync.Map in-process
// fallback. Primary errors demote only the current call; there is no
// global health-gate, matching the spec's "no explicit health loop
// required" allowance.
type TieredCache struct {
	namespace string
	primary   *redis.Client
	fallback  sync.Map // string -> fallbackEntry
	log       zerolog.Logger

	stopFlush chan struct{}
}

// New constructs a TieredCache bound to namespace, using primary as the
// Redis client (nil disables the primary tier entirely).
func New(namespace string, primary *redis.Client, log zerolog.Logger) *TieredCache {
	c := &TieredCache{
		namespace: namespace,
		primary:   primary,
		log:       log.With().Str("component", "cache").Logger(),
		stopFlush: make(chan struct{}),
	}
	c.scheduleMidnightFlush()
	return c
}

// Get reads key, trying the primary first, then the in-process fallback.
func (c *TieredCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	if c.primary != nil {
		data, err := c.primary.Get(ctx, key).Bytes()
		if err == nil {
			if err := json.Unmarshal(data, dest); err != nil {
				return false, fmt.Errorf("cache: decode primary value: %w", err)
			}
			return true, nil
		}
		if err != redis.Nil {
			c.log.Warn().Err(err).Str("key", key).Msg("primary cache read failed, trying fallback")
		}
	}

	if v, ok := c.fallback.Load(key); ok {
		entry := v.(fallbackEntry)
		if time.Now().After(entry.expiresAt) {
			c.fallback.Delete(key)
			return false, nil
		}
		if err := json.Unmarshal(entry.value, dest); err != nil {
			return false, fmt.Errorf("cache: decode fallback value: %w", err)
		}
		return true, nil
	}

	return false, nil
}

// Set writes key to both tiers with the given TTL.
func (c *TieredCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode value: %w", err)
	}

	if c.primary != nil {
		if err := c.primary.Set(ctx, key, data, ttl).Err(); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("primary cache write failed, using fallback only")
		}
	}

	c.fallback.Store(key, fallbackEntry{value: data, expiresAt: time.Now().Add(ttl)})
	return nil
}

// Delete removes key from both tiers.
func (c *TieredCache) Delete(ctx context.Context, key string) error {
	c.fallback.Delete(key)
	if c.primary != nil {
		if err := c.primary.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("cache: primary delete: %w", err)
		}
	}
	return nil
}

// Flush scan-and-deletes every key under namespace, in both tiers. Never
// flushes the whole store, even when the primary is a shared Redis.
func (c *TieredCache) Flush(ctx context.Context, namespace string) error {
	prefix := namespace + ":"
	c.fallback.Range(func(k, _ any) bool {
		if key, ok := k.(string); ok && len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			c.fallback.Delete(k)
		}
		return true
	})

	if c.primary == nil {
		return nil
	}

	var cursor uint64
	for {
		keys, next, err := c.primary.Scan(ctx, cursor, prefix+"*", 200).Result()
		if err != nil {
			return fmt.Errorf("cache: scan during flush: %w", err)
		}
		if len(keys) > 0 {
			if err := c.primary.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache: delete during flush: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

// scheduleMidnightFlush arranges Flush to run at every local midnight.
func (c *TieredCache) scheduleMidnightFlush() {
	go func() {
		for {
			wait := time.Until(nextLocalMidnight(time.Now()))
			select {
			case <-time.After(wait):
				if err := c.Flush(context.Background(), c.namespace); err != nil {
					c.log.Error().Err(err).Msg("midnight cache flush failed")
				} else {
					c.log.Info().Msg("midnight cache flush completed")
				}
			case <-c.stopFlush:
				return
			}
		}
	}()
}

// Close stops the scheduled midnight flush goroutine.
func (c *TieredCache) Close() {
	close(c.stopFlush)
}

func nextLocalMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}
