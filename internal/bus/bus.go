// Package bus is Shared.Bus: a Redis-backed key-value cache and pub/sub
// channel for capsules, profile caching, and rate counters. Every method
// degrades to a (zero-value, false) miss when Redis is nil or unreachable,
// following the nil-receiver-safe pattern the teacher uses for its
// Redis-backed caches — callers always have a "recompute from primary
// storage" or "skip" fallback per §5 ("a full bus outage must degrade
// gracefully").
package bus

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/manifold-labs/chatmemory/internal/config"
)

// Bus is the cache/pub-sub client. A nil *Bus (or one whose client failed
// to connect) is always safe to call — every method treats that as a miss.
type Bus struct {
	client redis.UniversalClient
}

// New connects to Redis. If cfg.Enabled is false or the ping fails, it
// returns a non-nil *Bus with a nil client: every method call degrades
// to a miss rather than erroring, so callers never need a nil check of
// their own.
func New(cfg config.RedisConfig) *Bus {
	if !cfg.Enabled {
		log.Warn().Msg("bus_disabled")
		return &Bus{}
	}
	opts := &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	if cfg.TLSInsecureSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("bus_connect_failed_degrading_to_noop")
		return &Bus{}
	}
	return &Bus{client: client}
}

func (b *Bus) ok() bool { return b != nil && b.client != nil }

// Get returns the raw string value stored at key.
func (b *Bus) Get(ctx context.Context, key string) (string, bool) {
	if !b.ok() {
		return "", false
	}
	val, err := b.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", key).Msg("bus_get_error")
		}
		return "", false
	}
	return val, true
}

// Set stores value at key with the given TTL (0 = no expiry).
func (b *Bus) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	if !b.ok() {
		return false
	}
	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("bus_set_error")
		return false
	}
	return true
}

// SetNX stores value at key only if it doesn't already exist, reporting
// whether the set happened. Used to make capsule publication idempotent
// per batch id (§8: "publishing the same capsule payload twice ... is a
// no-op").
func (b *Bus) SetNX(ctx context.Context, key, value string, ttl time.Duration) bool {
	if !b.ok() {
		return false
	}
	ok, err := b.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("bus_setnx_error")
		return false
	}
	return ok
}

// Delete removes key.
func (b *Bus) Delete(ctx context.Context, key string) {
	if !b.ok() {
		return
	}
	if err := b.client.Del(ctx, key).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("bus_delete_error")
	}
}

// InvalidatePattern deletes every key matching a SCAN glob pattern, used
// to invalidate a user's profile cache on TIER1/TIER2 writes.
func (b *Bus) InvalidatePattern(ctx context.Context, pattern string) {
	if !b.ok() {
		return
	}
	iter := b.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := b.client.Del(ctx, iter.Val()).Err(); err != nil {
			log.Debug().Err(err).Str("key", iter.Val()).Msg("bus_invalidate_error")
		}
	}
}

// Publish announces a key name on a channel so subscribers (early-window
// capsule pollers) can short-circuit their polling loop.
func (b *Bus) Publish(ctx context.Context, channel, message string) {
	if !b.ok() {
		return
	}
	if err := b.client.Publish(ctx, channel, message).Err(); err != nil {
		log.Debug().Err(err).Str("channel", channel).Msg("bus_publish_error")
	}
}

// Incr atomically increments key and sets ttl the first time it's created
// (used for per-user rate counters). Returns the new count and ok=false
// on any bus failure, letting callers choose to fail open.
func (b *Bus) Incr(ctx context.Context, key string, ttl time.Duration) (int64, bool) {
	if !b.ok() {
		return 0, false
	}
	pipe := b.client.TxPipeline()
	pipe.SetNX(ctx, key, 0, ttl)
	incr := pipe.Incr(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("bus_incr_error")
		return 0, false
	}
	return incr.Val(), true
}

// Close releases the underlying connection, if any.
func (b *Bus) Close() error {
	if !b.ok() {
		return nil
	}
	return b.client.Close()
}

// Key helpers matching the persistent cache-bus key schema (§6).

func CapsuleKey(threadID, batchID string) string { return fmt.Sprintf("capsule:%s:%s", threadID, batchID) }

// LatestBatchKey points at the most recent research batch id enqueued for
// a thread, so a caller that never generated or received the batch id
// itself (the gateway's chat handler) can still find the capsule a
// stability-triggered research job eventually publishes for that thread.
func LatestBatchKey(threadID string) string { return fmt.Sprintf("capsule-latest:%s", threadID) }

func ProfileKey(userID string) string       { return fmt.Sprintf("profile:%s", userID) }
func RateLimitKey(userID, op string) string { return fmt.Sprintf("ratelimit:%s:%s", userID, op) }
func ResearchCacheKey(topicHash, ttlClass, recencyHint, queryHash string) string {
	return fmt.Sprintf("CAPS:v2:%s:%s:%s:%s", topicHash, ttlClass, recencyHint, queryHash)
}
