package research

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/manifold-labs/chatmemory/internal/bus"
	"github.com/manifold-labs/chatmemory/internal/memmodel"
)

// ttlFor maps a TTLClass to how long a capsule stays fresh in the cache
// (§3: TTL class governs staleness, not a fixed duration for every topic).
func ttlFor(class memmodel.TTLClass) time.Duration {
	switch class {
	case memmodel.TTLNews:
		return 15 * time.Minute
	case memmodel.TTLPricing:
		return time.Hour
	case memmodel.TTLReleases:
		return 6 * time.Hour
	case memmodel.TTLDocs:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// negativeTTL caps how long an empty-result miss is remembered, always
// shorter than a real capsule's TTL so a later, better search attempt
// isn't blocked for long.
func negativeTTL(class memmodel.TTLClass) time.Duration {
	full := ttlFor(class)
	if full > 10*time.Minute {
		return 10 * time.Minute
	}
	return full / 2
}

func hashTopic(topic string) string {
	sum := sha1.Sum([]byte(strings.ToLower(strings.TrimSpace(topic))))
	return hex.EncodeToString(sum[:])[:12]
}

// CacheKey builds the Shared.Bus cache key for a (topic, ttlClass,
// recencyHint) triple; queryHash lets callers distinguish variant
// phrasings of the same topic if they want to, or pass "" to share one
// slot per topic.
func CacheKey(topic string, ttlClass memmodel.TTLClass, recency memmodel.RecencyHint, queryHash string) string {
	return bus.ResearchCacheKey(hashTopic(topic), string(ttlClass), string(recency), queryHash)
}

const negativeMarker = "__miss__"

// ProbeCache looks up a previously composed capsule for this topic.
// Returns ok=false on a cache miss OR a negative (remembered empty
// result) hit — callers treat both the same way: go fetch.
func ProbeCache(ctx context.Context, b *bus.Bus, topic string, ttlClass memmodel.TTLClass, recency memmodel.RecencyHint) (memmodel.Capsule, bool) {
	raw, found := b.Get(ctx, CacheKey(topic, ttlClass, recency, ""))
	if !found || raw == negativeMarker {
		return memmodel.Capsule{}, false
	}
	var c memmodel.Capsule
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return memmodel.Capsule{}, false
	}
	return c, true
}

// PublishCapsule writes the composed capsule to the cache slot keyed by its
// topic, TTL class and recency hint. SetNX keeps the first capsule in that
// slot until it expires, so a repeat publication for the same slot is a
// no-op (§8). It does not announce on the thread channel; PublishToThread
// does that.
func PublishCapsule(ctx context.Context, b *bus.Bus, c memmodel.Capsule) {
	payload, err := json.Marshal(c)
	if err != nil {
		return
	}
	b.SetNX(ctx, CacheKey(c.Topic, c.TTLClass, c.RecencyHint, ""), string(payload), ttlFor(c.TTLClass))
}

// PublishToThread announces a capsule's cache key on a thread-scoped
// channel, and also stores it under the thread+batch key the Gateway's
// early-window poller watches directly.
func PublishToThread(ctx context.Context, b *bus.Bus, threadID, batchID string, c memmodel.Capsule) {
	payload, err := json.Marshal(c)
	if err != nil {
		return
	}
	key := bus.CapsuleKey(threadID, batchID)
	b.Set(ctx, key, string(payload), ttlFor(c.TTLClass))
	b.Publish(ctx, "capsule:"+threadID, key)
}

// RememberMiss records that a search for topic came back empty, so a
// burst of identical stability triggers doesn't re-fetch immediately.
func RememberMiss(ctx context.Context, b *bus.Bus, topic string, ttlClass memmodel.TTLClass, recency memmodel.RecencyHint) {
	b.Set(ctx, CacheKey(topic, ttlClass, recency, ""), negativeMarker, negativeTTL(ttlClass))
}
