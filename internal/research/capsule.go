package research

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/manifold-labs/chatmemory/internal/memmodel"
)

// rankScore weights a RawResult by host-authority x freshness x topical-match
// x optional user-affinity (§4.5 step 3).
func rankScore(r RawResult, freshness float64, affinity float64) float64 {
	s := r.Authority * freshness * r.Topically
	if affinity > 0 {
		s *= 1 + affinity
	}
	return s
}

// Rerank orders results by weighted score, descending.
func Rerank(results []RawResult, recency memmodel.RecencyHint, affinity float64) []RawResult {
	freshness := freshnessWeight(recency)
	scored := make([]RawResult, len(results))
	copy(scored, results)
	sort.SliceStable(scored, func(i, j int) bool {
		return rankScore(scored[i], freshness, affinity) > rankScore(scored[j], freshness, affinity)
	})
	return scored
}

func freshnessWeight(hint memmodel.RecencyHint) float64 {
	switch hint {
	case memmodel.RecencyDay:
		return 1.0
	case memmodel.RecencyWeek:
		return 0.7
	case memmodel.RecencyMonth:
		return 0.4
	default:
		return 0.5
	}
}

// Compose builds a Capsule from reranked results, enforcing the §3 schema
// caps: <=4 claims (each <=160 chars), <=4 sources, 4KB serialized hard
// cap, confidence high iff >=2 distinct hosts corroborate.
func Compose(batchID, topic string, ttlClass memmodel.TTLClass, recency memmodel.RecencyHint, ranked []RawResult) memmodel.Capsule {
	c := memmodel.Capsule{
		BatchID:     batchID,
		Topic:       topic,
		TTLClass:    ttlClass,
		RecencyHint: recency,
	}

	hosts := make(map[string]struct{})
	for _, r := range ranked {
		if len(c.Claims) >= memmodel.CapsuleMaxClaims {
			break
		}
		claim := truncateClaim(r.Claim)
		if claim == "" {
			continue
		}
		c.Claims = append(c.Claims, claim)
		hosts[r.Host] = struct{}{}
		if len(c.Sources) < memmodel.CapsuleMaxSources {
			c.Sources = append(c.Sources, memmodel.Source{Host: r.Host, Date: r.Date})
		}
	}

	if len(hosts) >= 2 {
		c.Confidence = memmodel.ConfidenceHigh
	} else {
		c.Confidence = memmodel.ConfidenceMed
	}

	enforceByteCap(&c)
	return c
}

func truncateClaim(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= memmodel.CapsuleMaxClaimLen {
		return s
	}
	return strings.TrimSpace(s[:memmodel.CapsuleMaxClaimLen-1]) + "…"
}

// enforceByteCap drops the lowest-ranked claim or source until the
// serialized capsule fits the 4KB hard limit.
func enforceByteCap(c *memmodel.Capsule) {
	for serializedSize(c) > memmodel.CapsuleMaxBytes {
		switch {
		case len(c.Sources) > 1:
			c.Sources = c.Sources[:len(c.Sources)-1]
		case len(c.Claims) > 1:
			c.Claims = c.Claims[:len(c.Claims)-1]
		default:
			return
		}
	}
}

func serializedSize(c *memmodel.Capsule) int {
	b, err := json.Marshal(c)
	if err != nil {
		return 0
	}
	return len(b)
}
