// Package profile derives a User Profile from TIER1/TIER2 memories and
// caches it on Shared.Bus with invalidation on every TIER1/TIER2 memory
// write for that user (§3, §5 "Mutation discipline").
package profile

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/manifold-labs/chatmemory/internal/bus"
	"github.com/manifold-labs/chatmemory/internal/memmodel"
	"github.com/manifold-labs/chatmemory/internal/memstore"
)

// CacheTTL bounds how long a derived profile stays on the bus before a
// fresh derivation is required (§3: "Cached with a short TTL").
const CacheTTL = 10 * time.Minute

var techStackVocab = []string{
	"go", "golang", "python", "typescript", "javascript", "rust", "java",
	"postgresql", "postgres", "mysql", "redis", "kafka", "docker", "kubernetes",
	"react", "vue", "aws", "gcp", "azure", "clickhouse", "qdrant", "grpc",
}

var domainVocab = map[string][]string{
	"backend":      {"api", "server", "backend", "microservice", "database"},
	"frontend":     {"ui", "frontend", "react", "css", "design"},
	"data":         {"data", "pipeline", "etl", "analytics", "warehouse"},
	"infra":        {"kubernetes", "docker", "terraform", "infra", "devops"},
	"ml":           {"model", "embedding", "llm", "inference", "training"},
	"security":     {"auth", "security", "encryption", "oidc", "vulnerability"},
}

// Service derives and caches profiles.
type Service struct {
	Rows memstore.RowStore
	Bus  *bus.Bus
}

// NewService constructs a profile Service.
func NewService(rows memstore.RowStore, b *bus.Bus) *Service {
	return &Service{Rows: rows, Bus: b}
}

// Get returns the cached profile if present and fresh, else derives one
// from the user's TIER1/TIER2 memories and caches the result.
func (s *Service) Get(ctx context.Context, userID string) (memmodel.Profile, error) {
	if cached, ok := s.Bus.Get(ctx, bus.ProfileKey(userID)); ok {
		var p memmodel.Profile
		if err := json.Unmarshal([]byte(cached), &p); err == nil {
			return p, nil
		}
	}

	mems, err := s.Rows.ListMemories(ctx, userID)
	if err != nil {
		return memmodel.Profile{}, err
	}
	p := Derive(userID, mems)

	if payload, err := json.Marshal(p); err == nil {
		s.Bus.Set(ctx, bus.ProfileKey(userID), string(payload), CacheTTL)
	}
	return p, nil
}

// Invalidate drops the cached profile for userID. Call this on every
// TIER1/TIER2 memory write (the only event permitted to invalidate the
// profile cache, per §5's mutation discipline).
func (s *Service) Invalidate(ctx context.Context, userID string) {
	s.Bus.Delete(ctx, bus.ProfileKey(userID))
}

// Derive computes a Profile from a user's memories, considering only
// TIER1/TIER2 facts (§3: "Derived ... from the user's TIER1/TIER2
// memories").
func Derive(userID string, memories []memmodel.Memory) memmodel.Profile {
	techCounts := make(map[string]int)
	domainCounts := make(map[string]int)
	var eligible int
	var kept []memmodel.Memory

	for _, m := range memories {
		if m.Tier != memmodel.Tier1 && m.Tier != memmodel.Tier2 {
			continue
		}
		if m.DeletedAt != nil {
			continue
		}
		eligible++
		kept = append(kept, m)
		lower := strings.ToLower(m.Content)
		for _, tech := range techStackVocab {
			if strings.Contains(lower, tech) {
				techCounts[canonicalTech(tech)]++
			}
		}
		for domain, keywords := range domainVocab {
			for _, kw := range keywords {
				if strings.Contains(lower, kw) {
					domainCounts[domain]++
					break
				}
			}
		}
	}

	return memmodel.Profile{
		UserID:             userID,
		TechStack:          topN(techCounts, 8),
		Domains:            topN(domainCounts, 5),
		ExpertiseLevel:     expertiseLevel(eligible),
		CommunicationStyle: communicationStyle(kept),
		UpdatedAt:          time.Now().UTC(),
	}
}

func canonicalTech(tech string) string {
	if tech == "golang" {
		return "go"
	}
	if tech == "postgres" {
		return "postgresql"
	}
	return tech
}

func topN(counts map[string]int, n int) []string {
	type kv struct {
		k string
		v int
	}
	list := make([]kv, 0, len(counts))
	for k, v := range counts {
		list = append(list, kv{k, v})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].v != list[j].v {
			return list[i].v > list[j].v
		}
		return list[i].k < list[j].k
	})
	if len(list) > n {
		list = list[:n]
	}
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.k
	}
	return out
}

// expertiseLevel is a coarse proxy on the number of durable TIER1/TIER2
// facts: more established signal implies deeper engagement.
func expertiseLevel(eligible int) string {
	switch {
	case eligible >= 15:
		return "expert"
	case eligible >= 5:
		return "intermediate"
	default:
		return "beginner"
	}
}

// communicationStyle infers a preference from average memory content
// length: terser recorded facts correlate with a terser communicator.
func communicationStyle(memories []memmodel.Memory) string {
	if len(memories) == 0 {
		return "balanced"
	}
	var total int
	for _, m := range memories {
		total += len(m.Content)
	}
	avg := total / len(memories)
	switch {
	case avg < 40:
		return "concise"
	case avg > 120:
		return "detailed"
	default:
		return "balanced"
	}
}
