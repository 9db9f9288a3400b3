// Package memstore is the memory service's storage layer: a row store for
// Memory/Profile/ThreadSummary/AuditRecord, a pluggable keyword (FTS) index,
// and a pluggable vector index. Backends are resolved from config.DBConfig
// the same way the teacher's database factory resolves per-concern
// backends, trimmed to the two indexes this system actually needs.
package memstore

import (
	"context"

	"github.com/manifold-labs/chatmemory/internal/memmodel"
)

// SearchResult is a single keyword-index hit.
type SearchResult struct {
	ID       string
	Score    float64
	Snippet  string
}

// FullTextSearch is the pluggable keyword/BM25-style index backing
// Memory.Recall's keyword path (§4.2).
type FullTextSearch interface {
	Index(ctx context.Context, id, userID, content string) error
	Remove(ctx context.Context, id string) error
	// Search runs a BM25-ranked query scoped to one user. Phrase terms
	// should be pre-quoted by the caller; the backend is responsible for
	// translating that into its native query syntax.
	Search(ctx context.Context, userID, query string, limit int) ([]SearchResult, error)
	Close() error
}

// VectorResult is a single nearest-neighbor hit; Score is cosine similarity
// in [0,1] for the cosine metric (other metrics are normalized by callers).
type VectorResult struct {
	ID    string
	Score float64
}

// VectorStore is the pluggable semantic index backing Memory.Recall's
// optional vector path. Treated as an opaque nearest-neighbor index per
// the Non-goals — callers never assume anything about its internals.
type VectorStore interface {
	Upsert(ctx context.Context, id string, vector []float32, userID string) error
	Delete(ctx context.Context, id string) error
	SimilaritySearch(ctx context.Context, vector []float32, userID string, k int) ([]VectorResult, error)
	Close() error
}

// RowStore persists the essential-columns schema from §6: memories,
// audits, thread_summaries, user_profiles.
type RowStore interface {
	Init(ctx context.Context) error

	SaveMemory(ctx context.Context, m memmodel.Memory) error
	GetMemory(ctx context.Context, userID, id string) (memmodel.Memory, bool, error)
	ListMemories(ctx context.Context, userID string) ([]memmodel.Memory, error)
	// RecentMemories returns up to limit memories for the user ordered by
	// updatedAt descending, used as the dedup candidate set (§4.1 step 3).
	RecentMemories(ctx context.Context, userID string, limit int) ([]memmodel.Memory, error)
	SoftDeleteMemory(ctx context.Context, userID, id string) error

	AppendAudit(ctx context.Context, a memmodel.AuditRecord) error
	RecentAudits(ctx context.Context, userID, threadID string, limit int) ([]memmodel.AuditRecord, error)

	SaveProfile(ctx context.Context, p memmodel.Profile) error
	GetProfile(ctx context.Context, userID string) (memmodel.Profile, bool, error)

	SaveThreadSummary(ctx context.Context, s memmodel.ThreadSummary) error
	GetThreadSummary(ctx context.Context, userID, threadID string) (memmodel.ThreadSummary, bool, error)
	RecentSummaries(ctx context.Context, userID, excludeThreadID string, limit int) ([]memmodel.ThreadSummary, error)

	Close() error
}

func copyStrings(s []string) []string {
	if s == nil {
		return nil
	}
	cp := make([]string, len(s))
	copy(cp, s)
	return cp
}
