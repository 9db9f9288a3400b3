// Package research implements Memory.Research, the hidden background
// sidecar: cache probe, fetch+rerank, capsule composition, and
// publication to Shared.Bus (§4.5). It is triggered only by Memory.Ingest's
// topic-stability check — never on the chat hot path.
package research

import (
	"context"
	"time"

	"github.com/manifold-labs/chatmemory/internal/memmodel"
)

// RawResult is one hit from a search backend, before reranking or
// capsule composition.
type RawResult struct {
	Host      string
	Date      string // ISO8601 date string, best-effort
	Claim     string // a short factual statement distilled from the hit
	Topically float64 // topical-match score in [0,1], backend-supplied
	Authority float64 // host-authority score in [0,1], backend-supplied
}

// SearchBackend is the narrow collaborator boundary for web-search API
// clients (Non-goal c/e): this package never implements HTTP scraping or
// a concrete search provider, only the contract a provider must satisfy.
type SearchBackend interface {
	Search(ctx context.Context, query string, freshness memmodel.RecencyHint) ([]RawResult, error)
}

// Job is one research request, enqueued by Memory.Ingest's stability
// check (internal/ingest.ResearchJob) and dispatched over Kafka.
type Job struct {
	UserID      string            `json:"user_id"`
	ThreadID    string            `json:"thread_id"`
	Topic       string            `json:"topic"`
	TTLClass    memmodel.TTLClass `json:"ttl_class"`
	RecencyHint memmodel.RecencyHint `json:"recency_hint"`
	BatchID     string            `json:"batch_id"`
	EnqueuedAt  time.Time         `json:"enqueued_at"`
}

// UserAffinity reports how strongly topic matches userID's known
// interests, nonzero only when profile signals exist for the topic
// (§4.5 step 3). 0 when no signal is available.
type UserAffinity func(ctx context.Context, userID, topic string) float64
