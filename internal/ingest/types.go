package ingest

import (
	"context"

	"github.com/manifold-labs/chatmemory/internal/memmodel"
)

// WindowMessage is one user/assistant message in a frozen audit window.
type WindowMessage struct {
	ID      string
	Role    string
	Content string
}

// AuditJob is one frozen window of messages handed from the cadence
// tracker (or the gateway's explicit-save fast path) to the audit
// pipeline.
type AuditJob struct {
	UserID     string
	ThreadID   string
	StartMsgID string
	EndMsgID   string
	Messages   []WindowMessage

	// ExplicitSave, when non-nil, bypasses scoring: the gateway already
	// decided this content is a TIER1 user-directed save (§4.1 "Explicit
	// save (fast path)"). The hint's Tier is used as given; tier assignment
	// runs only when it is empty.
	ExplicitSave *ExplicitSaveHint
}

// ExplicitSaveHint carries the gateway-detected "remember this" content.
type ExplicitSaveHint struct {
	Content string
	Tier    memmodel.Tier
}

// Embedder generates a vector embedding for memory content. Embedding is
// optional and non-blocking (§4.1 step 5: "may lag"); a nil Embedder
// simply skips the vector-index write.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ResearchJob is what the stability check (§4.1 "Topic stability /
// research enqueue") hands to Memory.Research.
type ResearchJob struct {
	UserID      string
	ThreadID    string
	Topic       string
	TTLClass    memmodel.TTLClass
	RecencyHint memmodel.RecencyHint
	BatchID     string
}

// ResearchEnqueuer dispatches a research job — implemented by
// internal/research on top of its Kafka producer, kept as a narrow
// interface here so internal/ingest never imports internal/research.
type ResearchEnqueuer interface {
	Enqueue(ctx context.Context, job ResearchJob) error
}

// ProfileInvalidator drops a user's cached profile — implemented by
// internal/profile.Service, kept as a narrow interface here so
// internal/ingest never imports internal/profile (§3/§5 "profile cache
// invalidated on every TIER1/TIER2 write").
type ProfileInvalidator interface {
	Invalidate(ctx context.Context, userID string)
}
