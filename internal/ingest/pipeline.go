// Package ingest implements Memory.Ingest: the cadence tracker, the audit
// pipeline (score -> redact -> dedup/supersede -> tier -> persist -> audit
// record), the explicit-save fast path, and the bounded worker pool that
// keeps all of this off the chat hot path (§4.1, §5).
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/manifold-labs/chatmemory/internal/audit"
	"github.com/manifold-labs/chatmemory/internal/bus"
	"github.com/manifold-labs/chatmemory/internal/dedup"
	"github.com/manifold-labs/chatmemory/internal/memmodel"
	"github.com/manifold-labs/chatmemory/internal/memstore"
	"github.com/manifold-labs/chatmemory/internal/redact"
	"github.com/manifold-labs/chatmemory/internal/score"
)

// latestBatchTTL bounds how long a thread's "latest research batch id"
// pointer survives — long enough to cover Kafka dispatch plus the
// sidecar's own retry budget, short enough that a stale pointer from an
// old, already-consumed topic doesn't linger and get matched by a much
// later, unrelated poll.
const latestBatchTTL = 30 * time.Second

// DedupWindow bounds how many recent memories are considered as supersede
// candidates (§4.1 step 3: "most recent N <= 50").
const DedupWindow = 50

// Pipeline runs the audit pipeline against the storage layer.
type Pipeline struct {
	Rows     memstore.RowStore
	FTS      memstore.FullTextSearch
	Vector   memstore.VectorStore // optional
	Embedder Embedder             // optional
	Audit    *audit.Sink          // optional; nil-safe
	Research ResearchEnqueuer     // optional
	Bus      *bus.Bus             // optional; nil-safe, publishes the latest-batch pointer
	Profile  ProfileInvalidator   // optional

	QualityThreshold float64

	stability *topicStability
}

// NewPipeline constructs a Pipeline. qualityThreshold <= 0 falls back to
// score.DefaultThreshold.
func NewPipeline(rows memstore.RowStore, fts memstore.FullTextSearch, vector memstore.VectorStore, embedder Embedder, auditSink *audit.Sink, research ResearchEnqueuer, b *bus.Bus, prof ProfileInvalidator, qualityThreshold float64) *Pipeline {
	if qualityThreshold <= 0 {
		qualityThreshold = score.DefaultThreshold
	}
	return &Pipeline{
		Rows:             rows,
		FTS:              fts,
		Vector:           vector,
		Embedder:         embedder,
		Audit:            auditSink,
		Research:         research,
		Bus:              b,
		Profile:          prof,
		QualityThreshold: qualityThreshold,
		stability:        newTopicStability(),
	}
}

// Process runs the full audit pipeline against one frozen window.
func (p *Pipeline) Process(ctx context.Context, job AuditJob) error {
	if job.ExplicitSave != nil {
		return p.processExplicitSave(ctx, job)
	}
	return p.processWindow(ctx, job)
}

func (p *Pipeline) processExplicitSave(ctx context.Context, job AuditJob) error {
	hint := job.ExplicitSave
	_, saved, err := p.upsertCandidate(ctx, job.UserID, job.ThreadID, hint.Content, hint.Tier, 0.9)
	if err != nil {
		return fmt.Errorf("ingest: explicit save: %w", err)
	}
	auditScore := 1.0
	if !saved {
		auditScore = 0
	}
	p.recordAudit(ctx, job, auditScore, boolToInt(saved))
	return nil
}

// ExplicitSave runs the fast path described in §4.1 ("Explicit save")
// synchronously and returns the resulting memory, for the Memory Service's
// POST /v1/memories handler (internal/memoryapi) which must hand the caller back the saved
// row (§6). The async Process/Queue path above is for frozen audit
// windows, which have no synchronous caller to respond to.
func (p *Pipeline) ExplicitSave(ctx context.Context, userID, threadID, content string, tier memmodel.Tier) (memmodel.Memory, error) {
	if tier == "" {
		tier = memmodel.Tier1
	}
	m, _, err := p.upsertCandidate(ctx, userID, threadID, content, tier, 0.9)
	if err != nil {
		return memmodel.Memory{}, fmt.Errorf("ingest: explicit save: %w", err)
	}
	rec := memmodel.AuditRecord{
		ID:         uuid.NewString(),
		UserID:     userID,
		ThreadID:   threadID,
		Score:      1.0,
		Saved:      1,
		CreatedAt:  time.Now().UTC(),
	}
	if err := p.Rows.AppendAudit(ctx, rec); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("ingest_append_audit_failed")
	}
	p.Audit.Append(ctx, rec)
	return m, nil
}

func (p *Pipeline) processWindow(ctx context.Context, job AuditJob) error {
	if len(job.Messages) == 0 {
		p.recordAudit(ctx, job, 0, 0)
		return nil
	}

	var scores []float64
	savedCount := 0
	var dominantTopics []string

	for _, msg := range job.Messages {
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		s := score.Score(msg.Content)
		scores = append(scores, s)
		if s < p.QualityThreshold {
			continue
		}

		redacted := redact.Redact(msg.Content)
		topic := dedup.Topic(redacted.Content)
		if topic != "" {
			dominantTopics = append(dominantTopics, topic)
		}

		_, saved, err := p.upsertCandidate(ctx, job.UserID, job.ThreadID, redacted.Content, "", 0.5)
		if err != nil {
			return fmt.Errorf("ingest: process window: %w", err)
		}
		if saved {
			savedCount++
		}
	}

	avg := average(scores)
	p.recordAudit(ctx, job, avg, savedCount)

	for _, topic := range dedupeStrings(dominantTopics) {
		p.checkStability(ctx, job.UserID, job.ThreadID, topic)
	}
	return nil
}

// upsertCandidate implements steps 3-5: dedup/supersede against the most
// recent N memories, tier assignment on create, and persistence of the row
// plus keyword index in a single logical unit.
func (p *Pipeline) upsertCandidate(ctx context.Context, userID, threadID, content string, tierHint memmodel.Tier, priorityHint float64) (memmodel.Memory, bool, error) {
	if content == "" {
		return memmodel.Memory{}, false, nil
	}

	recent, err := p.Rows.RecentMemories(ctx, userID, DedupWindow)
	if err != nil {
		return memmodel.Memory{}, false, fmt.Errorf("fetch recent memories: %w", err)
	}

	candidates := make([]string, len(recent))
	for i, m := range recent {
		candidates[i] = m.Content
	}
	idx, sim := dedup.BestMatch(content, candidates)

	now := time.Now().UTC()
	if idx >= 0 && dedup.ShouldSupersede(sim) {
		existing := recent[idx]
		existing.Content = content
		existing.UpdatedAt = now
		existing.LastSeenTs = now
		existing.Repeats++
		existing.AddThread(threadID)
		if tierHint != "" && tierPriority(tierHint) > tierPriority(existing.Tier) {
			existing.Tier = tierHint
			existing.Priority = priorityHint
		}
		if err := p.Rows.SaveMemory(ctx, existing); err != nil {
			return memmodel.Memory{}, false, fmt.Errorf("supersede memory: %w", err)
		}
		if err := p.FTS.Index(ctx, existing.ID, userID, existing.Content); err != nil {
			log.Warn().Err(err).Str("memory_id", existing.ID).Msg("ingest_fts_index_failed")
		}
		p.embedAsync(existing.ID, userID, existing.Content)
		p.invalidateProfile(ctx, userID, existing.Tier)
		return existing, true, nil
	}

	tier := tierHint
	if tier == "" {
		tier = p.assignTier(recent, content)
	}
	priority := priorityHint
	if priority == 0 {
		priority = defaultPriority(tier)
	}

	m := memmodel.Memory{
		ID:         uuid.NewString(),
		UserID:     userID,
		ThreadID:   threadID,
		Content:    content,
		Entities:   score.Entities(content),
		Priority:   priority,
		Confidence: 0.6,
		Tier:       tier,
		CreatedAt:  now,
		UpdatedAt:  now,
		LastSeenTs: now,
		Repeats:    1,
		ThreadSet:  []string{threadID},
	}
	if err := p.Rows.SaveMemory(ctx, m); err != nil {
		return memmodel.Memory{}, false, fmt.Errorf("create memory: %w", err)
	}
	if err := p.FTS.Index(ctx, m.ID, userID, m.Content); err != nil {
		log.Warn().Err(err).Str("memory_id", m.ID).Msg("ingest_fts_index_failed")
	}
	p.embedAsync(m.ID, userID, m.Content)
	p.invalidateProfile(ctx, userID, tier)
	return m, true, nil
}

// invalidateProfile drops userID's cached profile when a write touches a
// TIER1/TIER2 memory — the only writes the derived profile depends on
// (§3, §5 "mutation discipline").
func (p *Pipeline) invalidateProfile(ctx context.Context, userID string, tier memmodel.Tier) {
	if p.Profile == nil || (tier != memmodel.Tier1 && tier != memmodel.Tier2) {
		return
	}
	p.Profile.Invalidate(ctx, userID)
}

// assignTier implements step 4 for newly created memories: TIER2 iff the
// content already appears from >=2 distinct threads, TIER3 otherwise.
func (p *Pipeline) assignTier(recent []memmodel.Memory, content string) memmodel.Tier {
	threads := make(map[string]struct{})
	for _, m := range recent {
		if dedup.Similarity(m.Content, content) >= dedup.SupersedeThreshold {
			for _, t := range m.ThreadSet {
				threads[t] = struct{}{}
			}
		}
	}
	if len(threads) >= 2 {
		return memmodel.Tier2
	}
	return memmodel.Tier3
}

// embedAsync enqueues a non-blocking embedding write (§4.1 step 5: "may
// lag; non-blocking"). Failures are logged, never surfaced to the ingest
// caller.
func (p *Pipeline) embedAsync(memoryID, userID, content string) {
	if p.Embedder == nil || p.Vector == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		vec, err := p.Embedder.Embed(ctx, content)
		if err != nil {
			log.Warn().Err(err).Str("memory_id", memoryID).Msg("ingest_embed_failed")
			return
		}
		if err := p.Vector.Upsert(ctx, memoryID, vec, userID); err != nil {
			log.Warn().Err(err).Str("memory_id", memoryID).Msg("ingest_vector_upsert_failed")
		}
	}()
}

func (p *Pipeline) recordAudit(ctx context.Context, job AuditJob, avgScore float64, saved int) {
	rec := memmodel.AuditRecord{
		ID:         uuid.NewString(),
		UserID:     job.UserID,
		ThreadID:   job.ThreadID,
		StartMsgID: job.StartMsgID,
		EndMsgID:   job.EndMsgID,
		Score:      avgScore,
		Saved:      saved,
		CreatedAt:  time.Now().UTC(),
	}
	if err := p.Rows.AppendAudit(ctx, rec); err != nil {
		log.Warn().Err(err).Str("user_id", job.UserID).Msg("ingest_append_audit_failed")
	}
	p.Audit.Append(ctx, rec)
}

// checkStability increments the per-(user,topic) batch counter and
// enqueues a research job when the topic is stable and worth refreshing
// (§4.1 "Topic stability / research enqueue").
func (p *Pipeline) checkStability(ctx context.Context, userID, threadID, topic string) {
	if p.Research == nil {
		return
	}
	batches := p.stability.Observe(userID, topic)
	if batches < 2 {
		return
	}

	stale := p.topicIsStaleOrLowConfidence(ctx, userID, topic)
	if !stale {
		return
	}

	job := ResearchJob{
		UserID:      userID,
		ThreadID:    threadID,
		Topic:       topic,
		TTLClass:    memmodel.TTLGeneral,
		RecencyHint: memmodel.RecencyWeek,
		BatchID:     uuid.NewString(),
	}
	// Published before Enqueue so a gateway poller that starts watching
	// this thread right after the turn that triggered this job can find
	// the batch id before the job even reaches the sidecar (§4.3).
	if p.Bus != nil {
		p.Bus.Set(ctx, bus.LatestBatchKey(threadID), job.BatchID, latestBatchTTL)
	}
	if err := p.Research.Enqueue(ctx, job); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("ingest_research_enqueue_failed")
	}
}

// topicIsStaleOrLowConfidence checks whether the memories backing topic
// are low-confidence, a proxy for "stale per ttl-class" without a direct
// staleness clock in the row store. A memory whose confidence has not
// risen above the 0.6 it is created with counts as low-confidence.
func (p *Pipeline) topicIsStaleOrLowConfidence(ctx context.Context, userID, topic string) bool {
	recent, err := p.Rows.RecentMemories(ctx, userID, DedupWindow)
	if err != nil {
		return true
	}
	matched := 0
	lowConfidence := 0
	for _, m := range recent {
		if dedup.Topic(m.Content) == topic {
			matched++
			if m.Confidence <= 0.6 {
				lowConfidence++
			}
		}
	}
	if matched == 0 {
		return true
	}
	return lowConfidence > 0
}

func average(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func tierPriority(t memmodel.Tier) int {
	switch t {
	case memmodel.Tier1:
		return 3
	case memmodel.Tier2:
		return 2
	case memmodel.Tier3:
		return 1
	default:
		return 0
	}
}

func defaultPriority(t memmodel.Tier) float64 {
	switch t {
	case memmodel.Tier1:
		return 0.9
	case memmodel.Tier2:
		return 0.6
	default:
		return 0.3
	}
}
