// Package summary regenerates per-thread summaries lazily, consolidated
// in the Memory Service per the "Thread-summary generation location" open
// question: summaries are user-owned data, not per-turn gateway state.
package summary

import (
	"context"
	"strings"
	"time"

	"github.com/manifold-labs/chatmemory/internal/memmodel"
	"github.com/manifold-labs/chatmemory/internal/memstore"
)

// RegenerateThreshold is the "small number of new messages" that triggers
// a lazy regeneration (§3).
const RegenerateThreshold = 12

// MaxSummaryLen bounds the generated summary (§3: "<=~200 chars").
const MaxSummaryLen = 200

// Service tracks per-thread message counts and regenerates summaries.
type Service struct {
	Rows memstore.RowStore
}

// NewService constructs a summary Service.
func NewService(rows memstore.RowStore) *Service {
	return &Service{Rows: rows}
}

// MaybeRegenerate regenerates threadID's summary when messagesSinceLastSummary
// exceeds RegenerateThreshold, from the supplied recent message contents
// (newest-last). Returns the (possibly unchanged) summary.
func (s *Service) MaybeRegenerate(ctx context.Context, userID, threadID string, messagesSinceLastSummary int, recentContents []string) (memmodel.ThreadSummary, error) {
	existing, ok, err := s.Rows.GetThreadSummary(ctx, userID, threadID)
	if err != nil {
		return memmodel.ThreadSummary{}, err
	}
	if ok && messagesSinceLastSummary <= RegenerateThreshold {
		return existing, nil
	}

	text := Generate(existing.Summary, recentContents)
	out := memmodel.ThreadSummary{
		ThreadID:  threadID,
		UserID:    userID,
		Summary:   text,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.Rows.SaveThreadSummary(ctx, out); err != nil {
		return memmodel.ThreadSummary{}, err
	}
	return out, nil
}

// Generate extends (or starts) a thread summary with the gist of newly
// observed content. This is an extractive heuristic, not a model call:
// the Memory Service has no provider dependency (providers are a Gateway
// concern, §9).
func Generate(previous string, contents []string) string {
	var sentences []string
	if previous != "" {
		sentences = append(sentences, previous)
	}
	for _, c := range contents {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		sentences = append(sentences, firstSentence(c))
	}

	joined := strings.Join(dedupe(sentences), " ")
	joined = strings.TrimSpace(joined)
	if len(joined) <= MaxSummaryLen {
		return joined
	}
	return truncate(joined, MaxSummaryLen)
}

func firstSentence(s string) string {
	for _, sep := range []string{". ", "! ", "? ", "\n"} {
		if i := strings.Index(s, sep); i > 0 && i < 160 {
			return s[:i+1]
		}
	}
	if len(s) > 160 {
		return s[:160]
	}
	return s
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(in))
	for _, s := range in {
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if i := strings.LastIndex(cut, " "); i > max/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "…"
}
