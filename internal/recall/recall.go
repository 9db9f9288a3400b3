package recall

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/manifold-labs/chatmemory/internal/memmodel"
	"github.com/manifold-labs/chatmemory/internal/memstore"
)

// DefaultDeadline and MaxDeadline bound the caller-supplied deadline
// (§4.2: "typical 200 ms, hard max 500 ms").
const (
	DefaultDeadline = 200 * time.Millisecond
	MaxDeadline     = 500 * time.Millisecond
)

// Embedder produces a query embedding for the semantic search path.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Request is the recall() call described in §4.2.
type Request struct {
	UserID   string
	ThreadID string // optional
	Query    string // optional
	MaxItems int
	// Deadline <0 means "not supplied" (DefaultDeadline applies); exactly
	// 0 means the caller explicitly wants an immediate, empty result.
	Deadline time.Duration
}

type candidate struct {
	mem        memmodel.Memory
	bm25       float64
	hasBM25    bool
	cosine     float64
	hasCosine  bool
	sameThread bool
	recent24h  bool
}

// Engine runs hybrid recall against the storage layer.
type Engine struct {
	Rows     memstore.RowStore
	FTS      memstore.FullTextSearch
	Vector   memstore.VectorStore // optional
	Embedder Embedder             // optional
}

// NewEngine constructs a recall Engine.
func NewEngine(rows memstore.RowStore, fts memstore.FullTextSearch, vector memstore.VectorStore, embedder Embedder) *Engine {
	return &Engine{Rows: rows, FTS: fts, Vector: vector, Embedder: embedder}
}

// Recall runs query preprocessing, hybrid keyword+semantic search, and
// fusion ranking, returning at most req.MaxItems memories within
// req.Deadline even at the cost of completeness.
func (e *Engine) Recall(ctx context.Context, req Request) ([]memmodel.Memory, error) {
	// A negative Deadline means "not supplied" (use the default); a
	// Deadline of exactly zero is the caller explicitly asking for an
	// immediate, empty result (§8 boundary test: "deadlineMs=0: returns
	// immediately with empty list, never errors").
	if req.Deadline == 0 {
		return []memmodel.Memory{}, nil
	}
	deadline := req.Deadline
	if deadline < 0 {
		deadline = DefaultDeadline
	}
	if deadline > MaxDeadline {
		deadline = MaxDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	maxItems := req.MaxItems
	if maxItems <= 0 {
		maxItems = 10
	}

	pre := Preprocess(req.Query)

	candidates := make(map[string]*candidate)
	var mu sync.Mutex

	if req.Query == "" {
		// No query: recall is a plain recency/tier browse over recent
		// memories rather than a search.
		recent, err := e.Rows.RecentMemories(ctx, req.UserID, maxItems*3)
		if err != nil {
			return nil, err
		}
		for _, m := range recent {
			candidates[m.ID] = &candidate{mem: m}
		}
		return e.fuse(req, candidates, maxItems), nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if e.FTS != nil {
		g.Go(func() error {
			e.keywordSearch(gctx, req.UserID, pre, maxItems*3, candidates, &mu)
			return nil
		})
	}
	if e.Vector != nil && e.Embedder != nil {
		g.Go(func() error {
			e.semanticSearch(gctx, req.UserID, pre.Normalized, maxItems*3, candidates, &mu)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		log.Warn().Err(err).Str("user_id", req.UserID).Msg("recall_deadline_exceeded_returning_partial")
	}

	return e.fuse(req, candidates, maxItems), nil
}

func (e *Engine) keywordSearch(ctx context.Context, userID string, pre Preprocessed, limit int, out map[string]*candidate, mu *sync.Mutex) {
	results, err := e.FTS.Search(ctx, userID, pre.FTSQueryString(), limit)
	if err != nil {
		log.Warn().Err(err).Msg("recall_keyword_search_failed")
		return
	}
	mu.Lock()
	defer mu.Unlock()
	for _, r := range results {
		c, ok := out[r.ID]
		if !ok {
			c = &candidate{}
			out[r.ID] = c
		}
		c.bm25 = r.Score
		c.hasBM25 = true
	}
}

func (e *Engine) semanticSearch(ctx context.Context, userID, query string, limit int, out map[string]*candidate, mu *sync.Mutex) {
	vec, err := e.Embedder.Embed(ctx, query)
	if err != nil {
		log.Warn().Err(err).Msg("recall_query_embed_failed")
		return
	}
	results, err := e.Vector.SimilaritySearch(ctx, vec, userID, limit)
	if err != nil {
		log.Warn().Err(err).Msg("recall_semantic_search_failed")
		return
	}
	mu.Lock()
	defer mu.Unlock()
	for _, r := range results {
		c, ok := out[r.ID]
		if !ok {
			c = &candidate{}
			out[r.ID] = c
		}
		c.cosine = r.Score
		c.hasCosine = true
	}
}

// fuse hydrates candidates into full Memory rows and applies the
// composite ranking from §4.2.
func (e *Engine) fuse(req Request, raw map[string]*candidate, maxItems int) []memmodel.Memory {
	now := time.Now()
	list := make([]*candidate, 0, len(raw))
	for id, c := range raw {
		m, ok, err := e.Rows.GetMemory(context.Background(), req.UserID, id)
		if err != nil || !ok || m.DeletedAt != nil {
			continue
		}
		c.mem = m
		c.sameThread = req.ThreadID != "" && m.ThreadID == req.ThreadID
		c.recent24h = now.Sub(m.UpdatedAt) < 24*time.Hour
		list = append(list, c)
	}

	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.sameThread != b.sameThread {
			return a.sameThread
		}
		if a.recent24h != b.recent24h {
			return a.recent24h
		}
		if !a.mem.UpdatedAt.Equal(b.mem.UpdatedAt) {
			return a.mem.UpdatedAt.After(b.mem.UpdatedAt)
		}
		ra, rb := relevance(a), relevance(b)
		if ra != rb {
			return ra > rb
		}
		if a.mem.Tier != b.mem.Tier {
			return tierRank(a.mem.Tier) > tierRank(b.mem.Tier)
		}
		return a.mem.Priority > b.mem.Priority
	})

	// TIER1 memories are promoted to the head of the list regardless of
	// relevance, preserving the relative order established above.
	head := make([]*candidate, 0, len(list))
	rest := make([]*candidate, 0, len(list))
	for _, c := range list {
		if c.mem.Tier == memmodel.Tier1 {
			head = append(head, c)
		} else {
			rest = append(rest, c)
		}
	}
	list = append(head, rest...)

	if len(list) > maxItems {
		list = list[:maxItems]
	}

	out := make([]memmodel.Memory, len(list))
	for i, c := range list {
		out[i] = c.mem
	}
	return out
}

func relevance(c *candidate) float64 {
	switch {
	case c.hasBM25 && c.hasCosine:
		return 0.4*c.bm25 + 0.6*c.cosine
	case c.hasBM25:
		return c.bm25
	case c.hasCosine:
		return c.cosine
	default:
		return 0
	}
}

func tierRank(t memmodel.Tier) int {
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
