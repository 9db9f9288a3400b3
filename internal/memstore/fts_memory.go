package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// memoryFTS is a naive in-process keyword index, used when SEARCH_BACKEND
// is "memory" (the default for tests and local dev without Postgres).
type memoryFTS struct {
	mu   sync.RWMutex
	docs map[string]ftsDoc
}

type ftsDoc struct {
	userID string
	text   string
}

func NewMemoryFTS() FullTextSearch { return &memoryFTS{docs: make(map[string]ftsDoc)} }

func (m *memoryFTS) Index(_ context.Context, id, userID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[id] = ftsDoc{userID: userID, text: content}
	return nil
}

func (m *memoryFTS) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

func (m *memoryFTS) Search(_ context.Context, userID, query string, limit int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 10
	}
	terms := strings.Fields(strings.ToLower(query))
	out := make([]SearchResult, 0, limit)
	for id, d := range m.docs {
		if d.userID != userID {
			continue
		}
		lt := strings.ToLower(d.text)
		var score float64
		for _, t := range terms {
			t = strings.Trim(t, `"`)
			if t == "" {
				continue
			}
			if n := strings.Count(lt, t); n > 0 {
				score += float64(n)
			}
		}
		if score <= 0 {
			continue
		}
		snippet := d.text
		if len(snippet) > 160 {
			snippet = snippet[:160]
		}
		out = append(out, SearchResult{ID: id, Score: score, Snippet: snippet})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryFTS) Close() error { return nil }
