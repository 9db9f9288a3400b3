package recall

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/manifold-labs/chatmemory/internal/memmodel"
	"github.com/manifold-labs/chatmemory/internal/memstore"
)

func seedMemory(t *testing.T, rows memstore.RowStore, fts memstore.FullTextSearch, m memmodel.Memory) {
	t.Helper()
	require.NoError(t, rows.SaveMemory(context.Background(), m))
	require.NoError(t, fts.Index(context.Background(), m.ID, m.UserID, m.Content))
}

func TestPreprocessStripsInterrogativeAndPossessive(t *testing.T) {
	p := Preprocess("what is my favorite color")
	require.Contains(t, p.Keywords, "favorite")
	require.Contains(t, p.Keywords, "color")
}

func TestPreprocessEmptyQuery(t *testing.T) {
	p := Preprocess("")
	require.Empty(t, p.Keywords)
}

func TestRecallTier1PromotedToHead(t *testing.T) {
	rows := memstore.NewMemoryRowStore()
	fts := memstore.NewMemoryFTS()
	now := time.Now().Add(-48 * time.Hour)

	seedMemory(t, rows, fts, memmodel.Memory{
		ID: "m-tier3", UserID: "u1", ThreadID: "t1", Content: "editor preference vim",
		Tier: memmodel.Tier3, Priority: 0.3, UpdatedAt: now, CreatedAt: now,
	})
	seedMemory(t, rows, fts, memmodel.Memory{
		ID: "m-tier1", UserID: "u1", ThreadID: "t2", Content: "unrelated remembered fact",
		Tier: memmodel.Tier1, Priority: 0.9, UpdatedAt: now, CreatedAt: now,
	})

	eng := NewEngine(rows, fts, nil, nil)
	results, err := eng.Recall(context.Background(), Request{UserID: "u1", Query: "editor", MaxItems: 10, Deadline: DefaultDeadline})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "m-tier1", results[0].ID)
}

func TestRecallNoQueryBrowsesRecent(t *testing.T) {
	rows := memstore.NewMemoryRowStore()
	fts := memstore.NewMemoryFTS()
	now := time.Now()
	seedMemory(t, rows, fts, memmodel.Memory{ID: "m1", UserID: "u1", Content: "a fact", Tier: memmodel.Tier2, UpdatedAt: now, CreatedAt: now})

	eng := NewEngine(rows, fts, nil, nil)
	results, err := eng.Recall(context.Background(), Request{UserID: "u1", MaxItems: 5, Deadline: DefaultDeadline})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestRecallRespectsMaxItems(t *testing.T) {
	rows := memstore.NewMemoryRowStore()
	fts := memstore.NewMemoryFTS()
	now := time.Now()
	for i := 0; i < 5; i++ {
		seedMemory(t, rows, fts, memmodel.Memory{
			ID: string(rune('a' + i)), UserID: "u1", Content: "golang backend service detail",
			Tier: memmodel.Tier2, UpdatedAt: now, CreatedAt: now,
		})
	}
	eng := NewEngine(rows, fts, nil, nil)
	results, err := eng.Recall(context.Background(), Request{UserID: "u1", Query: "golang", MaxItems: 2, Deadline: DefaultDeadline})
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestRecallZeroDeadlineReturnsEmptyImmediately(t *testing.T) {
	rows := memstore.NewMemoryRowStore()
	fts := memstore.NewMemoryFTS()
	now := time.Now()
	seedMemory(t, rows, fts, memmodel.Memory{ID: "m1", UserID: "u1", Content: "a fact", Tier: memmodel.Tier2, UpdatedAt: now, CreatedAt: now})

	eng := NewEngine(rows, fts, nil, nil)
	results, err := eng.Recall(context.Background(), Request{UserID: "u1", MaxItems: 5, Deadline: 0})
	require.NoError(t, err)
	require.Empty(t, results)
}
