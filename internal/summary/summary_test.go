package summary

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/manifold-labs/chatmemory/internal/memstore"
)

func TestMaybeRegenerateSkipsBelowThreshold(t *testing.T) {
	rows := memstore.NewMemoryRowStore()
	require.NoError(t, rows.Init(context.Background()))
	s := NewService(rows)

	first, err := s.MaybeRegenerate(context.Background(), "u1", "t1", RegenerateThreshold+1, []string{"We discussed the new API design."})
	require.NoError(t, err)
	require.NotEmpty(t, first.Summary)

	second, err := s.MaybeRegenerate(context.Background(), "u1", "t1", 1, []string{"totally different content"})
	require.NoError(t, err)
	require.Equal(t, first.Summary, second.Summary)
}

func TestGenerateTruncatesToMaxLen(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "a sentence about the project. "
	}
	out := Generate("", []string{long})
	require.LessOrEqual(t, len(out), MaxSummaryLen+1)
}
