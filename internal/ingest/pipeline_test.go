package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/manifold-labs/chatmemory/internal/bus"
	"github.com/manifold-labs/chatmemory/internal/config"
	"github.com/manifold-labs/chatmemory/internal/memmodel"
	"github.com/manifold-labs/chatmemory/internal/memstore"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	rows := memstore.NewMemoryRowStore()
	require.NoError(t, rows.Init(context.Background()))
	fts := memstore.NewMemoryFTS()
	return NewPipeline(rows, fts, nil, nil, nil, nil, nil, nil, 0)
}

func TestProcessWindowDiscardsLowScoreMessages(t *testing.T) {
	p := newTestPipeline(t)
	job := AuditJob{
		UserID:     "u1",
		ThreadID:   "t1",
		StartMsgID: "m1",
		EndMsgID:   "m2",
		Messages: []WindowMessage{
			{ID: "m1", Role: "user", Content: "ok"},
			{ID: "m2", Role: "assistant", Content: "sure"},
		},
	}
	err := p.Process(context.Background(), job)
	require.NoError(t, err)

	mems, err := p.Rows.ListMemories(context.Background(), "u1")
	require.NoError(t, err)
	require.Empty(t, mems)
}

func TestProcessWindowSavesSubstantiveMessage(t *testing.T) {
	p := newTestPipeline(t)
	job := AuditJob{
		UserID:     "u1",
		ThreadID:   "t1",
		StartMsgID: "m1",
		EndMsgID:   "m1",
		Messages: []WindowMessage{
			{ID: "m1", Role: "user", Content: "I use Go and PostgreSQL for the gateway backend"},
		},
	}
	err := p.Process(context.Background(), job)
	require.NoError(t, err)

	mems, err := p.Rows.ListMemories(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, mems, 1)
	require.Equal(t, memmodel.Tier3, mems[0].Tier)
}

func TestProcessWindowEmptyIsDefensive(t *testing.T) {
	p := newTestPipeline(t)
	job := AuditJob{UserID: "u1", ThreadID: "t1"}
	err := p.Process(context.Background(), job)
	require.NoError(t, err)

	audits, err := p.Rows.RecentAudits(context.Background(), "u1", "t1", 10)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	require.Equal(t, 0.0, audits[0].Score)
	require.Equal(t, 0, audits[0].Saved)
}

func TestExplicitSaveIsTier1(t *testing.T) {
	p := newTestPipeline(t)
	job := AuditJob{
		UserID:   "u1",
		ThreadID: "t1",
		ExplicitSave: &ExplicitSaveHint{
			Content: "my favorite editor is vim",
			Tier:    memmodel.Tier1,
		},
	}
	err := p.Process(context.Background(), job)
	require.NoError(t, err)

	mems, err := p.Rows.ListMemories(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, mems, 1)
	require.Equal(t, memmodel.Tier1, mems[0].Tier)
	require.Equal(t, 0.9, mems[0].Priority)
}

func TestSupersedeBumpsRepeatsAndPreservesID(t *testing.T) {
	p := newTestPipeline(t)
	first := AuditJob{
		UserID:   "u1",
		ThreadID: "t1",
		ExplicitSave: &ExplicitSaveHint{
			Content: "my favorite editor is vim",
			Tier:    memmodel.Tier1,
		},
	}
	require.NoError(t, p.Process(context.Background(), first))

	second := AuditJob{
		UserID:   "u1",
		ThreadID: "t2",
		ExplicitSave: &ExplicitSaveHint{
			Content: "my favorite editor is neovim now",
			Tier:    memmodel.Tier1,
		},
	}
	require.NoError(t, p.Process(context.Background(), second))

	mems, err := p.Rows.ListMemories(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, mems, 1)
	require.Equal(t, 2, mems[0].Repeats)
	require.Equal(t, "my favorite editor is neovim now", mems[0].Content)
	require.ElementsMatch(t, []string{"t1", "t2"}, mems[0].ThreadSet)
}

type fakeProfileInvalidator struct {
	calls []string
}

func (f *fakeProfileInvalidator) Invalidate(ctx context.Context, userID string) {
	f.calls = append(f.calls, userID)
}

func TestExplicitSaveInvalidatesProfileCache(t *testing.T) {
	rows := memstore.NewMemoryRowStore()
	require.NoError(t, rows.Init(context.Background()))
	fts := memstore.NewMemoryFTS()
	prof := &fakeProfileInvalidator{}
	p := NewPipeline(rows, fts, nil, nil, nil, nil, nil, prof, 0)

	job := AuditJob{
		UserID:   "u1",
		ThreadID: "t1",
		ExplicitSave: &ExplicitSaveHint{
			Content: "my favorite editor is vim",
			Tier:    memmodel.Tier1,
		},
	}
	require.NoError(t, p.Process(context.Background(), job))
	require.Equal(t, []string{"u1"}, prof.calls)
}

func TestProcessWindowDoesNotInvalidateProfileForTier3(t *testing.T) {
	p := newTestPipeline(t)
	prof := &fakeProfileInvalidator{}
	p.Profile = prof

	job := AuditJob{
		UserID:     "u1",
		ThreadID:   "t1",
		StartMsgID: "m1",
		EndMsgID:   "m1",
		Messages: []WindowMessage{
			{ID: "m1", Role: "user", Content: "I use Go and PostgreSQL for the gateway backend"},
		},
	}
	require.NoError(t, p.Process(context.Background(), job))
	mems, err := p.Rows.ListMemories(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, mems, 1)
	require.Equal(t, memmodel.Tier3, mems[0].Tier)
	require.Empty(t, prof.calls)
}

func TestCheckStabilityPublishesLatestBatchKeyBeforeEnqueue(t *testing.T) {
	rows := memstore.NewMemoryRowStore()
	require.NoError(t, rows.Init(context.Background()))
	fts := memstore.NewMemoryFTS()
	research := &fakeResearchEnqueuer{}
	b := bus.New(config.RedisConfig{Enabled: false})
	p := NewPipeline(rows, fts, nil, nil, nil, research, b, nil, 0)

	msg := WindowMessage{ID: "m1", Role: "user", Content: "I use Go and PostgreSQL for the gateway backend"}
	job := AuditJob{UserID: "u1", ThreadID: "t1", StartMsgID: "m1", EndMsgID: "m1", Messages: []WindowMessage{msg}}

	require.NoError(t, p.Process(context.Background(), job))
	require.NoError(t, p.Process(context.Background(), job))

	// A disabled bus always misses on Get/Set (§5 degrade-gracefully), so
	// this only proves checkStability calls Bus.Set without panicking
	// before Enqueue; internal/assembler's PollCapsule tests cover the
	// read side of the same key against a live bus.
	require.Len(t, research.jobs, 1)
	require.NotEmpty(t, research.jobs[0].BatchID)
	_, ok := b.Get(context.Background(), bus.LatestBatchKey("t1"))
	require.False(t, ok)
}

type fakeResearchEnqueuer struct {
	jobs []ResearchJob
}

func (f *fakeResearchEnqueuer) Enqueue(ctx context.Context, job ResearchJob) error {
	f.jobs = append(f.jobs, job)
	return nil
}

func TestCadenceTrackerTriggersOnMessageThreshold(t *testing.T) {
	c := NewCadenceTracker(3, 100000, 1000*60*60)
	require.False(t, c.Observe("t1", "u1", "hi"))
	require.False(t, c.Observe("t1", "u1", "hi"))
	require.True(t, c.Observe("t1", "u1", "hi"))
}

func TestQueueProcessesEnqueuedJobs(t *testing.T) {
	p := newTestPipeline(t)
	q := NewQueue(p, 2, 8)
	defer q.Close()

	ok := q.Enqueue(AuditJob{
		UserID:   "u1",
		ThreadID: "t1",
		ExplicitSave: &ExplicitSaveHint{
			Content: "I work at Acme Corp as a platform engineer",
			Tier:    memmodel.Tier1,
		},
	})
	require.True(t, ok)
}
