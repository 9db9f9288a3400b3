package research

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/manifold-labs/chatmemory/internal/bus"
	"github.com/manifold-labs/chatmemory/internal/config"
	"github.com/manifold-labs/chatmemory/internal/memmodel"
)

type fakeBackend struct {
	results []RawResult
	err     error
	calls   int
}

func (f *fakeBackend) Search(ctx context.Context, query string, freshness memmodel.RecencyHint) ([]RawResult, error) {
	f.calls++
	return f.results, f.err
}

func TestRerankOrdersByWeightedScore(t *testing.T) {
	results := []RawResult{
		{Host: "low.example", Claim: "a weak claim", Topically: 0.3, Authority: 0.2},
		{Host: "high.example", Claim: "a strong claim", Topically: 0.9, Authority: 0.9},
	}
	ranked := Rerank(results, memmodel.RecencyDay, 0)
	require.Equal(t, "high.example", ranked[0].Host)
}

func TestComposeEnforcesClaimCap(t *testing.T) {
	var results []RawResult
	for i := 0; i < 10; i++ {
		results = append(results, RawResult{Host: "site.example", Claim: "claim text", Topically: 0.8, Authority: 0.8})
	}
	c := Compose("batch-1", "topic", memmodel.TTLGeneral, memmodel.RecencyWeek, results)
	require.LessOrEqual(t, len(c.Claims), memmodel.CapsuleMaxClaims)
	require.LessOrEqual(t, len(c.Sources), memmodel.CapsuleMaxSources)
}

func TestComposeConfidenceHighWithMultipleHosts(t *testing.T) {
	results := []RawResult{
		{Host: "a.example", Claim: "claim a", Topically: 0.8, Authority: 0.8},
		{Host: "b.example", Claim: "claim b", Topically: 0.8, Authority: 0.8},
	}
	c := Compose("batch-2", "topic", memmodel.TTLGeneral, memmodel.RecencyWeek, results)
	require.Equal(t, memmodel.ConfidenceHigh, c.Confidence)
}

func TestComposeConfidenceMedSingleHost(t *testing.T) {
	results := []RawResult{
		{Host: "a.example", Claim: "claim a", Topically: 0.8, Authority: 0.8},
	}
	c := Compose("batch-3", "topic", memmodel.TTLGeneral, memmodel.RecencyWeek, results)
	require.Equal(t, memmodel.ConfidenceMed, c.Confidence)
}

func TestSidecarPublishesAndCachesCapsule(t *testing.T) {
	b := bus.New(config.RedisConfig{Enabled: false})
	backend := &fakeBackend{results: []RawResult{
		{Host: "a.example", Claim: "claim a", Topically: 0.9, Authority: 0.9},
		{Host: "b.example", Claim: "claim b", Topically: 0.8, Authority: 0.8},
	}}
	s := NewSidecar(b, backend, nil)

	err := s.Run(context.Background(), Job{
		UserID: "u1", ThreadID: "t1", Topic: "kubernetes operators",
		TTLClass: memmodel.TTLGeneral, RecencyHint: memmodel.RecencyWeek, BatchID: "batch-x",
	})
	require.NoError(t, err)
	require.Equal(t, 1, backend.calls)
}

func TestSidecarNilBackendRemembersMiss(t *testing.T) {
	b := bus.New(config.RedisConfig{Enabled: false})
	s := NewSidecar(b, nil, nil)
	err := s.Run(context.Background(), Job{
		UserID: "u1", ThreadID: "t1", Topic: "some topic",
		TTLClass: memmodel.TTLGeneral, RecencyHint: memmodel.RecencyWeek, BatchID: "batch-y",
	})
	require.NoError(t, err)
}
