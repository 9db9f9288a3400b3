package profile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/manifold-labs/chatmemory/internal/memmodel"
)

func TestDeriveIgnoresTier3(t *testing.T) {
	p := Derive("u1", []memmodel.Memory{
		{Tier: memmodel.Tier3, Content: "I use Go and Kubernetes all the time"},
	})
	require.Empty(t, p.TechStack)
}

func TestDeriveExtractsTechStack(t *testing.T) {
	p := Derive("u1", []memmodel.Memory{
		{Tier: memmodel.Tier1, Content: "I use Go and PostgreSQL for my backend API"},
		{Tier: memmodel.Tier2, Content: "I also use Redis for caching in the backend"},
	})
	require.Contains(t, p.TechStack, "go")
	require.Contains(t, p.TechStack, "postgresql")
	require.Contains(t, p.Domains, "backend")
}

func TestExpertiseLevelScalesWithMemoryCount(t *testing.T) {
	var mems []memmodel.Memory
	for i := 0; i < 20; i++ {
		mems = append(mems, memmodel.Memory{Tier: memmodel.Tier2, Content: "some durable fact about preferences"})
	}
	p := Derive("u1", mems)
	require.Equal(t, "expert", p.ExpertiseLevel)
}
