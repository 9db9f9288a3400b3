package assembler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/manifold-labs/chatmemory/internal/bus"
	"github.com/manifold-labs/chatmemory/internal/memmodel"
)

// DefaultCapsulePollInterval and DefaultCapsulePollBudget implement the
// "every 200ms, for at most 3 seconds or until the first model token
// arrives" window from §4.3's early-window research injection.
const (
	DefaultCapsulePollInterval = 200 * time.Millisecond
	DefaultCapsulePollBudget   = 3 * time.Second
)

// PollCapsule polls the cache bus for a capsule published against threadID
// until one appears, the poll budget elapses, stop fires (the router
// closes this when the first model token arrives), or ctx is canceled. It
// is strictly non-blocking with respect to the provider call: the router
// runs this in its own goroutine and never awaits it before starting the
// stream.
//
// The chat turn that triggers a stability-driven research job (internal/
// ingest.Pipeline.checkStability) and the job's own processing both
// happen off the gateway entirely, so the gateway never learns a batch id
// to poll for directly. Instead it resolves bus.LatestBatchKey(threadID)
// — the pointer the ingest pipeline publishes alongside enqueuing the job
// — on every tick, and only then checks that batch's capsule key. This
// also means a capsule published just after one turn's poll window closes
// can still be picked up by a later turn in the same thread, which is the
// intended fallback per §4.3 rather than a correlation bug.
func PollCapsule(ctx context.Context, b *bus.Bus, threadID string, interval, budget time.Duration, stop <-chan struct{}) (memmodel.Capsule, bool) {
	if b == nil || threadID == "" {
		return memmodel.Capsule{}, false
	}
	if interval <= 0 {
		interval = DefaultCapsulePollInterval
	}
	if budget <= 0 {
		budget = DefaultCapsulePollBudget
	}

	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	probe := func() (memmodel.Capsule, bool) {
		batchID, ok := b.Get(ctx, bus.LatestBatchKey(threadID))
		if !ok || batchID == "" {
			return memmodel.Capsule{}, false
		}
		raw, ok := b.Get(ctx, bus.CapsuleKey(threadID, batchID))
		if !ok {
			return memmodel.Capsule{}, false
		}
		var c memmodel.Capsule
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return memmodel.Capsule{}, false
		}
		return c, true
	}

	for {
		if c, ok := probe(); ok {
			return c, true
		}
		select {
		case <-ticker.C:
			continue
		case <-stop:
			return memmodel.Capsule{}, false
		case <-ctx.Done():
			return memmodel.Capsule{}, false
		}
	}
}
