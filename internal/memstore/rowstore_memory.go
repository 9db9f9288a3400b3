package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/manifold-labs/chatmemory/internal/memmodel"
)

// memoryRowStore is an in-process RowStore used by unit tests and local
// dev without Postgres, mirroring the teacher's sync.RWMutex+map fakes.
type memoryRowStore struct {
	mu        sync.RWMutex
	memories  map[string]memmodel.Memory
	audits    []memmodel.AuditRecord
	profiles  map[string]memmodel.Profile
	summaries map[string]memmodel.ThreadSummary
}

func NewMemoryRowStore() RowStore {
	return &memoryRowStore{
		memories:  make(map[string]memmodel.Memory),
		profiles:  make(map[string]memmodel.Profile),
		summaries: make(map[string]memmodel.ThreadSummary),
	}
}

func (s *memoryRowStore) Init(context.Context) error { return nil }

func (s *memoryRowStore) SaveMemory(_ context.Context, m memmodel.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	m.Entities = copyStrings(m.Entities)
	m.ThreadSet = copyStrings(m.ThreadSet)
	s.memories[m.ID] = m
	return nil
}

func (s *memoryRowStore) GetMemory(_ context.Context, userID, id string) (memmodel.Memory, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memories[id]
	if !ok || m.UserID != userID || m.DeletedAt != nil {
		return memmodel.Memory{}, false, nil
	}
	return m, true, nil
}

func (s *memoryRowStore) ListMemories(_ context.Context, userID string) ([]memmodel.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]memmodel.Memory, 0)
	for _, m := range s.memories {
		if m.UserID == userID && m.DeletedAt == nil {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *memoryRowStore) RecentMemories(ctx context.Context, userID string, limit int) ([]memmodel.Memory, error) {
	out, err := s.ListMemories(ctx, userID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryRowStore) SoftDeleteMemory(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok || m.UserID != userID {
		return fmt.Errorf("memory not found: %s", id)
	}
	now := time.Now().UTC()
	m.DeletedAt = &now
	s.memories[id] = m
	return nil
}

func (s *memoryRowStore) AppendAudit(_ context.Context, a memmodel.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.audits = append(s.audits, a)
	return nil
}

func (s *memoryRowStore) RecentAudits(_ context.Context, userID, threadID string, limit int) ([]memmodel.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]memmodel.AuditRecord, 0)
	for i := len(s.audits) - 1; i >= 0; i-- {
		a := s.audits[i]
		if a.UserID == userID && a.ThreadID == threadID {
			out = append(out, a)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memoryRowStore) SaveProfile(_ context.Context, p memmodel.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	s.profiles[p.UserID] = p
	return nil
}

func (s *memoryRowStore) GetProfile(_ context.Context, userID string) (memmodel.Profile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	return p, ok, nil
}

func (s *memoryRowStore) SaveThreadSummary(_ context.Context, sm memmodel.ThreadSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sm.UpdatedAt.IsZero() {
		sm.UpdatedAt = time.Now().UTC()
	}
	s.summaries[sm.ThreadID] = sm
	return nil
}

func (s *memoryRowStore) GetThreadSummary(_ context.Context, userID, threadID string) (memmodel.ThreadSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sm, ok := s.summaries[threadID]
	if !ok || sm.UserID != userID {
		return memmodel.ThreadSummary{}, false, nil
	}
	return sm, true, nil
}

func (s *memoryRowStore) RecentSummaries(_ context.Context, userID, excludeThreadID string, limit int) ([]memmodel.ThreadSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]memmodel.ThreadSummary, 0)
	for _, sm := range s.summaries {
		if sm.UserID == userID && sm.ThreadID != excludeThreadID {
			out = append(out, sm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryRowStore) Close() error { return nil }
