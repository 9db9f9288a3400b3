package threadstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/manifold-labs/chatmemory/internal/memmodel"
)

type memStore struct {
	mu       sync.RWMutex
	sessions map[string]memmodel.ChatSession
	messages map[string][]memmodel.ChatMessage
}

func NewMemoryStore() Store {
	return &memStore{
		sessions: make(map[string]memmodel.ChatSession),
		messages: make(map[string][]memmodel.ChatMessage),
	}
}

func (s *memStore) Init(context.Context) error { return nil }
func (s *memStore) Close() error                { return nil }

func (s *memStore) EnsureSession(_ context.Context, userID *int64, id, name string) (memmodel.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cs, ok := s.sessions[id]; ok {
		if !hasAccess(userID, cs.UserID) {
			return memmodel.ChatSession{}, ErrForbidden
		}
		return cs, nil
	}
	if name == "" {
		name = "New Chat"
	}
	now := time.Now().UTC()
	cs := memmodel.ChatSession{ID: id, UserID: userID, Name: name, CreatedAt: now, UpdatedAt: now}
	s.sessions[id] = cs
	return cs, nil
}

func (s *memStore) ListSessions(_ context.Context, userID *int64) ([]memmodel.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]memmodel.ChatSession, 0)
	for _, cs := range s.sessions {
		if hasAccess(userID, cs.UserID) && (userID == nil || (cs.UserID != nil && *cs.UserID == *userID)) {
			out = append(out, cs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *memStore) GetSession(_ context.Context, userID *int64, id string) (memmodel.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.sessions[id]
	if !ok {
		return memmodel.ChatSession{}, ErrNotFound
	}
	if !hasAccess(userID, cs.UserID) {
		return memmodel.ChatSession{}, ErrForbidden
	}
	return cs, nil
}

func (s *memStore) CreateSession(_ context.Context, userID *int64, name string) (memmodel.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == "" {
		name = "New Chat"
	}
	now := time.Now().UTC()
	cs := memmodel.ChatSession{ID: uuid.NewString(), UserID: userID, Name: name, CreatedAt: now, UpdatedAt: now}
	s.sessions[cs.ID] = cs
	return cs, nil
}

func (s *memStore) RenameSession(_ context.Context, userID *int64, id, name string) (memmodel.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[id]
	if !ok {
		return memmodel.ChatSession{}, ErrNotFound
	}
	if !hasAccess(userID, cs.UserID) {
		return memmodel.ChatSession{}, ErrForbidden
	}
	cs.Name = name
	cs.UpdatedAt = time.Now().UTC()
	s.sessions[id] = cs
	return cs, nil
}

func (s *memStore) DeleteSession(_ context.Context, userID *int64, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if !hasAccess(userID, cs.UserID) {
		return ErrForbidden
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

func (s *memStore) ListMessages(_ context.Context, userID *int64, sessionID string, limit int) ([]memmodel.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if !hasAccess(userID, cs.UserID) {
		return nil, ErrForbidden
	}
	msgs := s.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]memmodel.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *memStore) AppendMessages(_ context.Context, userID *int64, sessionID string, messages []memmodel.ChatMessage, preview, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if !hasAccess(userID, cs.UserID) {
		return ErrForbidden
	}
	for _, m := range messages {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		s.messages[sessionID] = append(s.messages[sessionID], m)
	}
	cs.UpdatedAt = time.Now().UTC()
	cs.LastMessagePreview = preview
	if model != "" {
		cs.Model = model
	}
	s.sessions[sessionID] = cs
	return nil
}

func (s *memStore) UpdateSummary(_ context.Context, userID *int64, sessionID, summary string, summarizedCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if !hasAccess(userID, cs.UserID) {
		return ErrForbidden
	}
	cs.Summary = summary
	cs.SummarizedCount = summarizedCount
	cs.UpdatedAt = time.Now().UTC()
	s.sessions[sessionID] = cs
	return nil
}
