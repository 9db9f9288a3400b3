// Package threadstore is the gateway's own conversation history store:
// chat_sessions and chat_messages, owned exclusively by the gateway per
// the mutation-discipline rule in §5 ("the gateway writes chat messages").
// It also backs the gateway's GET /v1/threads/:id/messages endpoint, which
// exposes stored messages so the memory service never reaches into the
// gateway's database (§9 open question decision); nothing in this build
// calls that endpoint yet, as audit windows arrive via POST /v1/ingest/turn.
package threadstore

import (
	"context"
	"errors"
	"strings"

	"github.com/manifold-labs/chatmemory/internal/memmodel"
)

var (
	ErrNotFound  = errors.New("threadstore: not found")
	ErrForbidden = errors.New("threadstore: forbidden")
)

// Store is the gateway's chat history persistence interface.
type Store interface {
	Init(ctx context.Context) error

	EnsureSession(ctx context.Context, userID *int64, id, name string) (memmodel.ChatSession, error)
	ListSessions(ctx context.Context, userID *int64) ([]memmodel.ChatSession, error)
	GetSession(ctx context.Context, userID *int64, id string) (memmodel.ChatSession, error)
	CreateSession(ctx context.Context, userID *int64, name string) (memmodel.ChatSession, error)
	RenameSession(ctx context.Context, userID *int64, id, name string) (memmodel.ChatSession, error)
	DeleteSession(ctx context.Context, userID *int64, id string) error

	ListMessages(ctx context.Context, userID *int64, sessionID string, limit int) ([]memmodel.ChatMessage, error)
	AppendMessages(ctx context.Context, userID *int64, sessionID string, messages []memmodel.ChatMessage, preview, model string) error
	UpdateSummary(ctx context.Context, userID *int64, sessionID, summary string, summarizedCount int) error

	Close() error
}

func hasAccess(userID *int64, owner *int64) bool {
	if userID == nil {
		return true
	}
	if owner == nil {
		return false
	}
	return *userID == *owner
}

// SnippetForPreview trims content down to the short preview text stored
// alongside a session for list views.
func SnippetForPreview(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ""
	}
	const maxLen = 120
	if len(trimmed) <= maxLen {
		return trimmed
	}
	return trimmed[:maxLen]
}
