package threadstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/manifold-labs/chatmemory/internal/memmodel"
	"github.com/manifold-labs/chatmemory/internal/observability"
)

type pgStore struct{ pool *pgxpool.Pool }

func NewPostgresStore(pool *pgxpool.Pool) Store { return &pgStore{pool: pool} }

func (s *pgStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *pgStore) Init(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("postgres thread store requires pool")
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS chat_sessions (
    id UUID PRIMARY KEY,
    name TEXT NOT NULL,
    user_id BIGINT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_message_preview TEXT NOT NULL DEFAULT '',
    model TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    summarized_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS chat_messages (
    id UUID PRIMARY KEY,
    session_id UUID NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS chat_messages_session_created_idx ON chat_messages(session_id, created_at);
CREATE INDEX IF NOT EXISTS chat_sessions_user_updated_idx ON chat_sessions(user_id, updated_at DESC);
CREATE INDEX IF NOT EXISTS chat_sessions_user_created_idx ON chat_sessions(user_id, created_at DESC);
`)
	return err
}

func (s *pgStore) scanSession(row pgx.Row) (memmodel.ChatSession, error) {
	var cs memmodel.ChatSession
	var owner sql.NullInt64
	if err := row.Scan(&cs.ID, &cs.Name, &owner, &cs.CreatedAt, &cs.UpdatedAt, &cs.LastMessagePreview, &cs.Model, &cs.Summary, &cs.SummarizedCount); err != nil {
		return memmodel.ChatSession{}, err
	}
	if owner.Valid {
		v := owner.Int64
		cs.UserID = &v
	}
	return cs, nil
}

func (s *pgStore) lookupSessionOwner(ctx context.Context, id string) (*int64, error) {
	var owner sql.NullInt64
	if err := s.pool.QueryRow(ctx, `SELECT user_id FROM chat_sessions WHERE id = $1`, id).Scan(&owner); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !owner.Valid {
		return nil, nil
	}
	v := owner.Int64
	return &v, nil
}

func (s *pgStore) EnsureSession(ctx context.Context, userID *int64, id, name string) (memmodel.ChatSession, error) {
	if strings.TrimSpace(id) == "" {
		return memmodel.ChatSession{}, errors.New("id required")
	}
	if strings.TrimSpace(name) == "" {
		name = "New Chat"
	}
	var uid any
	if userID != nil {
		uid = *userID
	}
	row := s.pool.QueryRow(ctx, `
WITH ins AS (
  INSERT INTO chat_sessions (id, user_id, name)
  VALUES ($1, $2, $3)
  ON CONFLICT (id) DO NOTHING
  RETURNING id, name, user_id, created_at, updated_at, last_message_preview, model, summary, summarized_count
)
SELECT id, name, user_id, created_at, updated_at, last_message_preview, model, summary, summarized_count FROM ins
UNION ALL
SELECT id, name, user_id, created_at, updated_at, last_message_preview, model, summary, summarized_count FROM chat_sessions WHERE id = $1
LIMIT 1`, id, uid, name)
	cs, err := s.scanSession(row)
	if err != nil {
		return memmodel.ChatSession{}, err
	}
	if !hasAccess(userID, cs.UserID) {
		return memmodel.ChatSession{}, ErrForbidden
	}
	return cs, nil
}

func (s *pgStore) ListSessions(ctx context.Context, userID *int64) ([]memmodel.ChatSession, error) {
	query := `SELECT id, name, user_id, created_at, updated_at, last_message_preview, model, summary, summarized_count FROM chat_sessions`
	args := []any{}
	if userID != nil {
		query += ` WHERE user_id = $1`
		args = append(args, *userID)
	}
	query += ` ORDER BY updated_at DESC, created_at DESC`
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]memmodel.ChatSession, 0)
	for rows.Next() {
		cs, err := s.scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (s *pgStore) GetSession(ctx context.Context, userID *int64, id string) (memmodel.ChatSession, error) {
	log := observability.LoggerWithTrace(ctx)
	query := `SELECT id, name, user_id, created_at, updated_at, last_message_preview, model, summary, summarized_count FROM chat_sessions WHERE id = $1`
	args := []any{id}
	if userID != nil {
		query += ` AND user_id = $2`
		args = append(args, *userID)
	}
	row := s.pool.QueryRow(ctx, query, args...)
	cs, err := s.scanSession(row)
	if err == nil {
		return cs, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		log.Error().Err(err).Str("session_id", id).Msg("get_session_error")
		return memmodel.ChatSession{}, err
	}
	if userID == nil {
		return memmodel.ChatSession{}, ErrNotFound
	}
	owner, ownerErr := s.lookupSessionOwner(ctx, id)
	if ownerErr != nil {
		return memmodel.ChatSession{}, ownerErr
	}
	if !hasAccess(userID, owner) {
		return memmodel.ChatSession{}, ErrForbidden
	}
	return memmodel.ChatSession{}, ErrNotFound
}

func (s *pgStore) CreateSession(ctx context.Context, userID *int64, name string) (memmodel.ChatSession, error) {
	if strings.TrimSpace(name) == "" {
		name = "New Chat"
	}
	id := uuid.New()
	var uid any
	if userID != nil {
		uid = *userID
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO chat_sessions (id, user_id, name) VALUES ($1, $2, $3)
RETURNING id, name, user_id, created_at, updated_at, last_message_preview, model, summary, summarized_count`, id, uid, name)
	return s.scanSession(row)
}

func (s *pgStore) RenameSession(ctx context.Context, userID *int64, id, name string) (memmodel.ChatSession, error) {
	if strings.TrimSpace(name) == "" {
		return memmodel.ChatSession{}, errors.New("name required")
	}
	query := `UPDATE chat_sessions SET name = $2, updated_at = NOW() WHERE id = $1`
	args := []any{id, name}
	if userID != nil {
		query += ` AND user_id = $3`
		args = append(args, *userID)
	}
	query += ` RETURNING id, name, user_id, created_at, updated_at, last_message_preview, model, summary, summarized_count`
	cs, err := s.scanSession(s.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return cs, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return memmodel.ChatSession{}, err
	}
	if userID == nil {
		return memmodel.ChatSession{}, ErrNotFound
	}
	owner, ownerErr := s.lookupSessionOwner(ctx, id)
	if ownerErr != nil {
		return memmodel.ChatSession{}, ownerErr
	}
	if !hasAccess(userID, owner) {
		return memmodel.ChatSession{}, ErrForbidden
	}
	return memmodel.ChatSession{}, ErrNotFound
}

func (s *pgStore) DeleteSession(ctx context.Context, userID *int64, id string) error {
	query := `DELETE FROM chat_sessions WHERE id = $1`
	args := []any{id}
	if userID != nil {
		query += ` AND user_id = $2`
		args = append(args, *userID)
	}
	cmd, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() > 0 {
		return nil
	}
	if userID == nil {
		return ErrNotFound
	}
	owner, ownerErr := s.lookupSessionOwner(ctx, id)
	if ownerErr != nil {
		return ownerErr
	}
	if !hasAccess(userID, owner) {
		return ErrForbidden
	}
	return ErrNotFound
}

func (s *pgStore) ListMessages(ctx context.Context, userID *int64, sessionID string, limit int) ([]memmodel.ChatMessage, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	query := `
SELECT id, session_id, role, content, created_at
FROM chat_messages WHERE session_id = $1 ORDER BY created_at ASC, id ASC`
	args := []any{sessionID}
	if limit > 0 {
		query = `
SELECT id, session_id, role, content, created_at FROM (
    SELECT id, session_id, role, content, created_at
    FROM chat_messages WHERE session_id = $1
    ORDER BY created_at DESC, id DESC LIMIT $2
) sub ORDER BY created_at ASC, id ASC`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]memmodel.ChatMessage, 0)
	for rows.Next() {
		var msg memmodel.ChatMessage
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *pgStore) AppendMessages(ctx context.Context, userID *int64, sessionID string, messages []memmodel.ChatMessage, preview, model string) error {
	if len(messages) == 0 {
		return nil
	}
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, message := range messages {
		id := message.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := message.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO chat_messages (id, session_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
			id, sessionID, message.Role, message.Content, createdAt); err != nil {
			return err
		}
	}

	modelUpdate := strings.TrimSpace(model)
	query := `
UPDATE chat_sessions SET updated_at = NOW(), last_message_preview = $2,
    model = CASE WHEN $3 = '' THEN model ELSE $3 END WHERE id = $1`
	args := []any{sessionID, preview, modelUpdate}
	if userID != nil {
		query += ` AND user_id = $4`
		args = append(args, *userID)
	}
	cmd, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrForbidden
	}
	return tx.Commit(ctx)
}

func (s *pgStore) UpdateSummary(ctx context.Context, userID *int64, sessionID, summary string, summarizedCount int) error {
	query := `UPDATE chat_sessions SET summary = $2, summarized_count = $3, updated_at = NOW() WHERE id = $1`
	args := []any{sessionID, summary, summarizedCount}
	if userID != nil {
		query += ` AND user_id = $4`
		args = append(args, *userID)
	}
	cmd, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() > 0 {
		return nil
	}
	if userID == nil {
		return ErrNotFound
	}
	owner, ownerErr := s.lookupSessionOwner(ctx, sessionID)
	if ownerErr != nil {
		return ownerErr
	}
	if !hasAccess(userID, owner) {
		return ErrForbidden
	}
	return ErrNotFound
}
