package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/manifold-labs/chatmemory/internal/memmodel"
)

// pgRowStore persists the essential-columns schema from §6: memories,
// audits, thread_summaries, user_profiles. It mirrors the teacher's
// delete-then-bulk-insert transaction style for write paths that replace
// a whole aggregate, and single-row upserts elsewhere.
type pgRowStore struct {
	pool *pgxpool.Pool
}

func NewPostgresRowStore(pool *pgxpool.Pool) RowStore { return &pgRowStore{pool: pool} }

func (s *pgRowStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS memories (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  thread_id TEXT NOT NULL DEFAULT '',
  content TEXT NOT NULL,
  entities JSONB NOT NULL DEFAULT '[]'::jsonb,
  priority REAL NOT NULL DEFAULT 0,
  confidence REAL NOT NULL DEFAULT 0,
  tier TEXT NOT NULL CHECK (tier IN ('TIER1','TIER2','TIER3')),
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  last_seen_ts TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  repeats INTEGER NOT NULL DEFAULT 0,
  thread_set JSONB NOT NULL DEFAULT '[]'::jsonb,
  redaction_map JSONB NOT NULL DEFAULT '{}'::jsonb,
  deleted_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS memories_user_updated_idx ON memories(user_id, updated_at DESC);
CREATE INDEX IF NOT EXISTS memories_user_tier_idx ON memories(user_id, tier);

CREATE TABLE IF NOT EXISTS audits (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  thread_id TEXT NOT NULL,
  start_msg_id TEXT NOT NULL DEFAULT '',
  end_msg_id TEXT NOT NULL DEFAULT '',
  score REAL NOT NULL DEFAULT 0,
  saved INTEGER NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS audits_user_thread_created_idx ON audits(user_id, thread_id, created_at DESC);

CREATE TABLE IF NOT EXISTS thread_summaries (
  thread_id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  summary TEXT NOT NULL DEFAULT '',
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS thread_summaries_user_updated_idx ON thread_summaries(user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS user_profiles (
  user_id TEXT PRIMARY KEY,
  payload JSONB NOT NULL DEFAULT '{}'::jsonb,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
	return err
}

func (s *pgRowStore) SaveMemory(ctx context.Context, m memmodel.Memory) error {
	entities, _ := json.Marshal(m.Entities)
	threadSet, _ := json.Marshal(m.ThreadSet)
	redaction, _ := json.Marshal(m.RedactionMap)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	if m.LastSeenTs.IsZero() {
		m.LastSeenTs = m.UpdatedAt
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO memories (id, user_id, thread_id, content, entities, priority, confidence, tier,
                       created_at, updated_at, last_seen_ts, repeats, thread_set, redaction_map, deleted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (id) DO UPDATE SET
  thread_id = EXCLUDED.thread_id,
  content = EXCLUDED.content,
  entities = EXCLUDED.entities,
  priority = EXCLUDED.priority,
  confidence = EXCLUDED.confidence,
  tier = EXCLUDED.tier,
  updated_at = EXCLUDED.updated_at,
  last_seen_ts = EXCLUDED.last_seen_ts,
  repeats = EXCLUDED.repeats,
  thread_set = EXCLUDED.thread_set,
  redaction_map = EXCLUDED.redaction_map,
  deleted_at = EXCLUDED.deleted_at
`, m.ID, m.UserID, m.ThreadID, m.Content, entities, m.Priority, m.Confidence, string(m.Tier),
		m.CreatedAt, m.UpdatedAt, m.LastSeenTs, m.Repeats, threadSet, redaction, m.DeletedAt)
	return err
}

func scanMemory(row pgx.Row) (memmodel.Memory, error) {
	var m memmodel.Memory
	var tier string
	var entities, threadSet, redaction []byte
	if err := row.Scan(&m.ID, &m.UserID, &m.ThreadID, &m.Content, &entities, &m.Priority, &m.Confidence,
		&tier, &m.CreatedAt, &m.UpdatedAt, &m.LastSeenTs, &m.Repeats, &threadSet, &redaction, &m.DeletedAt); err != nil {
		return memmodel.Memory{}, err
	}
	m.Tier = memmodel.Tier(tier)
	_ = json.Unmarshal(entities, &m.Entities)
	_ = json.Unmarshal(threadSet, &m.ThreadSet)
	_ = json.Unmarshal(redaction, &m.RedactionMap)
	return m, nil
}

const memoryColumns = `id, user_id, thread_id, content, entities, priority, confidence, tier,
       created_at, updated_at, last_seen_ts, repeats, thread_set, redaction_map, deleted_at`

func (s *pgRowStore) GetMemory(ctx context.Context, userID, id string) (memmodel.Memory, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id=$1 AND user_id=$2 AND deleted_at IS NULL`, id, userID)
	m, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return memmodel.Memory{}, false, nil
		}
		return memmodel.Memory{}, false, err
	}
	return m, true, nil
}

func (s *pgRowStore) ListMemories(ctx context.Context, userID string) ([]memmodel.Memory, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+memoryColumns+` FROM memories WHERE user_id=$1 AND deleted_at IS NULL ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []memmodel.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *pgRowStore) RecentMemories(ctx context.Context, userID string, limit int) ([]memmodel.Memory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT `+memoryColumns+` FROM memories WHERE user_id=$1 AND deleted_at IS NULL ORDER BY updated_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []memmodel.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *pgRowStore) SoftDeleteMemory(ctx context.Context, userID, id string) error {
	cmd, err := s.pool.Exec(ctx, `UPDATE memories SET deleted_at=NOW() WHERE id=$1 AND user_id=$2 AND deleted_at IS NULL`, id, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("memory not found: %s", id)
	}
	return nil
}

func (s *pgRowStore) AppendAudit(ctx context.Context, a memmodel.AuditRecord) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO audits (id, user_id, thread_id, start_msg_id, end_msg_id, score, saved, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, a.ID, a.UserID, a.ThreadID, a.StartMsgID, a.EndMsgID, a.Score, a.Saved, a.CreatedAt)
	return err
}

func (s *pgRowStore) RecentAudits(ctx context.Context, userID, threadID string, limit int) ([]memmodel.AuditRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, user_id, thread_id, start_msg_id, end_msg_id, score, saved, created_at
FROM audits WHERE user_id=$1 AND thread_id=$2 ORDER BY created_at DESC LIMIT $3`, userID, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []memmodel.AuditRecord
	for rows.Next() {
		var a memmodel.AuditRecord
		if err := rows.Scan(&a.ID, &a.UserID, &a.ThreadID, &a.StartMsgID, &a.EndMsgID, &a.Score, &a.Saved, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *pgRowStore) SaveProfile(ctx context.Context, p memmodel.Profile) error {
	payload, _ := json.Marshal(p)
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO user_profiles (user_id, payload, updated_at) VALUES ($1,$2,$3)
ON CONFLICT (user_id) DO UPDATE SET payload=EXCLUDED.payload, updated_at=EXCLUDED.updated_at
`, p.UserID, payload, p.UpdatedAt)
	return err
}

func (s *pgRowStore) GetProfile(ctx context.Context, userID string) (memmodel.Profile, bool, error) {
	var payload []byte
	var updatedAt time.Time
	err := s.pool.QueryRow(ctx, `SELECT payload, updated_at FROM user_profiles WHERE user_id=$1`, userID).Scan(&payload, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return memmodel.Profile{}, false, nil
		}
		return memmodel.Profile{}, false, err
	}
	var p memmodel.Profile
	if err := json.Unmarshal(payload, &p); err != nil {
		return memmodel.Profile{}, false, err
	}
	p.UserID = userID
	p.UpdatedAt = updatedAt
	return p, true, nil
}

func (s *pgRowStore) SaveThreadSummary(ctx context.Context, sm memmodel.ThreadSummary) error {
	if sm.UpdatedAt.IsZero() {
		sm.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO thread_summaries (thread_id, user_id, summary, updated_at) VALUES ($1,$2,$3,$4)
ON CONFLICT (thread_id) DO UPDATE SET summary=EXCLUDED.summary, updated_at=EXCLUDED.updated_at
`, sm.ThreadID, sm.UserID, sm.Summary, sm.UpdatedAt)
	return err
}

func (s *pgRowStore) GetThreadSummary(ctx context.Context, userID, threadID string) (memmodel.ThreadSummary, bool, error) {
	var sm memmodel.ThreadSummary
	err := s.pool.QueryRow(ctx, `SELECT thread_id, user_id, summary, updated_at FROM thread_summaries WHERE thread_id=$1 AND user_id=$2`, threadID, userID).
		Scan(&sm.ThreadID, &sm.UserID, &sm.Summary, &sm.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return memmodel.ThreadSummary{}, false, nil
		}
		return memmodel.ThreadSummary{}, false, err
	}
	return sm, true, nil
}

func (s *pgRowStore) RecentSummaries(ctx context.Context, userID, excludeThreadID string, limit int) ([]memmodel.ThreadSummary, error) {
	if limit <= 0 {
		limit = 2
	}
	rows, err := s.pool.Query(ctx, `
SELECT thread_id, user_id, summary, updated_at FROM thread_summaries
WHERE user_id=$1 AND thread_id <> $2
ORDER BY updated_at DESC LIMIT $3`, userID, excludeThreadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []memmodel.ThreadSummary
	for rows.Next() {
		var sm memmodel.ThreadSummary
		if err := rows.Scan(&sm.ThreadID, &sm.UserID, &sm.Summary, &sm.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (s *pgRowStore) Close() error {
	s.pool.Close()
	return nil
}
