package memstore

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// pgFTS is the Postgres-backed keyword index: memories_fts, kept separate
// from the memories row table per §6 ("external full-text index
// synchronized with memories; drift detection rebuilds on read path").
type pgFTS struct{ pool *pgxpool.Pool }

func NewPostgresFTS(ctx context.Context, pool *pgxpool.Pool) (FullTextSearch, error) {
	_, _ = pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS pg_trgm`)
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS memories_fts (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  content TEXT NOT NULL,
  ts tsvector GENERATED ALWAYS AS (to_tsvector('simple', coalesce(content,''))) STORED
);
CREATE INDEX IF NOT EXISTS memories_fts_ts_idx ON memories_fts USING GIN (ts);
CREATE INDEX IF NOT EXISTS memories_fts_user_idx ON memories_fts (user_id);
`)
	if err != nil {
		return nil, err
	}
	return &pgFTS{pool: pool}, nil
}

func (p *pgFTS) Index(ctx context.Context, id, userID, content string) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO memories_fts(id, user_id, content) VALUES($1,$2,$3)
ON CONFLICT (id) DO UPDATE SET content=EXCLUDED.content, user_id=EXCLUDED.user_id
`, id, userID, content)
	return err
}

func (p *pgFTS) Remove(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM memories_fts WHERE id=$1`, id)
	return err
}

// Search prefers websearch_to_tsquery (handles quoted phrases and bare
// keywords the way Memory.Recall's query builder produces them) and falls
// back to plainto_tsquery when the websearch parser rejects the input.
func (p *pgFTS) Search(ctx context.Context, userID, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	rows, err := p.queryWith(ctx, "websearch_to_tsquery", userID, q, limit)
	if err == nil {
		return rows, nil
	}
	return p.queryWith(ctx, "plainto_tsquery", userID, q, limit)
}

func (p *pgFTS) queryWith(ctx context.Context, fn, userID, q string, limit int) ([]SearchResult, error) {
	stmt := `
SELECT id, ts_rank(ts, ` + fn + `('simple', $2)) AS score, left(content, 160) AS snippet
FROM memories_fts
WHERE user_id = $1 AND ts @@ ` + fn + `('simple', $2)
ORDER BY score DESC
LIMIT $3`
	rows, err := p.pool.Query(ctx, stmt, userID, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]SearchResult, 0, limit)
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Score, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountRows reports how many rows memories_fts currently carries for a
// user, used by Memory.Recall's drift check against the primary table.
func (p *pgFTS) CountRows(ctx context.Context, userID string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM memories_fts WHERE user_id=$1`, userID).Scan(&n)
	return n, err
}

func (p *pgFTS) Close() error { p.pool.Close(); return nil }
