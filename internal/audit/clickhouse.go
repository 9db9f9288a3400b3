// Package audit persists AuditRecords to ClickHouse for durable, queryable
// aggregate observability — an append-only analytical sink alongside the
// row-store copy Memory.Ingest keeps for the recall/dedup candidate set,
// following the teacher's OTel-schema ClickHouse tables in
// internal/agentd/clickhouse_schema.go.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/manifold-labs/chatmemory/internal/config"
	"github.com/manifold-labs/chatmemory/internal/memmodel"
)

// Sink writes audit records to ClickHouse. A nil Sink (DSN unset) is safe
// to call and simply no-ops, matching bus's degrade-to-nil pattern — audit
// analytics is a durability/observability concern, never a correctness one.
type Sink struct {
	conn  clickhouse.Conn
	table string
}

// NewSink connects to ClickHouse and ensures the audits table exists. When
// cfg.DSN is empty, it returns a non-nil *Sink with no connection: Append
// becomes a no-op.
func NewSink(ctx context.Context, cfg config.ClickHouseConfig) (*Sink, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		log.Warn().Msg("audit_clickhouse_disabled")
		return &Sink{}, nil
	}

	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: parse clickhouse dsn: %w", err)
	}
	if cfg.Database != "" {
		opts.Auth.Database = cfg.Database
	} else if opts.Auth.Database == "" {
		opts.Auth.Database = "chatmemory"
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("audit: open clickhouse connection: %w", err)
	}

	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		table = "audits"
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dbName := opts.Auth.Database
	if err := conn.Exec(ctxTimeout, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", dbName)); err != nil {
		return nil, fmt.Errorf("audit: create database %s: %w", dbName, err)
	}
	if err := ensureAuditsTable(ctxTimeout, conn, dbName, table); err != nil {
		return nil, fmt.Errorf("audit: ensure table %s: %w", table, err)
	}

	return &Sink{conn: conn, table: fmt.Sprintf("%s.%s", dbName, table)}, nil
}

func ensureAuditsTable(ctx context.Context, conn clickhouse.Conn, db, table string) error {
	sql := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.%s (
	Id String,
	UserId String,
	ThreadId String,
	StartMsgId String,
	EndMsgId String,
	Score Float64,
	Saved UInt32,
	CreatedAt DateTime64(3)
) ENGINE = MergeTree()
ORDER BY (UserId, CreatedAt)
TTL CreatedAt + INTERVAL 180 DAY
SETTINGS index_granularity = 8192
`, db, table)
	if err := conn.Exec(ctx, sql); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return err
		}
	}
	return nil
}

// Append writes one audit record. On failure it logs a warning and returns: a
// dropped analytics row never fails the ingest turn it's reporting on.
func (s *Sink) Append(ctx context.Context, a memmodel.AuditRecord) {
	if s == nil || s.conn == nil {
		return
	}
	err := s.conn.Exec(ctx, fmt.Sprintf(`INSERT INTO %s
		(Id, UserId, ThreadId, StartMsgId, EndMsgId, Score, Saved, CreatedAt) VALUES`, s.table),
		a.ID, a.UserID, a.ThreadID, a.StartMsgID, a.EndMsgID, a.Score, uint32(a.Saved), a.CreatedAt)
	if err != nil {
		log.Warn().Err(err).Str("audit_id", a.ID).Msg("audit_clickhouse_append_failed")
	}
}

// Close releases the underlying connection, if any.
func (s *Sink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
