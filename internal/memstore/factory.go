package memstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/manifold-labs/chatmemory/internal/config"
)

// Stores bundles the three backends Memory.Ingest/Memory.Recall depend on.
type Stores struct {
	Rows   RowStore
	Search FullTextSearch
	Vector VectorStore
}

func (s Stores) Close() {
	if s.Rows != nil {
		_ = s.Rows.Close()
	}
	if s.Search != nil {
		_ = s.Search.Close()
	}
	if s.Vector != nil {
		_ = s.Vector.Close()
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// NewStores resolves the configured backends, falling back to in-process
// fakes when a backend is "memory"/unset or, under "auto", when a live
// connection can't be established. "postgres"/"qdrant" are hard
// requirements and return an error rather than silently degrading.
func NewStores(ctx context.Context, cfg config.DBConfig) (Stores, error) {
	var out Stores

	searchDSN := firstNonEmpty(cfg.Search.DSN, cfg.DefaultDSN)
	vectorDSN := firstNonEmpty(cfg.Vector.DSN, cfg.DefaultDSN)

	var rowPool *pgxpool.Pool
	switch cfg.Search.Backend {
	case "", "memory":
		out.Search = NewMemoryFTS()
	case "auto":
		if searchDSN != "" {
			if p, err := OpenPool(ctx, searchDSN); err == nil {
				if fts, err := NewPostgresFTS(ctx, p); err == nil {
					out.Search = fts
					rowPool = p
				} else {
					out.Search = NewMemoryFTS()
				}
			} else {
				out.Search = NewMemoryFTS()
			}
		} else {
			out.Search = NewMemoryFTS()
		}
	case "postgres":
		if searchDSN == "" {
			return Stores{}, fmt.Errorf("SEARCH_BACKEND=postgres requires a DSN")
		}
		p, err := OpenPool(ctx, searchDSN)
		if err != nil {
			return Stores{}, fmt.Errorf("connect postgres (search): %w", err)
		}
		fts, err := NewPostgresFTS(ctx, p)
		if err != nil {
			return Stores{}, fmt.Errorf("init postgres fts: %w", err)
		}
		out.Search = fts
		rowPool = p
	default:
		return Stores{}, fmt.Errorf("unsupported search backend: %s", cfg.Search.Backend)
	}

	switch cfg.Vector.Backend {
	case "", "memory":
		out.Vector = NewMemoryVector()
	case "auto":
		if vectorDSN != "" {
			if v, err := NewQdrantVector(ctx, vectorDSN, cfg.Vector.Index, cfg.Vector.Dimensions, cfg.Vector.Metric); err == nil {
				out.Vector = v
			} else {
				out.Vector = NewMemoryVector()
			}
		} else {
			out.Vector = NewMemoryVector()
		}
	case "qdrant":
		if vectorDSN == "" {
			return Stores{}, fmt.Errorf("VECTOR_BACKEND=qdrant requires a DSN")
		}
		v, err := NewQdrantVector(ctx, vectorDSN, cfg.Vector.Index, cfg.Vector.Dimensions, cfg.Vector.Metric)
		if err != nil {
			return Stores{}, fmt.Errorf("connect qdrant: %w", err)
		}
		out.Vector = v
	default:
		return Stores{}, fmt.Errorf("unsupported vector backend: %s", cfg.Vector.Backend)
	}

	if rowPool != nil {
		out.Rows = NewPostgresRowStore(rowPool)
	} else if cfg.DefaultDSN != "" && cfg.Search.Backend != "memory" {
		if p, err := OpenPool(ctx, cfg.DefaultDSN); err == nil {
			out.Rows = NewPostgresRowStore(p)
		}
	}
	if out.Rows == nil {
		out.Rows = NewMemoryRowStore()
	}
	if err := out.Rows.Init(ctx); err != nil {
		return Stores{}, fmt.Errorf("init row store: %w", err)
	}
	return out, nil
}
