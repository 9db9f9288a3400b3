// Package memoryapi is the Memory Service's internal HTTP surface (§6):
// explicit save, recall, profile, conversations, web-search, and the
// admin/debug introspection endpoints. Every handler trusts the
// x-user-id header propagated by the gateway rather than verifying a
// bearer token itself — token verification happens once, at the
// gateway's edge.
package memoryapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/manifold-labs/chatmemory/internal/apperr"
	"github.com/manifold-labs/chatmemory/internal/bus"
	"github.com/manifold-labs/chatmemory/internal/ingest"
	"github.com/manifold-labs/chatmemory/internal/memstore"
	"github.com/manifold-labs/chatmemory/internal/profile"
	"github.com/manifold-labs/chatmemory/internal/recall"
	"github.com/manifold-labs/chatmemory/internal/research"
	"github.com/manifold-labs/chatmemory/internal/summary"
)

// App holds every dependency a Memory Service handler needs.
type App struct {
	Rows     memstore.RowStore
	FTS      memstore.FullTextSearch
	Bus      *bus.Bus
	Pipeline *ingest.Pipeline
	Cadence  *ingest.CadenceTracker
	Window   *ingest.WindowBuffer
	Queue    *ingest.Queue
	Recall   *recall.Engine
	Profile  *profile.Service
	Summary  *summary.Service

	// WebSearch is the synchronous collaborator boundary (Non-goal c/e)
	// backing POST /v1/web-search. Nil disables the endpoint.
	WebSearch research.SearchBackend

	RecallDeadlineDefaultMS int
	RecallDeadlineMaxMS     int
}

// New constructs an App.
func New(rows memstore.RowStore, fts memstore.FullTextSearch, b *bus.Bus, pipeline *ingest.Pipeline, cadence *ingest.CadenceTracker, queue *ingest.Queue, rec *recall.Engine, prof *profile.Service, summ *summary.Service, webSearch research.SearchBackend, recallDefaultMS, recallMaxMS int) *App {
	return &App{
		Rows: rows, FTS: fts, Bus: b,
		Pipeline: pipeline, Cadence: cadence, Window: ingest.NewWindowBuffer(), Queue: queue,
		Recall: rec, Profile: prof, Summary: summ,
		WebSearch:               webSearch,
		RecallDeadlineDefaultMS: recallDefaultMS,
		RecallDeadlineMaxMS:     recallMaxMS,
	}
}

// Router builds the Memory Service's http.ServeMux.
func (a *App) Router() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ready")
	})

	mux.HandleFunc("/v1/memories", a.memoriesCollectionHandler())
	mux.HandleFunc("/v1/memories/", a.memoryDetailHandler())
	mux.HandleFunc("/v1/recall", a.recallHandler())
	mux.HandleFunc("/v1/profile", a.profileHandler())
	mux.HandleFunc("/v1/conversations", a.conversationsHandler())
	mux.HandleFunc("/v1/web-search", a.webSearchHandler())

	// Internal: the gateway calls this once per assistant turn to feed
	// Memory.Ingest's cadence tracker (§4.1 "Trigger"). Not part of §6's
	// named surface, which only lists the endpoints a client composes a
	// response from; this is the wiring §4.1 implies but never names.
	mux.HandleFunc("/v1/ingest/turn", a.ingestTurnHandler())

	mux.HandleFunc("/debug/memory", a.debugMemoryHandler())

	return mux
}

func userIDFromRequest(r *http.Request) string {
	if v := r.Header.Get("x-user-id"); v != "" {
		return v
	}
	return r.URL.Query().Get("userId")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("memoryapi_encode_response_failed")
	}
}

func writeAppErr(w http.ResponseWriter, err error) {
	e := apperr.As(err)
	if e.Kind.HTTPStatus() >= 500 {
		log.Error().Err(e.Cause).Str("message", e.Message).Msg("memoryapi_internal_error")
	}
	writeJSON(w, e.Kind.HTTPStatus(), map[string]string{"error": e.Message})
}
