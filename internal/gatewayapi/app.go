// Package gatewayapi is the Gateway's authenticated HTTP/SSE surface
// (§6): streaming chat turns, thread history, and the artifact-gatekeeper
// collaborator boundary.
package gatewayapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/manifold-labs/chatmemory/internal/apperr"
	"github.com/manifold-labs/chatmemory/internal/assembler"
	"github.com/manifold-labs/chatmemory/internal/authn"
	"github.com/manifold-labs/chatmemory/internal/bus"
	"github.com/manifold-labs/chatmemory/internal/config"
	"github.com/manifold-labs/chatmemory/internal/router"
	"github.com/manifold-labs/chatmemory/internal/threadstore"
)

// App holds every dependency a gateway handler needs.
type App struct {
	Assembler *assembler.Assembler
	Router    *router.Router
	Threads   threadstore.Store
	Auth      *authn.Verifier
	Bus       *bus.Bus

	// MemoryHTTP posts the per-turn ingest notification to the memory
	// service's internal /v1/ingest/turn endpoint (§4.1 "Trigger").
	MemoryHTTP       *http.Client
	MemoryServiceURL string

	Tuning config.ContextTuning
}

// New constructs an App.
func New(asm *assembler.Assembler, r *router.Router, threads threadstore.Store, auth *authn.Verifier, b *bus.Bus, memoryHTTP *http.Client, memoryServiceURL string, tuning config.ContextTuning) *App {
	return &App{
		Assembler: asm, Router: r, Threads: threads, Auth: auth, Bus: b,
		MemoryHTTP: memoryHTTP, MemoryServiceURL: memoryServiceURL,
		Tuning: tuning,
	}
}

// NewMux builds the gateway's http.ServeMux.
func NewMux(a *App) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ready")
	})

	chat := a.chatStreamHandler()
	threadMessages := a.threadMessagesHandler()
	artifacts := a.artifactsGatekeeperHandler()

	if a.Auth != nil {
		mux.Handle("/v1/chat/stream", a.Auth.Middleware(chat))
		mux.Handle("/v1/threads/", a.Auth.Middleware(threadMessages))
		mux.Handle("/api/artifacts/gatekeeper", a.Auth.Middleware(artifacts))
	} else {
		mux.HandleFunc("/v1/chat/stream", chat)
		mux.HandleFunc("/v1/threads/", threadMessages)
		mux.HandleFunc("/api/artifacts/gatekeeper", artifacts)
	}

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("gatewayapi_encode_response_failed")
	}
}

func writeAppErr(w http.ResponseWriter, err error) {
	e := apperr.As(err)
	if e.Kind.HTTPStatus() >= 500 {
		log.Error().Err(e.Cause).Str("message", e.Message).Msg("gatewayapi_internal_error")
	}
	writeJSON(w, e.Kind.HTTPStatus(), map[string]string{"error": e.Message})
}
