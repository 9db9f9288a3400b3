package gatewayapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/manifold-labs/chatmemory/internal/apperr"
)

// threadMessagesHandler serves GET /v1/threads/:id/messages, an explicit
// endpoint that exposes a thread's stored messages so the memory service
// never has to reach into the gateway's database (§9 open question
// decision, spec.md §8 "Gateway-DB path"). Nothing in this build calls
// it: Memory.Ingest receives its audit windows through POST /v1/ingest/turn.
func (a *App) threadMessagesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/v1/threads/")
		id, sub, found := strings.Cut(rest, "/")
		if !found || sub != "messages" || id == "" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		limit := 200
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}

		msgs, err := a.Threads.ListMessages(r.Context(), nil, id, limit)
		if err != nil {
			writeAppErr(w, apperr.Internal("list thread messages failed", err))
			return
		}
		out := make([]map[string]any, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, map[string]any{
				"id":        m.ID,
				"role":      m.Role,
				"content":   m.Content,
				"createdAt": m.CreatedAt.Format(httpTimeFormat),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": out})
	}
}

const httpTimeFormat = "2006-01-02T15:04:05Z07:00"
