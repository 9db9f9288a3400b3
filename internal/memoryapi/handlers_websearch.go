package memoryapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/manifold-labs/chatmemory/internal/apperr"
	"github.com/manifold-labs/chatmemory/internal/memmodel"
)

// webSearchHandler serves POST /v1/web-search. The actual fetch is
// delegated to research.SearchBackend, the same collaborator boundary
// Memory.Research's sidecar uses (Non-goal c/e) — this endpoint runs it
// synchronously, in-request, rather than through the Kafka job queue,
// since an interactive web-search turn has a caller waiting on it.
func (a *App) webSearchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if a.WebSearch == nil {
			writeAppErr(w, apperr.UpstreamPermanent("web search backend not configured", nil))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		defer r.Body.Close()

		var in struct {
			Query              string   `json:"query"`
			ThreadID           string   `json:"threadId"`
			ConversationContext []string `json:"conversationContext"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeAppErr(w, apperr.User("invalid request body", err))
			return
		}
		if strings.TrimSpace(in.Query) == "" {
			writeAppErr(w, apperr.User("query is required", nil))
			return
		}
		if len(in.ConversationContext) > 3 {
			in.ConversationContext = in.ConversationContext[len(in.ConversationContext)-3:]
		}

		results, err := a.WebSearch.Search(r.Context(), in.Query, memmodel.RecencyWeek)
		if err != nil {
			writeAppErr(w, apperr.UpstreamTransient("web search failed", err))
			return
		}
		out := make([]map[string]any, 0, len(results))
		for _, res := range results {
			out = append(out, map[string]any{
				"host":  res.Host,
				"date":  res.Date,
				"claim": res.Claim,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"query":               in.Query,
			"conversationContext": in.ConversationContext,
			"results":             out,
		})
	}
}
