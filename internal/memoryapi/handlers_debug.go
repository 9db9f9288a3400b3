package memoryapi

import (
	"net/http"

	"github.com/manifold-labs/chatmemory/internal/apperr"
)

// debugMemoryHandler serves GET /debug/memory?userId=&threadId=, a
// supplemented introspection surface mirroring the cadence/audit state
// the teacher's agentd exposes for its own runs and specialists, scoped
// here to one user's ingest pipeline (SPEC_FULL.md §C).
func (a *App) debugMemoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		userID := userIDFromRequest(r)
		threadID := r.URL.Query().Get("threadId")
		if userID == "" || threadID == "" {
			writeAppErr(w, apperr.User("userId and threadId are required", nil))
			return
		}

		unseenMessages, unseenTokens, lastAuditAt, ok := a.Cadence.State(threadID)
		audits, err := a.Rows.RecentAudits(r.Context(), userID, threadID, 10)
		if err != nil {
			writeAppErr(w, apperr.Internal("list audits failed", err))
			return
		}
		auditOut := make([]map[string]any, 0, len(audits))
		for _, rec := range audits {
			auditOut = append(auditOut, map[string]any{
				"id":        rec.ID,
				"score":     rec.Score,
				"saved":     rec.Saved,
				"createdAt": rec.CreatedAt.Format(httpTimeFormat),
			})
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"cadence": map[string]any{
				"tracked":        ok,
				"unseenMessages": unseenMessages,
				"unseenTokens":   unseenTokens,
				"lastAuditAt":    lastAuditAt.Format(httpTimeFormat),
			},
			"recentAudits": auditOut,
		})
	}
}
