package memoryapi

import (
	"net/http"
	"strconv"

	"github.com/manifold-labs/chatmemory/internal/apperr"
)

// profileHandler serves GET /v1/profile.
func (a *App) profileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		userID := userIDFromRequest(r)
		if userID == "" {
			writeAppErr(w, apperr.User("userId is required", nil))
			return
		}
		p, err := a.Profile.Get(r.Context(), userID)
		if err != nil {
			writeAppErr(w, apperr.Internal("derive profile failed", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"userId":             p.UserID,
			"techStack":          p.TechStack,
			"domains":            p.Domains,
			"expertiseLevel":     p.ExpertiseLevel,
			"communicationStyle": p.CommunicationStyle,
			"updatedAt":          p.UpdatedAt.Format(httpTimeFormat),
		})
	}
}

// conversationsHandler serves GET /v1/conversations?userId=&excludeThreadId=&limit=.
func (a *App) conversationsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		userID := userIDFromRequest(r)
		if userID == "" {
			writeAppErr(w, apperr.User("userId is required", nil))
			return
		}
		limit := 5
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		summaries, err := a.Rows.RecentSummaries(r.Context(), userID, r.URL.Query().Get("excludeThreadId"), limit)
		if err != nil {
			writeAppErr(w, apperr.Internal("list conversations failed", err))
			return
		}
		out := make([]map[string]any, 0, len(summaries))
		for _, s := range summaries {
			out = append(out, map[string]any{
				"threadId":  s.ThreadID,
				"summary":   s.Summary,
				"updatedAt": s.UpdatedAt.Format(httpTimeFormat),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
	}
}
