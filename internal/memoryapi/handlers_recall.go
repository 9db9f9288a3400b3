package memoryapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/manifold-labs/chatmemory/internal/apperr"
	"github.com/manifold-labs/chatmemory/internal/recall"
)

// recallHandler serves GET /v1/recall?userId=&threadId=&query=&maxItems=&deadlineMs=.
func (a *App) recallHandler() http.HandlerFunc {
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
		q := r.URL.Query()
		maxItems := 10
		if v := q.Get("maxItems"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				maxItems = n
			}
		}
		// An absent deadlineMs uses the configured RecallDeadlineDefaultMS.
		// An explicit deadlineMs passes through, including 0, which Recall
		// treats as "return empty immediately". An unparsable or negative
		// value leaves -1 ("not supplied"), and Recall substitutes its default.
		deadline := time.Duration(-1)
		if v := q.Get("deadlineMs"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				deadline = time.Duration(n) * time.Millisecond
			}
		} else {
			deadline = time.Duration(a.RecallDeadlineDefaultMS) * time.Millisecond
		}
		if max := time.Duration(a.RecallDeadlineMaxMS) * time.Millisecond; max > 0 && deadline > max {
			deadline = max
		}

		mems, err := a.Recall.Recall(r.Context(), recall.Request{
			UserID:   userID,
			ThreadID: q.Get("threadId"),
			Query:    q.Get("query"),
			MaxItems: maxItems,
			Deadline: deadline,
		})
		if err != nil {
			writeAppErr(w, apperr.Internal("recall failed", err))
			return
		}
		out := make([]memoryDTO, 0, len(mems))
		for _, m := range mems {
			out = append(out, toMemoryDTO(m))
		}
		writeJSON(w, http.StatusOK, map[string]any{"memories": out})
	}
}
