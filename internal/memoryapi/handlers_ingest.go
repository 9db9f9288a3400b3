package memoryapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/manifold-labs/chatmemory/internal/apperr"
	"github.com/manifold-labs/chatmemory/internal/dedup"
	"github.com/manifold-labs/chatmemory/internal/ingest"
)

// ingestTurnHandler serves the internal POST /v1/ingest/turn endpoint the
// gateway calls once per assistant turn (§4.1 "Trigger"). It feeds the
// cadence tracker and, once a window is frozen, hands it to the bounded
// audit queue — never blocking the caller on the audit pipeline itself.
func (a *App) ingestTurnHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		defer r.Body.Close()

		var in struct {
			UserID   string `json:"userId"`
			ThreadID string `json:"threadId"`
			Messages []struct {
				ID      string `json:"id"`
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeAppErr(w, apperr.User("invalid request body", err))
			return
		}
		if in.UserID == "" || in.ThreadID == "" {
			writeAppErr(w, apperr.User("userId and threadId are required", nil))
			return
		}

		var startMsgID string
		triggered := false
		for _, msg := range in.Messages {
			if startMsgID == "" {
				startMsgID = msg.ID
			}
			wm := ingest.WindowMessage{ID: msg.ID, Role: msg.Role, Content: msg.Content}
			a.Window.Append(in.ThreadID, wm)
			if a.Cadence.Observe(in.ThreadID, in.UserID, msg.Content) {
				triggered = true
			}
		}

		if !triggered {
			writeJSON(w, http.StatusAccepted, map[string]any{"auditTriggered": false})
			return
		}

		window := a.Window.Freeze(in.ThreadID)
		var endMsgID string
		if len(window) > 0 {
			endMsgID = window[len(window)-1].ID
		}
		topics := dominantTopics(window)
		a.Cadence.Reset(in.ThreadID, topics)

		job := ingest.AuditJob{
			UserID:     in.UserID,
			ThreadID:   in.ThreadID,
			StartMsgID: startMsgID,
			EndMsgID:   endMsgID,
			Messages:   window,
		}
		if !a.Queue.Enqueue(job) {
			log.Warn().Str("user_id", in.UserID).Str("thread_id", in.ThreadID).Msg("ingest_turn_queue_full")
		}
		if a.Summary != nil {
			if _, err := a.Summary.MaybeRegenerate(r.Context(), in.UserID, in.ThreadID, len(window), windowContents(window)); err != nil {
				log.Warn().Err(err).Str("user_id", in.UserID).Str("thread_id", in.ThreadID).Msg("ingest_turn_summary_regen_failed")
			}
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"auditTriggered": true})
	}
}

// windowContents extracts the ordered user/assistant message bodies from a
// frozen window for summary.Service.MaybeRegenerate to fold into the
// thread's running summary (§3, §4.3 step 4).
func windowContents(window []ingest.WindowMessage) []string {
	out := make([]string, 0, len(window))
	for _, m := range window {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		out = append(out, m.Content)
	}
	return out
}

// dominantTopics is a light pre-pass only used to log/refresh the cadence
// entry's last-seen topics; the audit pipeline recomputes and acts on
// topic stability itself once it actually processes the window.
func dominantTopics(window []ingest.WindowMessage) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, m := range window {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		topic := dedup.Topic(m.Content)
		if topic == "" {
			continue
		}
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		out = append(out, topic)
	}
	return out
}
