package gatewayapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/manifold-labs/chatmemory/internal/apperr"
	"github.com/manifold-labs/chatmemory/internal/assembler"
	"github.com/manifold-labs/chatmemory/internal/authn"
	"github.com/manifold-labs/chatmemory/internal/intents"
	"github.com/manifold-labs/chatmemory/internal/llm"
	"github.com/manifold-labs/chatmemory/internal/memmodel"
	"github.com/manifold-labs/chatmemory/internal/router"
)

type chatMessageIn struct {
	Role        string   `json:"role"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
}

type chatStreamRequest struct {
	ThreadID  string          `json:"thread_id"`
	Messages  []chatMessageIn `json:"messages"`
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
}

// sseWriter serializes SSE event writes; the gateway's own tracing and the
// delta-forwarding stream accumulator can both write concurrently.
type sseWriter struct {
	w  http.ResponseWriter
	fl http.Flusher
	mu sync.Mutex
}

func (s *sseWriter) send(event string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, b)
	s.fl.Flush()
}

// deltaSink forwards accumulated deltas as SSE "delta" events and signals
// stopCapsulePoll on the first token, closing the early-window research
// injection race per §4.3.
type deltaSink struct {
	sse      *sseWriter
	stop     chan struct{}
	stopOnce sync.Once
}

func (d *deltaSink) OnDelta(text string) {
	d.stopOnce.Do(func() { close(d.stop) })
	d.sse.send("delta", map[string]string{"text": text})
}

// chatStreamHandler serves POST /v1/chat/stream (§6).
func (a *App) chatStreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		identity, _ := authn.FromContext(r.Context())
		if identity.UserID == "" {
			identity.UserID = "anonymous"
		}

		r.Body = http.MaxBytesReader(w, r.Body, 4<<20)
		defer r.Body.Close()
		var in chatStreamRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeAppErr(w, apperr.User("invalid request body", err))
			return
		}
		if len(in.Messages) == 0 {
			writeAppErr(w, apperr.User("messages must not be empty", nil))
			return
		}

		last := in.Messages[len(in.Messages)-1]
		history := make([]assembler.Turn, 0, len(in.Messages)-1)
		for _, m := range in.Messages[:len(in.Messages)-1] {
			history = append(history, assembler.Turn{Role: m.Role, Content: m.Content})
		}
		hasImage := len(last.Attachments) > 0

		assembled := a.Assembler.Assemble(r.Context(), assembler.Request{
			UserID:   identity.UserID,
			ThreadID: in.ThreadID,
			Message:  last.Content,
			History:  history,
		})

		if assembled.Intent == intents.IntentNeedsWebSearch {
			assembled.Messages = a.augmentWithWebSearch(r.Context(), in.ThreadID, last.Content, history, assembled.Messages)
		}

		sel := a.Router.SelectProvider(hasImage, assembled.Intent, assembled.Complexity, in.Model)
		maxTokens, source := router.ResolveMaxTokens(in.MaxTokens, assembled.MaxOutputTokens)
		router.LogRouting(sel, maxTokens, source, assembled.Intent, assembled.Complexity)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		fl, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		sse := &sseWriter{w: w, fl: fl}

		sse.send("meta", map[string]any{
			"intent":          string(assembled.Intent),
			"complexity":      string(assembled.Complexity),
			"reason":          sel.Reason,
			"model":           sel.Model,
			"maxTokens":       maxTokens,
			"maxTokensSource": string(source),
			"sources":         assembled.SourceFlags,
		})

		stop := make(chan struct{})
		capsuleCh := make(chan memmodel.Capsule, 1)
		go func() {
			interval := time.Duration(a.Tuning.ResearchPollIntervalMS) * time.Millisecond
			budget := time.Duration(a.Tuning.ResearchPollTotalMS) * time.Millisecond
			c, found := assembler.PollCapsule(r.Context(), a.Bus, in.ThreadID, interval, budget, stop)
			if found {
				capsuleCh <- c
			}
			close(capsuleCh)
		}()

		sink := &deltaSink{sse: sse, stop: stop}
		result, streamErr := router.Stream(r.Context(), sel, assembled.Messages, sink)
		sink.stopOnce.Do(func() { close(stop) })

		if c, ok := <-capsuleCh; ok {
			sse.send("research_capsule", map[string]any{
				"topic":      c.Topic,
				"claims":     c.Claims,
				"sources":    c.Sources,
				"confidence": string(c.Confidence),
			})
		}

		donePayload := map[string]any{}
		if streamErr != nil {
			log.Error().Err(streamErr).Str("thread_id", in.ThreadID).Msg("chat_stream_provider_error")
			donePayload["error"] = "upstream provider error"
		}
		if assembled.Intent == intents.IntentSimpleMath {
			if n, ok := router.ExtractNumericAnswer(result.Text); ok {
				donePayload["numericAnswer"] = n
			}
		}
		sse.send("done", donePayload)

		a.persistTurn(r.Context(), identity.UserID, in.ThreadID, last, result.Text, sel.Model)
		a.notifyIngestTurn(in.ThreadID, identity.UserID, in.Messages, result.Text)
	}
}

// augmentWithWebSearch calls the memory service's web-search endpoint and
// appends the results, alongside the last 3 turns for anaphora resolution
// (§4.4), as a system message ahead of the final user turn.
func (a *App) augmentWithWebSearch(ctx context.Context, threadID, query string, history []assembler.Turn, msgs []llm.Message) []llm.Message {
	if a.MemoryHTTP == nil || a.MemoryServiceURL == "" {
		return msgs
	}
	recent := router.WebSearchContext(history, 3)
	convo := make([]string, 0, len(recent))
	for _, t := range recent {
		convo = append(convo, t.Role+": "+t.Content)
	}
	body, _ := json.Marshal(map[string]any{
		"query":               query,
		"threadId":            threadID,
		"conversationContext": convo,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.MemoryServiceURL+"/v1/web-search", bytes.NewReader(body))
	if err != nil {
		return msgs
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.MemoryHTTP.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("web_search_request_failed")
		return msgs
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return msgs
	}
	var out struct {
		Results []struct {
			Host  string `json:"host"`
			Date  string `json:"date"`
			Claim string `json:"claim"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return msgs
	}
	if len(out.Results) == 0 {
		return msgs
	}
	var sb strings.Builder
	sb.WriteString("Web search results:\n")
	for _, res := range out.Results {
		fmt.Fprintf(&sb, "- (%s, %s) %s\n", res.Host, res.Date, res.Claim)
	}
	webMsg := llm.Message{Role: "system", Content: sb.String()}
	if n := len(msgs); n > 0 && msgs[n-1].Role == "user" {
		out := make([]llm.Message, 0, n+1)
		out = append(out, msgs[:n-1]...)
		return append(out, webMsg, msgs[n-1])
	}
	return append(msgs, webMsg)
}

func (a *App) persistTurn(ctx context.Context, userID, threadID string, userMsg chatMessageIn, assistantText, model string) {
	if a.Threads == nil || threadID == "" {
		return
	}
	// threadstore's owner column is a nilable int64 carried over from the
	// teacher's schema; this core's user identity is an OIDC subject
	// string, so per-thread ownership here rides on the bearer-token
	// check at the HTTP edge rather than a second check against this
	// column (DESIGN.md).
	var uid *int64
	now := time.Now().UTC()
	msgs := []memmodel.ChatMessage{
		{Role: "user", Content: userMsg.Content, Attachments: userMsg.Attachments, CreatedAt: now},
		{Role: "assistant", Content: assistantText, CreatedAt: now},
	}
	preview := threadStorePreview(assistantText, userMsg.Content)
	if err := a.Threads.AppendMessages(ctx, uid, threadID, msgs, preview, model); err != nil {
		log.Warn().Err(err).Str("thread_id", threadID).Msg("persist_turn_failed")
	}
}

func threadStorePreview(assistantText, userText string) string {
	if assistantText != "" {
		return assistantText
	}
	return userText
}

// notifyIngestTurn feeds Memory.Ingest's cadence tracker (§4.1 "Trigger")
// without blocking the SSE response on it.
func (a *App) notifyIngestTurn(threadID, userID string, userMsgs []chatMessageIn, assistantText string) {
	if a.MemoryHTTP == nil || a.MemoryServiceURL == "" || threadID == "" {
		return
	}
	go func() {
		type turnMsg struct {
			ID      string `json:"id"`
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		payload := struct {
			UserID   string    `json:"userId"`
			ThreadID string    `json:"threadId"`
			Messages []turnMsg `json:"messages"`
		}{UserID: userID, ThreadID: threadID}
		for i, m := range userMsgs {
			payload.Messages = append(payload.Messages, turnMsg{ID: fmt.Sprintf("%s:%d", threadID, i), Role: m.Role, Content: m.Content})
		}
		payload.Messages = append(payload.Messages, turnMsg{ID: threadID + ":assistant", Role: "assistant", Content: assistantText})

		body, err := json.Marshal(payload)
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.MemoryServiceURL+"/v1/ingest/turn", bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-user-id", userID)
		resp, err := a.MemoryHTTP.Do(req)
		if err != nil {
			log.Debug().Err(err).Msg("ingest_turn_notify_failed")
			return
		}
		resp.Body.Close()
	}()
}
