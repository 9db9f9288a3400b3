package memoryapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/manifold-labs/chatmemory/internal/apperr"
	"github.com/manifold-labs/chatmemory/internal/memmodel"
)

type memoryDTO struct {
	ID         string   `json:"id"`
	ThreadID   string   `json:"threadId,omitempty"`
	Content    string   `json:"content"`
	Entities   []string `json:"entities,omitempty"`
	Priority   float64  `json:"priority"`
	Confidence float64  `json:"confidence"`
	Tier       string   `json:"tier"`
	CreatedAt  string   `json:"createdAt"`
	UpdatedAt  string   `json:"updatedAt"`
}

func toMemoryDTO(m memmodel.Memory) memoryDTO {
	return memoryDTO{
		ID:         m.ID,
		ThreadID:   m.ThreadID,
		Content:    m.Content,
		Entities:   m.Entities,
		Priority:   m.Priority,
		Confidence: m.Confidence,
		Tier:       string(m.Tier),
		CreatedAt:  m.CreatedAt.Format(httpTimeFormat),
		UpdatedAt:  m.UpdatedAt.Format(httpTimeFormat),
	}
}

const httpTimeFormat = "2006-01-02T15:04:05Z07:00"

// memoriesCollectionHandler serves POST /v1/memories (explicit save, §4.1
// "Explicit save (fast path)") and GET /v1/memories (admin/debug list).
func (a *App) memoriesCollectionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			a.explicitSave(w, r)
		case http.MethodGet:
			a.listMemories(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func (a *App) explicitSave(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	if userID == "" {
		writeAppErr(w, apperr.User("x-user-id header is required", nil))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()

	var in struct {
		ThreadID string  `json:"threadId"`
		Content  string  `json:"content"`
		Priority float64 `json:"priority"`
		Tier     string  `json:"tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeAppErr(w, apperr.User("invalid request body", err))
		return
	}
	if strings.TrimSpace(in.Content) == "" {
		writeAppErr(w, apperr.User("content is required", nil))
		return
	}

	tier := memmodel.Tier(strings.ToUpper(strings.TrimSpace(in.Tier)))
	m, err := a.Pipeline.ExplicitSave(r.Context(), userID, in.ThreadID, in.Content, tier)
	if err != nil {
		writeAppErr(w, apperr.Internal("explicit save failed", err))
		return
	}
	writeJSON(w, http.StatusOK, toMemoryDTO(m))
}

func (a *App) listMemories(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	if userID == "" {
		writeAppErr(w, apperr.User("userId is required", nil))
		return
	}
	mems, err := a.Rows.ListMemories(r.Context(), userID)
	if err != nil {
		writeAppErr(w, apperr.Internal("list memories failed", err))
		return
	}
	out := make([]memoryDTO, 0, len(mems))
	for _, m := range mems {
		out = append(out, toMemoryDTO(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": out})
}

// memoryDetailHandler serves PUT/DELETE /v1/memories/:id.
func (a *App) memoryDetailHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/v1/memories/")
		if id == "" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		userID := userIDFromRequest(r)
		if userID == "" {
			writeAppErr(w, apperr.User("x-user-id header is required", nil))
			return
		}

		switch r.Method {
		case http.MethodPut:
			a.editMemory(w, r, userID, id)
		case http.MethodDelete:
			a.deleteMemory(w, r, userID, id)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func (a *App) editMemory(w http.ResponseWriter, r *http.Request, userID, id string) {
	existing, ok, err := a.Rows.GetMemory(r.Context(), userID, id)
	if err != nil {
		writeAppErr(w, apperr.Internal("get memory failed", err))
		return
	}
	if !ok {
		writeAppErr(w, apperr.NotFound("memory not found", nil))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()
	var in struct {
		Content  *string  `json:"content"`
		Priority *float64 `json:"priority"`
		Tier     *string  `json:"tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeAppErr(w, apperr.User("invalid request body", err))
		return
	}
	if in.Content != nil {
		existing.Content = *in.Content
	}
	if in.Priority != nil {
		existing.Priority = *in.Priority
	}
	if in.Tier != nil {
		existing.Tier = memmodel.Tier(strings.ToUpper(*in.Tier))
	}
	if err := a.Rows.SaveMemory(r.Context(), existing); err != nil {
		writeAppErr(w, apperr.Internal("save memory failed", err))
		return
	}
	if a.FTS != nil {
		if err := a.FTS.Index(r.Context(), existing.ID, userID, existing.Content); err != nil {
			writeAppErr(w, apperr.Internal("reindex memory failed", err))
			return
		}
	}
	writeJSON(w, http.StatusOK, toMemoryDTO(existing))
}

// deleteMemory soft-deletes a memory and cascades the removal to the
// keyword index, per §6 ("must cascade to remove keyword-index rows").
func (a *App) deleteMemory(w http.ResponseWriter, r *http.Request, userID, id string) {
	if _, ok, err := a.Rows.GetMemory(r.Context(), userID, id); err != nil {
		writeAppErr(w, apperr.Internal("get memory failed", err))
		return
	} else if !ok {
		writeAppErr(w, apperr.NotFound("memory not found", nil))
		return
	}
	if err := a.Rows.SoftDeleteMemory(r.Context(), userID, id); err != nil {
		writeAppErr(w, apperr.Internal("delete memory failed", err))
		return
	}
	if a.FTS != nil {
		if err := a.FTS.Remove(r.Context(), id); err != nil {
			writeAppErr(w, apperr.Internal("remove from index failed", err))
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
