package gatewayapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/manifold-labs/chatmemory/internal/apperr"
)

var artifactCues = []string{"table", "spreadsheet", "document", "outline", "chart", "compare", "summary of"}

// artifactsGatekeeperHandler serves POST /api/artifacts/gatekeeper. The
// surface is defined per §6, but the classifier itself is a collaborator
// boundary: the real implementation (and the export pipeline it feeds)
// is explicitly out of scope (§1 Non-goal d). This keyword heuristic only
// keeps the contract shape exercised end to end.
func (a *App) artifactsGatekeeperHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		defer r.Body.Close()
		var in struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeAppErr(w, apperr.User("invalid request body", err))
			return
		}

		lower := strings.ToLower(in.Message)
		artifactType := ""
		for _, cue := range artifactCues {
			if strings.Contains(lower, cue) {
				artifactType = classifyArtifactType(cue)
				break
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"shouldCreate": artifactType != "",
			"type":         artifactType,
			"confidence":   0.5,
			"rationale":    "keyword heuristic placeholder for the out-of-scope artifact classifier",
		})
	}
}

func classifyArtifactType(cue string) string {
	switch cue {
	case "table", "compare":
		return "table"
	case "spreadsheet":
		return "sheet"
	case "document", "outline", "summary of":
		return "doc"
	case "chart":
		return "image"
	default:
		return "doc"
	}
}
