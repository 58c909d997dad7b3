package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Chunkys0up7/Atoms-sub002/internal/definition"
	"github.com/Chunkys0up7/Atoms-sub002/internal/engine"
	"github.com/Chunkys0up7/Atoms-sub002/internal/eventbus"
	"github.com/Chunkys0up7/Atoms-sub002/model"
)

func handleWorkload(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loads, err := eng.Workload(r.Context())
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": loads})
	}
}

func handleSLABreaches(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Default window: the last 24 hours.
		since := time.Now().UTC().Add(-24 * time.Hour)
		if raw := r.URL.Query().Get("since"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				WriteValidationError(w, []model.FieldError{
					{Field: "since", Code: "INVALID", Message: "since must be RFC 3339"},
				})
				return
			}
			since = parsed
		}

		metrics, err := eng.Breaches(r.Context(), since)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"data":  metrics,
			"since": since,
		})
	}
}

func handleListDefinitions(registry *definition.Registry) http.HandlerFunc {
	type definitionSummary struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Version     string `json:"version"`
		Description string `json:"description,omitempty"`
		Steps       int    `json:"steps"`
		SLATarget   string `json:"sla_target,omitempty"`
		Checksum    string `json:"checksum"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		defs := registry.All()
		summaries := make([]definitionSummary, 0, len(defs))
		for _, d := range defs {
			summaries = append(summaries, definitionSummary{
				ID:          d.ID,
				Name:        d.Name,
				Version:     d.Version,
				Description: d.Description,
				Steps:       len(d.Steps),
				SLATarget:   d.SLATarget,
				Checksum:    d.Checksum,
			})
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": summaries})
	}
}

func handleGetDefinition(registry *definition.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, ok := registry.Get(chi.URLParam(r, "definitionID"))
		if !ok {
			WriteError(w, model.NewNotFoundError("process definition not found"))
			return
		}
		WriteJSON(w, http.StatusOK, def)
	}
}

// handleRecentEvents serves the in-memory tail of the event stream for
// dashboards. The durable audit trail lives under each process.
func handleRecentEvents(bus *eventbus.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"data": bus.Recent()})
	}
}
