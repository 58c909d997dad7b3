package transport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Chunkys0up7/Atoms-sub002/internal/engine"
	"github.com/Chunkys0up7/Atoms-sub002/internal/store"
	"github.com/Chunkys0up7/Atoms-sub002/model"
)

func handleStartProcess(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			DefinitionID string         `json:"definition_id"`
			BusinessKey  string         `json:"business_key"`
			Priority     string         `json:"priority"`
			Context      map[string]any `json:"context"`
		}
		if err := decodeBody(r, &body); err != nil {
			WriteError(w, err)
			return
		}
		if body.DefinitionID == "" {
			WriteValidationError(w, []model.FieldError{
				{Field: "definition_id", Code: "REQUIRED", Message: "definition_id is required"},
			})
			return
		}

		proc, err := eng.StartProcess(r.Context(), rctx, body.DefinitionID, body.BusinessKey, body.Priority, body.Context)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, proc)
	}
}

func handleGetProcess(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		proc, err := eng.GetProcess(r.Context(), chi.URLParam(r, "processID"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, proc)
	}
}

func handleListProcesses(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filters := store.ProcessFilters{
			DefinitionID: r.URL.Query().Get("definition_id"),
			Status:       r.URL.Query().Get("status"),
			InitiatedBy:  r.URL.Query().Get("initiated_by"),
			Limit:        queryInt(r, "limit", 20),
			Offset:       queryInt(r, "offset", 0),
		}

		procs, err := eng.ListProcesses(r.Context(), filters)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"data":   procs,
			"limit":  filters.Limit,
			"offset": filters.Offset,
		})
	}
}

func handleSuspendProcess(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			Reason string `json:"reason"`
		}
		if err := decodeBody(r, &body); err != nil {
			WriteError(w, err)
			return
		}

		proc, err := eng.SuspendProcess(r.Context(), rctx, chi.URLParam(r, "processID"), body.Reason)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, proc)
	}
}

func handleResumeProcess(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		proc, err := eng.ResumeProcess(r.Context(), rctx, chi.URLParam(r, "processID"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, proc)
	}
}

func handleCancelProcess(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			Reason string `json:"reason"`
		}
		if err := decodeBody(r, &body); err != nil {
			WriteError(w, err)
			return
		}

		proc, err := eng.CancelProcess(r.Context(), rctx, chi.URLParam(r, "processID"), body.Reason)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, proc)
	}
}

func handleProcessEvents(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := eng.GetProcessEvents(r.Context(), chi.URLParam(r, "processID"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": events})
	}
}

func handleProcessSLA(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics, err := eng.GetProcessMetrics(r.Context(), chi.URLParam(r, "processID"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": metrics})
	}
}

// queryInt parses an integer query parameter with a default.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
