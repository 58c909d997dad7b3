package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Chunkys0up7/Atoms-sub002/internal/engine"
	"github.com/Chunkys0up7/Atoms-sub002/internal/observability"
	"github.com/Chunkys0up7/Atoms-sub002/internal/store"
	"github.com/Chunkys0up7/Atoms-sub002/model"
)

func handleCreateTask(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			Name        string               `json:"name"`
			Description string               `json:"description"`
			Priority    string               `json:"priority"`
			Assignment  model.AssignmentSpec `json:"assignment"`
			Input       map[string]any       `json:"input"`
		}
		if err := decodeBody(r, &body); err != nil {
			WriteError(w, err)
			return
		}

		task, err := eng.CreateTask(r.Context(), rctx, chi.URLParam(r, "processID"),
			body.Name, body.Description, body.Priority, body.Assignment, body.Input)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, task)
	}
}

func handleGetTask(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task, err := eng.GetTask(r.Context(), chi.URLParam(r, "taskID"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, task)
	}
}

func handleListTasks(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filters := store.TaskFilters{
			ProcessID: r.URL.Query().Get("process_id"),
			Status:    r.URL.Query().Get("status"),
			Assignee:  r.URL.Query().Get("assignee"),
			Team:      r.URL.Query().Get("team"),
			Limit:     queryInt(r, "limit", 20),
			Offset:    queryInt(r, "offset", 0),
		}

		tasks, err := eng.ListTasks(r.Context(), filters)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"data":   tasks,
			"limit":  filters.Limit,
			"offset": filters.Offset,
		})
	}
}

func handleAssignTask(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			Assignment model.AssignmentSpec `json:"assignment"`
		}
		if err := decodeBody(r, &body); err != nil {
			WriteError(w, err)
			return
		}

		task, err := eng.AssignTask(r.Context(), rctx, chi.URLParam(r, "taskID"), body.Assignment)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, task)
	}
}

func handleStartTask(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		task, err := eng.StartTask(r.Context(), rctx, chi.URLParam(r, "taskID"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, task)
	}
}

func handleCompleteTask(eng *engine.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			Output map[string]any `json:"output"`
		}
		if err := decodeBody(r, &body); err != nil {
			WriteError(w, err)
			return
		}

		taskID := chi.URLParam(r, "taskID")
		if ce := logger.Check(zap.DebugLevel, "completing task"); ce != nil {
			ce.Write(
				zap.String("task_id", taskID),
				zap.Any("output", observability.RedactBody(body.Output, nil)),
			)
		}

		task, err := eng.CompleteTask(r.Context(), rctx, taskID, body.Output)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, task)
	}
}

func handleFailTask(eng *engine.Engine) http.HandlerFunc {
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
		if body.Reason == "" {
			WriteValidationError(w, []model.FieldError{
				{Field: "reason", Code: "REQUIRED", Message: "a failure reason is required"},
			})
			return
		}

		task, err := eng.FailTask(r.Context(), rctx, chi.URLParam(r, "taskID"), body.Reason)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, task)
	}
}

func handleReassignTask(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			Assignee string `json:"assignee"`
			Reason   string `json:"reason"`
		}
		if err := decodeBody(r, &body); err != nil {
			WriteError(w, err)
			return
		}
		if body.Assignee == "" {
			WriteValidationError(w, []model.FieldError{
				{Field: "assignee", Code: "REQUIRED", Message: "the new assignee is required"},
			})
			return
		}

		task, err := eng.ReassignTask(r.Context(), rctx, chi.URLParam(r, "taskID"), body.Assignee, body.Reason)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, task)
	}
}
