// Package transport contains the HTTP router, middleware chain, and all
// request handlers for the engine API.
package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Chunkys0up7/Atoms-sub002/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:         http.StatusBadRequest,
	model.ErrUnauthorized:       http.StatusUnauthorized,
	model.ErrNotAuthorized:      http.StatusForbidden,
	model.ErrNotFound:           http.StatusNotFound,
	model.ErrConflict:           http.StatusConflict,
	model.ErrTerminalState:      http.StatusConflict,
	model.ErrValidation:         http.StatusUnprocessableEntity,
	model.ErrInvalidTransition:  http.StatusUnprocessableEntity,
	model.ErrNoEligibleAssignee: http.StatusUnprocessableEntity,
	model.ErrInternal:           http.StatusInternalServerError,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. If err is not an *ErrorEnvelope, a generic 500 is
// returned.
func WriteError(w http.ResponseWriter, err error) {
	ee, ok := err.(*model.ErrorEnvelope)
	if !ok {
		ee = model.NewInternalError()
	}

	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

// WriteValidationError writes a 422 error response with field-level details.
func WriteValidationError(w http.ResponseWriter, details []model.FieldError) {
	WriteError(w, model.NewValidationError(details))
}

// decodeBody parses a JSON request body into target. An empty body leaves
// the target zero-valued; malformed JSON is a BAD_REQUEST.
func decodeBody(r *http.Request, target any) error {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return model.NewBadRequestError("invalid JSON body")
	}
	return nil
}
