package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/stratakit/strata/core/entity"
)

// errorBody is the error envelope written on failures.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"` // request id, for log correlation
}

func respondOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "data": data})
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": errorBody{
			Code:    code,
			Message: message,
			ID:      middleware.GetReqID(r.Context()),
		},
	})
}

// respondEntityError maps core errors to HTTP responses. Fatal errors
// never leak their detail to the client.
func respondEntityError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *entity.ValidationError
	var limitErr *entity.UniverseLimitError

	switch {
	case errors.Is(err, entity.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &verr):
		respondError(w, r, http.StatusUnprocessableEntity, "validation", verr.Error())
	case errors.As(err, &limitErr):
		respondError(w, r, http.StatusUnprocessableEntity, "universe_limit", limitErr.Error())
	case errors.Is(err, entity.ErrHistoryDisabled):
		respondError(w, r, http.StatusBadRequest, "history_disabled", err.Error())
	case errors.Is(err, entity.ErrDuplicateID):
		respondError(w, r, http.StatusConflict, "duplicate", err.Error())
	default:
		respondError(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}
