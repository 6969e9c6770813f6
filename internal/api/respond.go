package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"sentrynet/internal/apperr"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// respondError maps err to the control-plane error shape (spec.md §7):
// an *apperr.Error carries its own code and status; anything else is
// reported as an opaque internal error.
func respondError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		respondJSON(w, appErr.Code.HTTPStatus(), appErr)
		return
	}
	respondJSON(w, http.StatusInternalServerError, apperr.New(apperr.CodeInternal, err.Error()))
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Invalid("malformed JSON body")
	}
	return nil
}
