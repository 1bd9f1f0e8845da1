package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/calafate/loom/internal/log"
	"github.com/calafate/loom/internal/store"
	"github.com/calafate/loom/internal/workflow"
)

// apiError is an error with a fixed HTTP status.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string { return e.message }

func errValidation(msg string) error {
	return &apiError{status: http.StatusBadRequest, message: msg}
}

func errNotFound(msg string) error {
	return &apiError{status: http.StatusNotFound, message: msg}
}

func errForbidden(msg string) error {
	return &apiError{status: http.StatusForbidden, message: msg}
}

// writeJSON writes v with the given status. Encoding failures are logged;
// the status line has already gone out by then.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.ErrorErr(log.CatAPI, "encode response", err)
	}
}

// writeError maps errors to HTTP statuses: validation 400, not found 404,
// explicit apiErrors keep their status, everything else is a 500 with the
// detail kept out of the response.
func writeError(w http.ResponseWriter, err error) {
	var ae *apiError
	switch {
	case errors.As(err, &ae):
		writeJSON(w, ae.status, map[string]string{"detail": ae.message})
	case errors.Is(err, workflow.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "not found"})
	default:
		log.ErrorErr(log.CatAPI, "request failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "internal server error"})
	}
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched so payload-less POSTs work.
func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return errValidation("malformed JSON body")
}
