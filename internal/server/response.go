package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/super-agent/runtime/internal/runtime"
	"github.com/super-agent/runtime/internal/store"
)

// errorBody is the JSON envelope for error responses. Kind is one of the
// runtime's sentinel error names, so clients can switch on the same
// taxonomy the WebSocket surface reports, or "internal-error" for an error
// that matches none of them.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps err onto an HTTP status and error kind via the runtime's
// sentinel errors. Anything unmatched reports as an internal error.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "internal-error"

	switch {
	case errors.Is(err, runtime.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		status, kind = http.StatusNotFound, runtime.ErrSessionNotFound.Error()
	case errors.Is(err, runtime.ErrSessionBusy):
		status, kind = http.StatusConflict, runtime.ErrSessionBusy.Error()
	case errors.Is(err, runtime.ErrInvalidFrame):
		status, kind = http.StatusBadRequest, runtime.ErrInvalidFrame.Error()
	case errors.Is(err, runtime.ErrInteractionTimeout):
		status, kind = http.StatusGatewayTimeout, runtime.ErrInteractionTimeout.Error()
	case errors.Is(err, runtime.ErrStreamError):
		status, kind = http.StatusBadGateway, runtime.ErrStreamError.Error()
	}

	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: err.Error()}})
}

// writeInvalid reports a malformed request body or parameter as the
// invalid-frame kind without requiring a wrapped sentinel at the call site.
func writeInvalid(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{
		Error: errorDetail{Kind: runtime.ErrInvalidFrame.Error(), Message: message},
	})
}
