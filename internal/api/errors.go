package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-instruments/internal/attrpath"
	"github.com/nerrad567/gray-logic-instruments/internal/dispatch"
	"github.com/nerrad567/gray-logic-instruments/internal/instrument"
	"github.com/nerrad567/gray-logic-instruments/internal/snapshot"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeInternal     = "internal_error"
	ErrCodeUnavailable  = "delegate_unavailable"
	ErrCodeCommand      = "command_failed"
	ErrCodeNotAllowed   = "not_allowed"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeOpError maps an error from an instrument operation onto a response.
func writeOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrConnectionUnavailable), errors.Is(err, dispatch.ErrPostsLost):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, instrument.ErrNotFound), errors.Is(err, snapshot.ErrNotFound), errors.Is(err, attrpath.ErrLookup):
		writeNotFound(w, err.Error())
	case errors.Is(err, instrument.ErrNotGettable), errors.Is(err, instrument.ErrNotSettable):
		writeError(w, http.StatusMethodNotAllowed, ErrCodeNotAllowed, err.Error())
	case errors.Is(err, dispatch.ErrDelegateFailure):
		writeError(w, http.StatusBadGateway, ErrCodeCommand, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
