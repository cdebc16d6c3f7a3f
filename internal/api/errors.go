package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/sqlbridge/internal/infrastructure/database"
	"github.com/nerrad567/sqlbridge/internal/script"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
	ErrCodeTooLarge       = "too_large"
	ErrCodeCompile        = "compile_error"
	ErrCodeScript         = "script_error"
	ErrCodeTimeout        = "timeout"
	ErrCodeUnavailable    = "unavailable"
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

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// scriptErrorStatus maps a run failure to an HTTP status and error code.
func scriptErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, script.ErrSourceTooLarge):
		return http.StatusRequestEntityTooLarge, ErrCodeTooLarge
	case errors.Is(err, script.ErrCompile):
		return http.StatusBadRequest, ErrCodeCompile
	case errors.Is(err, script.ErrTimeout):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	case errors.Is(err, database.ErrLockPoisoned), errors.Is(err, database.ErrGatewayClosed):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	case errors.Is(err, script.ErrException), errors.Is(err, script.ErrResult):
		return http.StatusUnprocessableEntity, ErrCodeScript
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeScriptError writes the response for a failed run.
func writeScriptError(w http.ResponseWriter, err error) {
	status, code := scriptErrorStatus(err)
	writeError(w, status, code, err.Error())
}
