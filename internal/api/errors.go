package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/harbourdeck/callpoint-core/internal/provision"
	"github.com/harbourdeck/callpoint-core/internal/simulator"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeConflict    = "conflict"
	ErrCodeInternal    = "internal_error"
	ErrCodeValidation  = "validation_error"
	ErrCodeUnavailable = "unavailable"
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

// writeConflict writes a 409 error response.
func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeProvisionError maps a coordinator error onto an HTTP response.
// State conflicts are 409 so clients can distinguish "retry won't help"
// from "never existed".
func writeProvisionError(w http.ResponseWriter, err error) {
	var validationErr *provision.ValidationError
	var stateErr *provision.InvalidStateError

	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, validationErr.Error())
	case errors.Is(err, provision.ErrNotFound):
		writeNotFound(w, "token not found")
	case errors.As(err, &stateErr):
		writeConflict(w, stateErr.Error())
	case errors.Is(err, provision.ErrExpired):
		writeConflict(w, "token expired")
	case errors.Is(err, provision.ErrAlreadyClaimed):
		writeConflict(w, "token already claimed")
	default:
		writeInternalError(w, "internal server error")
	}
}

// writeFleetError maps a fleet error onto an HTTP response.
func writeFleetError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, simulator.ErrDeviceNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, simulator.ErrFleetFull),
		errors.Is(err, simulator.ErrDuplicateDevice),
		errors.Is(err, simulator.ErrAlreadyRunning):
		writeConflict(w, err.Error())
	case errors.Is(err, simulator.ErrUnknownDeviceType):
		writeBadRequest(w, err.Error())
	case errors.Is(err, simulator.ErrClaimRejected), errors.Is(err, simulator.ErrClaimTimeout):
		// The device-side handshake failed; the simulator never started.
		writeConflict(w, err.Error())
	default:
		writeInternalError(w, "internal server error")
	}
}
