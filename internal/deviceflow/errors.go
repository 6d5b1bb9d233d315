package deviceflow

import (
	"errors"
	"net/http"
)

// Error codes returned to broker clients
const (
	ErrorCodeInvalidParams    = "invalid_params"
	ErrorCodeInvalidJSON      = "invalid_json"
	ErrorCodeUnauthorized     = "unauthorized"
	ErrorCodeNotFound         = "not_found"
	ErrorCodeExpired          = "expired"
	ErrorCodeNotReady         = "not_ready"
	ErrorCodeAlreadyFinalized = "already_finalized"
	ErrorCodeUpstream         = "upstream_error"
	ErrorCodeInternal         = "internal_error"
)

// Error is a client-facing failure with a stable code and HTTP status.
// Two errors match under errors.Is when their codes are equal, so a sentinel
// with a more specific message still matches its base.
type Error struct {
	Code    string
	Message string
	Status  int
}

// NewError creates a client-facing error
func NewError(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Is reports whether target carries the same error code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithMessage returns a copy of e carrying a different message
func (e *Error) WithMessage(message string) *Error {
	return &Error{Code: e.Code, Message: message, Status: e.Status}
}

// Common errors returned by the session engine
var (
	ErrInvalidParams    = NewError(ErrorCodeInvalidParams, "device_id and pending_token are required", http.StatusBadRequest)
	ErrInvalidJSON      = NewError(ErrorCodeInvalidJSON, "request body must be valid JSON", http.StatusBadRequest)
	ErrUnauthorized     = NewError(ErrorCodeUnauthorized, "invalid or expired broker session", http.StatusUnauthorized)
	ErrNotFound         = NewError(ErrorCodeNotFound, "device session not found", http.StatusNotFound)
	ErrExpired          = NewError(ErrorCodeExpired, "device session expired; restart auth", http.StatusGone)
	ErrNotReady         = NewError(ErrorCodeNotReady, "device session is not authorized yet", http.StatusConflict)
	ErrAlreadyFinalized = NewError(ErrorCodeAlreadyFinalized, "device session has already been finalized", http.StatusConflict)
)

// errExchangeIncomplete is returned for authorized rows lacking the upstream credential
var errExchangeIncomplete = ErrNotReady.WithMessage("discogs token exchange has not completed")

// ErrDuplicateDevice is returned by a Store when a device_id already exists
var ErrDuplicateDevice = errors.New("device id already exists")
