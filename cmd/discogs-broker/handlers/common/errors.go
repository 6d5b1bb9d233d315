// Package common holds response helpers shared by the broker handlers
package common

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/wrale/discogs-device-broker/internal/deviceflow"
	"github.com/wrale/discogs-device-broker/internal/discogs"
)

// maxBodyBytes caps JSON request bodies
const maxBodyBytes = 64 << 10

// Generic messages for failures whose details stay in the logs
const (
	upstreamMessage = "discogs request failed"
	internalMessage = "internal server error"
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SetJSONHeaders sets the headers every JSON response carries
func SetJSONHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
}

// WriteJSON sends v with the given status
func WriteJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		WriteJSONError(w, err)
		return
	}

	SetJSONHeaders(w)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// WriteError sends err as an ErrorResponse. Broker errors keep their code,
// status and message; upstream and unexpected failures are logged and
// replaced by a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code, message, status := Classify(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error_code", code),
			slog.Any("error", err))
	}

	WriteJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// Classify maps err to its client-facing code, message and status
func Classify(err error) (code, message string, status int) {
	var ferr *deviceflow.Error
	if errors.As(err, &ferr) {
		return ferr.Code, ferr.Message, ferr.Status
	}

	var uerr *discogs.UpstreamError
	if errors.As(err, &uerr) {
		return deviceflow.ErrorCodeUpstream, upstreamMessage, http.StatusBadGateway
	}

	return deviceflow.ErrorCodeInternal, internalMessage, http.StatusInternalServerError
}

// WriteJSONError handles JSON encoding failures with a fixed response
func WriteJSONError(w http.ResponseWriter, err error) {
	SetJSONHeaders(w)
	w.WriteHeader(http.StatusInternalServerError)

	// Create error response manually since JSON encoding failed
	_, _ = w.Write([]byte(`{"error":"internal_error","message":"failed to encode response"}`))
}

// DecodeJSON reads a JSON value from the request body into v
func DecodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return deviceflow.ErrInvalidJSON
	}
	if err := json.Unmarshal(body, v); err != nil {
		return deviceflow.ErrInvalidJSON
	}
	return nil
}

// NotFound answers requests that match no route
func NotFound(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, ErrorResponse{
		Error:   deviceflow.ErrorCodeNotFound,
		Message: "No route for " + r.Method + " " + r.URL.Path,
	})
}
