// Package health serves the broker health endpoint
package health

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/wrale/discogs-device-broker/cmd/discogs-broker/handlers/common"
)

// Overall statuses
const (
	StatusOK        = "ok"
	StatusWarning   = "warning"
	StatusUnhealthy = "unhealthy"
)

// Checker reports whether one dependency is healthy
type Checker interface {
	CheckHealth(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker
type CheckerFunc func(ctx context.Context) error

// CheckHealth implements Checker
func (f CheckerFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}

// Handler processes health check requests
type Handler struct {
	checks  map[string]Checker
	posture common.Posture
	version string
	logger  *slog.Logger
}

// Response represents the health check response
type Response struct {
	Status           string         `json:"status"`
	Version          string         `json:"version,omitempty"`
	BrokerClientAuth common.Posture `json:"broker_client_auth"`
	Details          map[string]any `json:"details,omitempty"`
}

// New creates a health handler over the named checks
func New(checks map[string]Checker, posture common.Posture) *Handler {
	return &Handler{
		checks:  checks,
		posture: posture,
		version: "unknown",
		logger:  slog.Default(),
	}
}

// WithVersion sets the version for health check responses
func (h *Handler) WithVersion(version string) *Handler {
	h.version = version
	return h
}

// WithLogger sets the logger
func (h *Handler) WithLogger(l *slog.Logger) *Handler {
	h.logger = l
	return h
}

// ServeHTTP handles health check requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := Response{
		Status:           StatusOK,
		Version:          h.version,
		BrokerClientAuth: h.posture,
		Details:          make(map[string]any, len(h.checks)),
	}

	if h.posture.Mode != common.ModeTokenRequired {
		response.Status = StatusWarning
	}

	for name, check := range h.checks {
		if err := check.CheckHealth(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "health check failed",
				slog.String("component", name), slog.Any("error", err))
			response.Status = StatusUnhealthy
			response.Details[name] = map[string]any{"status": StatusUnhealthy}
			continue
		}
		response.Details[name] = map[string]any{"status": StatusOK}
	}

	status := http.StatusOK
	if response.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	common.WriteJSON(w, status, response)
}
