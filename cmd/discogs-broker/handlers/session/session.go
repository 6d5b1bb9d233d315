// Package session serves the device session endpoints used by broker clients
package session

import (
	"log/slog"
	"net/http"

	"github.com/wrale/discogs-device-broker/cmd/discogs-broker/handlers/common"
	"github.com/wrale/discogs-device-broker/internal/deviceflow"
)

// Handler serves start, status and finalize
type Handler struct {
	flow   deviceflow.Flow
	logger *slog.Logger
}

// Config contains handler configuration options
type Config struct {
	Flow   deviceflow.Flow
	Logger *slog.Logger
}

// New creates a session handler
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{flow: cfg.Flow, logger: logger}
}

// pairRequest is the finalize request body
type pairRequest struct {
	DeviceID     string `json:"device_id"`
	PendingToken string `json:"pending_token"`
}

// expiredResponse is the status body of an expired session
type expiredResponse struct {
	Status    deviceflow.Status `json:"status"`
	ExpiresAt int64             `json:"expires_at"`
	Error     string            `json:"error"`
	Message   string            `json:"message"`
}

// Start handles POST /v1/device/session/start
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	result, err := h.flow.Start(r.Context())
	if err != nil {
		common.WriteError(w, r, h.logger, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, result)
}

// Status handles GET /v1/device/session/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.flow.Status(r.Context(), q.Get("device_id"), q.Get("pending_token"))
	if err != nil {
		common.WriteError(w, r, h.logger, err)
		return
	}

	if result.Status == deviceflow.StatusExpired {
		common.WriteJSON(w, deviceflow.ErrExpired.Status, expiredResponse{
			Status:    result.Status,
			ExpiresAt: result.ExpiresAt,
			Error:     deviceflow.ErrExpired.Code,
			Message:   deviceflow.ErrExpired.Message,
		})
		return
	}

	common.WriteJSON(w, http.StatusOK, result)
}

// Finalize handles POST /v1/device/session/finalize
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, r, h.logger, err)
		return
	}

	result, err := h.flow.Finalize(r.Context(), req.DeviceID, req.PendingToken)
	if err != nil {
		common.WriteError(w, r, h.logger, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, result)
}
