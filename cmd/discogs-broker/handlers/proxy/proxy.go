// Package proxy serves the authenticated release lookup endpoint
package proxy

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/wrale/discogs-device-broker/cmd/discogs-broker/handlers/common"
	"github.com/wrale/discogs-device-broker/internal/deviceflow"
	"github.com/wrale/discogs-device-broker/internal/search"
)

// Searcher answers lookups for authenticated sessions
type Searcher interface {
	Authenticate(ctx context.Context, sessionToken string) (*deviceflow.Session, error)
	Search(ctx context.Context, session *deviceflow.Session, q search.Query) (*search.Payload, error)
}

// Handler serves POST /v1/discogs/proxy/search
type Handler struct {
	searcher Searcher
	logger   *slog.Logger
}

// Config contains handler configuration options
type Config struct {
	Searcher Searcher
	Logger   *slog.Logger
}

// New creates a search handler
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{searcher: cfg.Searcher, logger: logger}
}

// ServeHTTP authenticates the bearer token before reading the body
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session, err := h.searcher.Authenticate(r.Context(), common.BearerToken(r))
	if err != nil {
		common.WriteError(w, r, h.logger, err)
		return
	}

	var q search.Query
	if err := common.DecodeJSON(r, &q); err != nil {
		common.WriteError(w, r, h.logger, err)
		return
	}

	payload, err := h.searcher.Search(r.Context(), session, q)
	if err != nil {
		common.WriteError(w, r, h.logger, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, payload)
}
