// Package oauth serves the browser legs of the upstream authorization
package oauth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/wrale/discogs-device-broker/cmd/discogs-broker/handlers/common"
	"github.com/wrale/discogs-device-broker/internal/deviceflow"
	"github.com/wrale/discogs-device-broker/internal/templates"
)

// Renderer draws the confirmation pages
type Renderer interface {
	RenderPage(w http.ResponseWriter, status int, data templates.PageData) error
}

// Handler serves the link and callback pages
type Handler struct {
	flow      deviceflow.Flow
	templates Renderer
	logger    *slog.Logger
}

// Config contains handler configuration options
type Config struct {
	Flow      deviceflow.Flow
	Templates Renderer
	Logger    *slog.Logger
}

// New creates an oauth handler
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{flow: cfg.Flow, templates: cfg.Templates, logger: logger}
}

var (
	pageLinked        = templates.PageData{Title: "Discogs linked", Message: "You can close this tab and return to your client."}
	pageAlreadyLinked = templates.PageData{Title: "Already linked", Message: "This device is already linked. Return to your client."}
	pageMissingPair   = templates.PageData{Title: "Auth failed", Message: "Missing device_id or pending_token."}
	pageNotFound      = templates.PageData{Title: "Auth failed", Message: "Device session not found."}
	pageExpired       = templates.PageData{Title: "Auth expired", Message: "The device session expired. Restart auth from your client."}
	pageUpstream      = templates.PageData{Title: "Auth failed", Message: "Discogs could not complete the request. Restart auth from your client."}
	pageInternal      = templates.PageData{Title: "Auth failed", Message: "Something went wrong. Restart auth from your client."}
)

// Link handles GET /v1/discogs/oauth/link
func (h *Handler) Link(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.flow.Link(r.Context(), q.Get("device_id"), q.Get("pending_token"))
	if err != nil {
		h.renderError(w, r, err, pageMissingPair)
		return
	}

	if result.AlreadyLinked {
		h.render(w, r, http.StatusOK, pageAlreadyLinked)
		return
	}

	http.Redirect(w, r, result.AuthorizeURL, http.StatusFound)
}

// Callback handles GET /v1/discogs/oauth/callback
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	err := h.flow.Callback(r.Context(), deviceflow.CallbackParams{
		DeviceID:      q.Get("device_id"),
		PendingToken:  q.Get("pending_token"),
		OAuthToken:    q.Get("oauth_token"),
		OAuthVerifier: q.Get("oauth_verifier"),
	})
	if err != nil {
		h.renderError(w, r, err, templates.PageData{})
		return
	}

	h.render(w, r, http.StatusOK, pageLinked)
}

// renderError shows the page for err. A non-empty invalid replaces the
// message of invalid parameter errors.
func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error, invalid templates.PageData) {
	code, message, status := common.Classify(err)

	var page templates.PageData
	switch code {
	case deviceflow.ErrorCodeInvalidParams:
		page = invalid
		if page.Message == "" {
			page = templates.PageData{Title: "Auth failed", Message: message}
		}
	case deviceflow.ErrorCodeNotFound:
		page = pageNotFound
	case deviceflow.ErrorCodeExpired:
		page = pageExpired
	case deviceflow.ErrorCodeUpstream:
		page = pageUpstream
	default:
		page = pageInternal
	}

	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "authorization leg failed",
			slog.String("path", r.URL.Path),
			slog.String("error_code", code),
			slog.Any("error", err))
	}

	h.render(w, r, status, page)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, page templates.PageData) {
	if err := h.templates.RenderPage(w, status, page); err != nil {
		var terr *templates.TemplateError
		if errors.As(err, &terr) {
			h.logger.ErrorContext(r.Context(), "rendering page", slog.Any("error", err))
			http.Error(w, "error rendering page", http.StatusInternalServerError)
		}
	}
}
