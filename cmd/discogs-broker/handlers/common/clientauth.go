package common

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/wrale/discogs-device-broker/internal/deviceflow"
)

// ClientTokenHeader carries the shared broker client credential
const ClientTokenHeader = "X-Broker-Client-Token"

// Client auth modes reported by the health endpoint
const (
	ModeTokenRequired       = "token_required"
	ModeDevOverride         = "unauthenticated_dev_override"
	ModeMisconfiguredNoAuth = "misconfigured_no_token"
)

var (
	errInvalidClientToken = deviceflow.ErrUnauthorized.WithMessage("invalid broker client token")
	errNoClientToken      = deviceflow.ErrUnauthorized.WithMessage(
		"BROKER_CLIENT_TOKEN is not configured; set it or enable ALLOW_UNAUTHENTICATED_BROKER for local development")
)

// ClientAuth guards the session endpoints with the shared client token
type ClientAuth struct {
	token      string
	allowNoKey bool
}

// NewClientAuth creates a guard for token. An empty token rejects every
// request unless allowUnauthenticated is set.
func NewClientAuth(token string, allowUnauthenticated bool) *ClientAuth {
	return &ClientAuth{
		token:      strings.TrimSpace(token),
		allowNoKey: allowUnauthenticated,
	}
}

// Posture describes the configured client auth mode
type Posture struct {
	Mode                       string `json:"mode"`
	TokenConfigured            bool   `json:"token_configured"`
	AllowUnauthenticatedBroker bool   `json:"allow_unauthenticated_broker"`
	Warning                    string `json:"warning,omitempty"`
}

// Posture reports the mode in effect
func (a *ClientAuth) Posture() Posture {
	p := Posture{
		TokenConfigured:            a.token != "",
		AllowUnauthenticatedBroker: a.allowNoKey,
	}
	switch {
	case p.TokenConfigured:
		p.Mode = ModeTokenRequired
	case a.allowNoKey:
		p.Mode = ModeDevOverride
		p.Warning = "session endpoints accept unauthenticated clients; use only for local development"
	default:
		p.Mode = ModeMisconfiguredNoAuth
		p.Warning = "BROKER_CLIENT_TOKEN is not configured; session endpoints reject all clients"
	}
	return p
}

// Check validates the client token on r
func (a *ClientAuth) Check(r *http.Request) error {
	if a.token == "" {
		if a.allowNoKey {
			return nil
		}
		return errNoClientToken
	}

	provided := strings.TrimSpace(r.Header.Get(ClientTokenHeader))
	if subtle.ConstantTimeCompare([]byte(provided), []byte(a.token)) != 1 {
		return errInvalidClientToken
	}
	return nil
}

// Middleware rejects requests that fail Check
func (a *ClientAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.Check(r); err != nil {
			code, message, status := Classify(err)
			WriteJSON(w, status, ErrorResponse{Error: code, Message: message})
			return
		}
		next.ServeHTTP(w, r)
	})
}
