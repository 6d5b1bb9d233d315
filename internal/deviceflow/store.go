package deviceflow

import (
	"context"
	"time"

	"github.com/wrale/discogs-device-broker/internal/discogs"
)

// Store defines the persisted state the session engine coordinates through.
// Lookups return nil, nil when no row matches. Every mutation is a single
// atomic statement.
type Store interface {
	// CreateSession inserts a new session, returning ErrDuplicateDevice if the
	// device_id is taken
	CreateSession(ctx context.Context, s *Session) error

	// GetSession retrieves a session by device_id and current pending_token
	GetSession(ctx context.Context, deviceID, pendingToken string) (*Session, error)

	// GetSessionByDevice retrieves a session by device_id alone
	GetSessionByDevice(ctx context.Context, deviceID string) (*Session, error)

	// GetSessionByTokenHash retrieves a finalized session whose bearer token
	// digest matches and whose session_expires_at is after now
	GetSessionByTokenHash(ctx context.Context, hash string, now time.Time) (*Session, error)

	// MarkExpired moves a pending or authorized session to expired
	MarkExpired(ctx context.Context, deviceID string, now time.Time) error

	// Authorize writes the upstream credential onto a live pending or
	// authorized session, reporting whether a row changed
	Authorize(ctx context.Context, u AuthorizeUpdate) (bool, error)

	// Finalize moves an authorized session to finalized, guarded on the
	// current pending_token, reporting whether a row changed
	Finalize(ctx context.Context, u FinalizeUpdate) (bool, error)

	// SaveRequestToken upserts a temporary upstream token
	SaveRequestToken(ctx context.Context, t *RequestToken) error

	// GetRequestToken retrieves a temporary upstream token
	GetRequestToken(ctx context.Context, token string) (*RequestToken, error)

	// DeleteRequestToken removes a consumed temporary upstream token
	DeleteRequestToken(ctx context.Context, token string) error

	// CheckHealth verifies the storage backend is healthy
	CheckHealth(ctx context.Context) error
}

// Exchanger performs the upstream OAuth 1.0a legs
type Exchanger interface {
	RequestToken(ctx context.Context, callbackURL string) (*discogs.Credentials, error)
	AccessToken(ctx context.Context, temp discogs.Credentials, verifier string) (*discogs.AccessGrant, error)
	AuthorizeURL(requestToken string) string
}
