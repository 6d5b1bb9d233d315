package deviceflow

import "time"

// Status is the lifecycle state of a device session
type Status string

// Session states. A session moves forward from pending to authorized to
// finalized, or sideways to expired.
const (
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusFinalized  Status = "finalized"
	StatusExpired    Status = "expired"
)

// Session is one pairing attempt. Zero times represent unset columns.
type Session struct {
	DeviceID            string
	PendingToken        string
	Status              Status
	PollIntervalSeconds int
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ExpiresAt           time.Time
	AuthorizedAt        time.Time

	OAuthAccessToken       string
	OAuthAccessTokenSecret string
	OAuthIdentity          string

	SessionTokenHash string
	SessionExpiresAt time.Time
	FinalizedAt      time.Time
}

// expiredAt reports whether the session is expired, either persisted as such
// or past its device deadline without having finalized
func (s *Session) expiredAt(now time.Time) bool {
	if s.Status == StatusExpired {
		return true
	}
	return s.Status != StatusFinalized && !now.Before(s.ExpiresAt)
}

// hasCredential reports whether the upstream access token was stored
func (s *Session) hasCredential() bool {
	return s.OAuthAccessToken != "" && s.OAuthAccessTokenSecret != ""
}

// RequestToken is a temporary upstream token bound to a device session
type RequestToken struct {
	Token        string
	Secret       string
	DeviceID     string
	PendingToken string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// AuthorizeUpdate carries the upstream credential written by a callback
type AuthorizeUpdate struct {
	DeviceID     string
	PendingToken string
	AccessToken  string
	AccessSecret string
	Identity     string
	Now          time.Time
}

// FinalizeUpdate carries the state written by a successful finalize
type FinalizeUpdate struct {
	DeviceID         string
	PendingToken     string
	NextPendingToken string
	SessionTokenHash string
	SessionExpiresAt time.Time
	Now              time.Time
}

// StartResult is returned to a client starting a pairing
type StartResult struct {
	DeviceID            string `json:"device_id"`
	PendingToken        string `json:"pending_token"`
	AuthURL             string `json:"auth_url"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
	ExpiresAt           int64  `json:"expires_at"`
}

// StatusResult reports a session's state without secrets
type StatusResult struct {
	Status    Status `json:"status"`
	ExpiresAt int64  `json:"expires_at"`
}

// FinalizeResult carries the plaintext bearer token, returned only to the caller
type FinalizeResult struct {
	SessionToken string `json:"session_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// LinkResult tells the link handler where to send the browser
type LinkResult struct {
	AuthorizeURL  string
	AlreadyLinked bool
}

// CallbackParams are the query parameters of the upstream redirect
type CallbackParams struct {
	DeviceID      string
	PendingToken  string
	OAuthToken    string
	OAuthVerifier string
}
