// Package deviceflow implements the device pairing session engine: the
// session state machine, idempotent bearer token issuance and the
// orchestration of the upstream OAuth 1.0a legs.
package deviceflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wrale/discogs-device-broker/internal/tokens"
)

const (
	// DefaultSessionTTL is how long a pairing may take before it expires
	DefaultSessionTTL = 15 * time.Minute

	// DefaultSessionTokenTTL is the lifetime of an issued bearer token
	DefaultSessionTokenTTL = 30 * 24 * time.Hour

	// DefaultPollInterval is the status poll interval advertised to clients
	DefaultPollInterval = 5 * time.Second

	// maxStartAttempts bounds retries on device_id collisions
	maxStartAttempts = 3
)

// Flow defines the operations of the device pairing engine
type Flow interface {
	// Start creates a pending device session
	Start(ctx context.Context) (*StartResult, error)

	// Status reports the state of a session
	Status(ctx context.Context, deviceID, pendingToken string) (*StatusResult, error)

	// Finalize issues the bearer token for an authorized session. Retried
	// calls with the same pair return the same token.
	Finalize(ctx context.Context, deviceID, pendingToken string) (*FinalizeResult, error)

	// Link starts the upstream authorization for a session
	Link(ctx context.Context, deviceID, pendingToken string) (*LinkResult, error)

	// Callback completes the upstream authorization for a session
	Callback(ctx context.Context, p CallbackParams) error

	// Authenticate resolves a bearer token to its finalized session
	Authenticate(ctx context.Context, sessionToken string) (*Session, error)

	// CheckHealth verifies the storage backend is healthy
	CheckHealth(ctx context.Context) error
}

// flowImpl implements the Flow interface
type flowImpl struct {
	store           Store
	exchanger       Exchanger
	baseURL         string
	sessionTTL      time.Duration
	sessionTokenTTL time.Duration
	pollInterval    time.Duration
	now             func() time.Time
	logger          *slog.Logger
}

// NewFlow creates a new session engine with provided options
func NewFlow(store Store, exchanger Exchanger, baseURL string, opts ...Option) Flow {
	f := &flowImpl{
		store:           store,
		exchanger:       exchanger,
		baseURL:         strings.TrimSuffix(baseURL, "/"),
		sessionTTL:      DefaultSessionTTL,
		sessionTokenTTL: DefaultSessionTokenTTL,
		pollInterval:    DefaultPollInterval,
		now:             time.Now,
		logger:          slog.Default(),
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.sessionTTL <= 0 {
		f.sessionTTL = DefaultSessionTTL
	}
	if f.sessionTokenTTL <= 0 {
		f.sessionTokenTTL = DefaultSessionTokenTTL
	}
	if f.pollInterval < time.Second {
		f.pollInterval = DefaultPollInterval
	}

	return f
}

// clock returns the current time at the store's one-second resolution
func (f *flowImpl) clock() time.Time {
	return time.Unix(f.now().Unix(), 0)
}

// Start creates a pending device session with fresh identifiers
func (f *flowImpl) Start(ctx context.Context) (*StartResult, error) {
	for attempt := 1; ; attempt++ {
		session, err := f.newSession()
		if err != nil {
			return nil, err
		}

		err = f.store.CreateSession(ctx, session)
		if err == nil {
			f.logger.InfoContext(ctx, "device session started",
				slog.String("device_id", session.DeviceID),
				slog.Time("expires_at", session.ExpiresAt))

			return &StartResult{
				DeviceID:            session.DeviceID,
				PendingToken:        session.PendingToken,
				AuthURL:             f.linkURL(session.DeviceID, session.PendingToken),
				PollIntervalSeconds: session.PollIntervalSeconds,
				ExpiresAt:           session.ExpiresAt.Unix(),
			}, nil
		}

		if !errors.Is(err, ErrDuplicateDevice) || attempt >= maxStartAttempts {
			return nil, fmt.Errorf("creating device session: %w", err)
		}
		f.logger.WarnContext(ctx, "device id collision, retrying", slog.Int("attempt", attempt))
	}
}

func (f *flowImpl) newSession() (*Session, error) {
	deviceID, err := tokens.Random(tokens.DeviceIDBytes)
	if err != nil {
		return nil, fmt.Errorf("generating device id: %w", err)
	}

	pendingToken, err := tokens.Random(tokens.PendingTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generating pending token: %w", err)
	}

	now := f.clock()
	return &Session{
		DeviceID:            deviceID,
		PendingToken:        pendingToken,
		Status:              StatusPending,
		PollIntervalSeconds: int(f.pollInterval / time.Second),
		CreatedAt:           now,
		UpdatedAt:           now,
		ExpiresAt:           now.Add(f.sessionTTL),
	}, nil
}

// Status reports the current state of a session, persisting expiry when the
// deadline has passed
func (f *flowImpl) Status(ctx context.Context, deviceID, pendingToken string) (*StatusResult, error) {
	deviceID, pendingToken, err := requirePair(deviceID, pendingToken)
	if err != nil {
		return nil, err
	}

	session, err := f.resolve(ctx, deviceID, pendingToken)
	if err != nil {
		return nil, err
	}

	status := session.Status
	now := f.clock()
	if session.expiredAt(now) {
		status = StatusExpired
		if err := f.expire(ctx, session, now); err != nil {
			return nil, err
		}
	}

	return &StatusResult{
		Status:    status,
		ExpiresAt: session.ExpiresAt.Unix(),
	}, nil
}

// Finalize derives the bearer token and commits the authorized to finalized
// transition. Exactly one call can commit; every other call with the same
// pair replays the committed token.
func (f *flowImpl) Finalize(ctx context.Context, deviceID, pendingToken string) (*FinalizeResult, error) {
	deviceID, pendingToken, err := requirePair(deviceID, pendingToken)
	if err != nil {
		return nil, err
	}

	session, err := f.store.GetSession(ctx, deviceID, pendingToken)
	if err != nil {
		return nil, fmt.Errorf("getting device session: %w", err)
	}

	if session == nil {
		// The pending token rotates on finalize, so a retried call only
		// finds the row by device_id
		latest, err := f.store.GetSessionByDevice(ctx, deviceID)
		if err != nil {
			return nil, fmt.Errorf("getting device session: %w", err)
		}
		if latest == nil {
			return nil, ErrNotFound
		}
		if result, ok := replay(latest, deviceID, pendingToken); ok {
			return result, nil
		}
		return nil, ErrNotFound
	}

	now := f.clock()
	if session.expiredAt(now) {
		if err := f.expire(ctx, session, now); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}

	switch {
	case session.Status == StatusFinalized:
		return replayOrConflict(session, deviceID, pendingToken)
	case session.Status != StatusAuthorized:
		return nil, ErrNotReady
	case !session.hasCredential():
		return nil, errExchangeIncomplete
	}

	sessionToken, err := tokens.DeriveSessionToken(deviceID, pendingToken,
		session.OAuthAccessToken, session.OAuthAccessTokenSecret)
	if err != nil {
		return nil, errExchangeIncomplete
	}

	nextPending, err := tokens.Random(tokens.PendingTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generating pending token: %w", err)
	}

	expiresAt := now.Add(f.sessionTokenTTL)
	committed, err := f.store.Finalize(ctx, FinalizeUpdate{
		DeviceID:         deviceID,
		PendingToken:     pendingToken,
		NextPendingToken: nextPending,
		SessionTokenHash: tokens.SHA256Hex(sessionToken),
		SessionExpiresAt: expiresAt,
		Now:              now,
	})
	if err != nil {
		return nil, fmt.Errorf("finalizing device session: %w", err)
	}

	if !committed {
		return f.afterLostFinalize(ctx, deviceID, pendingToken)
	}

	f.logger.InfoContext(ctx, "device session finalized",
		slog.String("device_id", deviceID),
		slog.Time("session_expires_at", expiresAt))

	return &FinalizeResult{
		SessionToken: sessionToken,
		ExpiresAt:    expiresAt.Unix(),
	}, nil
}

// afterLostFinalize re-evaluates a session whose guarded finalize update
// changed no rows
func (f *flowImpl) afterLostFinalize(ctx context.Context, deviceID, pendingToken string) (*FinalizeResult, error) {
	latest, err := f.store.GetSessionByDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("getting device session: %w", err)
	}
	if latest == nil {
		return nil, ErrNotFound
	}

	now := f.clock()
	if latest.expiredAt(now) {
		if err := f.expire(ctx, latest, now); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}

	if latest.Status == StatusFinalized {
		return replayOrConflict(latest, deviceID, pendingToken)
	}

	return nil, ErrNotReady
}

// Authenticate resolves a bearer token to a live finalized session
func (f *flowImpl) Authenticate(ctx context.Context, sessionToken string) (*Session, error) {
	sessionToken = strings.TrimSpace(sessionToken)
	if sessionToken == "" {
		return nil, ErrUnauthorized.WithMessage("missing bearer session token")
	}

	session, err := f.store.GetSessionByTokenHash(ctx, tokens.SHA256Hex(sessionToken), f.clock())
	if err != nil {
		return nil, fmt.Errorf("getting session by token: %w", err)
	}
	if session == nil || session.Status != StatusFinalized || !session.hasCredential() {
		return nil, ErrUnauthorized
	}

	return session, nil
}

// CheckHealth verifies the storage backend is healthy
func (f *flowImpl) CheckHealth(ctx context.Context) error {
	return f.store.CheckHealth(ctx)
}

// resolve finds the session for a pair, accepting a rotated pending token
// only when it replays the finalized session
func (f *flowImpl) resolve(ctx context.Context, deviceID, pendingToken string) (*Session, error) {
	session, err := f.store.GetSession(ctx, deviceID, pendingToken)
	if err != nil {
		return nil, fmt.Errorf("getting device session: %w", err)
	}
	if session != nil {
		return session, nil
	}

	latest, err := f.store.GetSessionByDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("getting device session: %w", err)
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	if _, ok := replay(latest, deviceID, pendingToken); !ok {
		return nil, ErrNotFound
	}

	return latest, nil
}

func (f *flowImpl) expire(ctx context.Context, s *Session, now time.Time) error {
	if s.Status == StatusExpired {
		return nil
	}
	if err := f.store.MarkExpired(ctx, s.DeviceID, now); err != nil {
		return fmt.Errorf("expiring device session: %w", err)
	}
	f.logger.InfoContext(ctx, "device session expired", slog.String("device_id", s.DeviceID))
	return nil
}

// replay reproduces the bearer token of a finalized session for the pair
// that finalized it
func replay(s *Session, deviceID, pendingToken string) (*FinalizeResult, bool) {
	if s.Status != StatusFinalized || s.SessionTokenHash == "" || s.SessionExpiresAt.IsZero() {
		return nil, false
	}

	sessionToken, err := tokens.DeriveSessionToken(deviceID, pendingToken,
		s.OAuthAccessToken, s.OAuthAccessTokenSecret)
	if err != nil {
		return nil, false
	}

	if !tokens.EqualDigest(tokens.SHA256Hex(sessionToken), s.SessionTokenHash) {
		return nil, false
	}

	return &FinalizeResult{
		SessionToken: sessionToken,
		ExpiresAt:    s.SessionExpiresAt.Unix(),
	}, true
}

func replayOrConflict(s *Session, deviceID, pendingToken string) (*FinalizeResult, error) {
	if result, ok := replay(s, deviceID, pendingToken); ok {
		return result, nil
	}
	return nil, ErrAlreadyFinalized
}

// requirePair trims and validates a device_id and pending_token
func requirePair(deviceID, pendingToken string) (string, string, error) {
	deviceID = strings.TrimSpace(deviceID)
	pendingToken = strings.TrimSpace(pendingToken)
	if deviceID == "" || pendingToken == "" {
		return "", "", ErrInvalidParams
	}
	return deviceID, pendingToken, nil
}
