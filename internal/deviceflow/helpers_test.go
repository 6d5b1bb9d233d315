package deviceflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wrale/discogs-device-broker/internal/discogs"
)

// errStoreUnhealthy indicates the store is not available
var errStoreUnhealthy = errors.New("store unhealthy")

// mockStore implements Store in memory. Each method holds the lock for its
// whole body, matching the single-statement atomicity of the SQL store.
type mockStore struct {
	mu            sync.Mutex
	sessions      map[string]*Session
	requestTokens map[string]*RequestToken
	healthy       bool

	duplicates      int
	finalizeCommits int
	onFinalize      func(m *mockStore)
}

func newMockStore() *mockStore {
	return &mockStore{
		sessions:      make(map[string]*Session),
		requestTokens: make(map[string]*RequestToken),
		healthy:       true,
	}
}

func (m *mockStore) put(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.DeviceID] = &s
}

func (m *mockStore) get(deviceID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[deviceID]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (m *mockStore) CreateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.healthy {
		return errStoreUnhealthy
	}
	if m.duplicates > 0 {
		m.duplicates--
		return ErrDuplicateDevice
	}
	if _, exists := m.sessions[s.DeviceID]; exists {
		return ErrDuplicateDevice
	}
	cp := *s
	m.sessions[s.DeviceID] = &cp
	return nil
}

func (m *mockStore) GetSession(ctx context.Context, deviceID, pendingToken string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.healthy {
		return nil, errStoreUnhealthy
	}
	s, ok := m.sessions[deviceID]
	if !ok || s.PendingToken != pendingToken {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *mockStore) GetSessionByDevice(ctx context.Context, deviceID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.healthy {
		return nil, errStoreUnhealthy
	}
	s, ok := m.sessions[deviceID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *mockStore) GetSessionByTokenHash(ctx context.Context, hash string, now time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.healthy {
		return nil, errStoreUnhealthy
	}
	for _, s := range m.sessions {
		if s.Status == StatusFinalized && s.SessionTokenHash == hash && s.SessionExpiresAt.After(now) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockStore) MarkExpired(ctx context.Context, deviceID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.healthy {
		return errStoreUnhealthy
	}
	s, ok := m.sessions[deviceID]
	if ok && (s.Status == StatusPending || s.Status == StatusAuthorized) {
		s.Status = StatusExpired
		s.UpdatedAt = now
	}
	return nil
}

func (m *mockStore) Authorize(ctx context.Context, u AuthorizeUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.healthy {
		return false, errStoreUnhealthy
	}
	s, ok := m.sessions[u.DeviceID]
	if !ok || s.PendingToken != u.PendingToken || !u.Now.Before(s.ExpiresAt) {
		return false, nil
	}
	if s.Status != StatusPending && s.Status != StatusAuthorized {
		return false, nil
	}
	s.Status = StatusAuthorized
	s.OAuthAccessToken = u.AccessToken
	s.OAuthAccessTokenSecret = u.AccessSecret
	s.OAuthIdentity = u.Identity
	s.AuthorizedAt = u.Now
	s.UpdatedAt = u.Now
	return true, nil
}

func (m *mockStore) Finalize(ctx context.Context, u FinalizeUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.healthy {
		return false, errStoreUnhealthy
	}
	if m.onFinalize != nil {
		m.onFinalize(m)
	}
	s, ok := m.sessions[u.DeviceID]
	if !ok || s.PendingToken != u.PendingToken || s.Status != StatusAuthorized {
		return false, nil
	}
	s.Status = StatusFinalized
	s.PendingToken = u.NextPendingToken
	s.SessionTokenHash = u.SessionTokenHash
	s.SessionExpiresAt = u.SessionExpiresAt
	s.FinalizedAt = u.Now
	s.UpdatedAt = u.Now
	m.finalizeCommits++
	return true, nil
}

func (m *mockStore) SaveRequestToken(ctx context.Context, t *RequestToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.healthy {
		return errStoreUnhealthy
	}
	cp := *t
	m.requestTokens[t.Token] = &cp
	return nil
}

func (m *mockStore) GetRequestToken(ctx context.Context, token string) (*RequestToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.healthy {
		return nil, errStoreUnhealthy
	}
	t, ok := m.requestTokens[token]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *mockStore) DeleteRequestToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.healthy {
		return errStoreUnhealthy
	}
	delete(m.requestTokens, token)
	return nil
}

func (m *mockStore) CheckHealth(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.healthy {
		return errStoreUnhealthy
	}
	return nil
}

// mockExchanger implements Exchanger without network access
type mockExchanger struct {
	mu           sync.Mutex
	callbackURLs []string
	verifiers    []string
	requestErr   error
	accessErr    error
	grant        *discogs.AccessGrant
}

func newMockExchanger() *mockExchanger {
	return &mockExchanger{
		grant: &discogs.AccessGrant{
			Credentials: discogs.Credentials{Token: "oauth-access-token", Secret: "oauth-access-secret"},
			Username:    "digger",
		},
	}
}

func (e *mockExchanger) RequestToken(ctx context.Context, callbackURL string) (*discogs.Credentials, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.requestErr != nil {
		return nil, e.requestErr
	}
	e.callbackURLs = append(e.callbackURLs, callbackURL)
	return &discogs.Credentials{Token: "temp-token", Secret: "temp-secret"}, nil
}

func (e *mockExchanger) AccessToken(ctx context.Context, temp discogs.Credentials, verifier string) (*discogs.AccessGrant, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.accessErr != nil {
		return nil, e.accessErr
	}
	if temp.Token != "temp-token" || temp.Secret != "temp-secret" {
		return nil, &discogs.UpstreamError{Op: "access_token", StatusCode: 401}
	}
	e.verifiers = append(e.verifiers, verifier)
	return e.grant, nil
}

func (e *mockExchanger) AuthorizeURL(requestToken string) string {
	return "https://www.discogs.com/oauth/authorize?oauth_token=" + requestToken
}

// fakeClock is a settable clock safe for concurrent use
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const testBaseURL = "https://broker.test"

func newTestFlow(store *mockStore, exchanger *mockExchanger, clock *fakeClock) *flowImpl {
	return NewFlow(store, exchanger, testBaseURL, WithClock(clock.Now)).(*flowImpl)
}

// authorizedSession returns a session ready to finalize
func authorizedSession(clock *fakeClock) Session {
	now := clock.Now()
	return Session{
		DeviceID:               "device-finalized",
		PendingToken:           "pending-finalized",
		Status:                 StatusAuthorized,
		PollIntervalSeconds:    5,
		CreatedAt:              now,
		UpdatedAt:              now,
		ExpiresAt:              now.Add(DefaultSessionTTL),
		AuthorizedAt:           now,
		OAuthAccessToken:       "oauth-access-token",
		OAuthAccessTokenSecret: "oauth-access-secret",
		OAuthIdentity:          "digger",
	}
}
