package deviceflow

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrale/discogs-device-broker/internal/discogs"
)

func pendingSession(clock *fakeClock) Session {
	s := authorizedSession(clock)
	s.Status = StatusPending
	s.OAuthAccessToken = ""
	s.OAuthAccessTokenSecret = ""
	s.OAuthIdentity = ""
	s.AuthorizedAt = time.Time{}
	return s
}

func TestLink(t *testing.T) {
	store := newMockStore()
	clock := newFakeClock()
	exchanger := newMockExchanger()
	store.put(pendingSession(clock))
	f := newTestFlow(store, exchanger, clock)

	res, err := f.Link(context.Background(), "device-finalized", "pending-finalized")
	require.NoError(t, err)
	assert.False(t, res.AlreadyLinked)
	assert.Equal(t, "https://www.discogs.com/oauth/authorize?oauth_token=temp-token", res.AuthorizeURL)

	require.Len(t, exchanger.callbackURLs, 1)
	cb, err := url.Parse(exchanger.callbackURLs[0])
	require.NoError(t, err)
	assert.Equal(t, "/v1/discogs/oauth/callback", cb.Path)
	assert.Equal(t, "device-finalized", cb.Query().Get("device_id"))
	assert.Equal(t, "pending-finalized", cb.Query().Get("pending_token"))

	temp, err := store.GetRequestToken(context.Background(), "temp-token")
	require.NoError(t, err)
	require.NotNil(t, temp)
	assert.Equal(t, "temp-secret", temp.Secret)
	assert.Equal(t, "device-finalized", temp.DeviceID)
	assert.Equal(t, "pending-finalized", temp.PendingToken)
	assert.Equal(t, clock.Now().Add(DefaultSessionTTL), temp.ExpiresAt)
}

func TestLinkOutcomes(t *testing.T) {
	upstreamErr := &discogs.UpstreamError{Op: "request_token", StatusCode: 500}

	tests := []struct {
		name          string
		setup         func(*mockStore, *fakeClock, *mockExchanger)
		pending       string
		wantErr       error
		wantLinked    bool
		wantUpstream  bool
		wantStoredExp bool
	}{
		{
			name:    "unknown session",
			setup:   func(m *mockStore, c *fakeClock, e *mockExchanger) {},
			pending: "pending-finalized",
			wantErr: ErrNotFound,
		},
		{
			name: "expired session",
			setup: func(m *mockStore, c *fakeClock, e *mockExchanger) {
				m.put(pendingSession(c))
				c.Advance(DefaultSessionTTL)
			},
			pending:       "pending-finalized",
			wantErr:       ErrExpired,
			wantStoredExp: true,
		},
		{
			name: "finalized session replayed by its pair",
			setup: func(m *mockStore, c *fakeClock, e *mockExchanger) {
				m.put(authorizedSession(c))
				f := newTestFlow(m, e, c)
				if _, err := f.Finalize(context.Background(), "device-finalized", "pending-finalized"); err != nil {
					panic(err)
				}
			},
			pending:    "pending-finalized",
			wantLinked: true,
		},
		{
			name: "upstream failure",
			setup: func(m *mockStore, c *fakeClock, e *mockExchanger) {
				m.put(pendingSession(c))
				e.requestErr = upstreamErr
			},
			pending:      "pending-finalized",
			wantUpstream: true,
		},
		{
			name:    "missing pending token",
			setup:   func(m *mockStore, c *fakeClock, e *mockExchanger) {},
			pending: "",
			wantErr: ErrInvalidParams,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			clock := newFakeClock()
			exchanger := newMockExchanger()
			tt.setup(store, clock, exchanger)
			f := newTestFlow(store, exchanger, clock)

			res, err := f.Link(context.Background(), "device-finalized", tt.pending)
			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			case tt.wantUpstream:
				var upErr *discogs.UpstreamError
				require.True(t, errors.As(err, &upErr))
				assert.Empty(t, store.requestTokens)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantLinked, res.AlreadyLinked)
				assert.Empty(t, res.AuthorizeURL)
			}

			if tt.wantStoredExp {
				assert.Equal(t, StatusExpired, store.get("device-finalized").Status)
			}
		})
	}
}

func TestCallback(t *testing.T) {
	store := newMockStore()
	clock := newFakeClock()
	exchanger := newMockExchanger()
	store.put(pendingSession(clock))
	f := newTestFlow(store, exchanger, clock)
	ctx := context.Background()

	_, err := f.Link(ctx, "device-finalized", "pending-finalized")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	err = f.Callback(ctx, CallbackParams{
		DeviceID:      "device-finalized",
		PendingToken:  "pending-finalized",
		OAuthToken:    "temp-token",
		OAuthVerifier: " verifier ",
	})
	require.NoError(t, err)

	stored := store.get("device-finalized")
	assert.Equal(t, StatusAuthorized, stored.Status)
	assert.Equal(t, "oauth-access-token", stored.OAuthAccessToken)
	assert.Equal(t, "oauth-access-secret", stored.OAuthAccessTokenSecret)
	assert.Equal(t, "digger", stored.OAuthIdentity)
	assert.Equal(t, clock.Now(), stored.AuthorizedAt)
	assert.Equal(t, []string{"verifier"}, exchanger.verifiers)
	assert.Empty(t, store.requestTokens, "consumed request token must be deleted")

	res, err := f.Finalize(ctx, "device-finalized", "pending-finalized")
	require.NoError(t, err)
	assert.Equal(t, derivedToken, res.SessionToken)
}

func TestCallbackFailures(t *testing.T) {
	valid := CallbackParams{
		DeviceID:      "device-finalized",
		PendingToken:  "pending-finalized",
		OAuthToken:    "temp-token",
		OAuthVerifier: "verifier",
	}
	upstreamErr := &discogs.UpstreamError{Op: "access_token", StatusCode: 401}

	tests := []struct {
		name         string
		params       func() CallbackParams
		setup        func(*mockStore, *fakeClock, *mockExchanger)
		wantErr      error
		wantUpstream bool
		wantStatus   Status
	}{
		{
			name:    "missing verifier",
			params:  func() CallbackParams { p := valid; p.OAuthVerifier = ""; return p },
			setup:   func(m *mockStore, c *fakeClock, e *mockExchanger) { m.put(pendingSession(c)) },
			wantErr: ErrInvalidParams,
		},
		{
			name:    "unknown session",
			params:  func() CallbackParams { return valid },
			setup:   func(m *mockStore, c *fakeClock, e *mockExchanger) {},
			wantErr: ErrNotFound,
		},
		{
			name:   "expired session",
			params: func() CallbackParams { return valid },
			setup: func(m *mockStore, c *fakeClock, e *mockExchanger) {
				m.put(pendingSession(c))
				c.Advance(DefaultSessionTTL + time.Second)
			},
			wantErr:    ErrExpired,
			wantStatus: StatusExpired,
		},
		{
			name:       "request token never issued",
			params:     func() CallbackParams { return valid },
			setup:      func(m *mockStore, c *fakeClock, e *mockExchanger) { m.put(pendingSession(c)) },
			wantErr:    ErrInvalidParams,
			wantStatus: StatusPending,
		},
		{
			name:   "request token bound to another session",
			params: func() CallbackParams { return valid },
			setup: func(m *mockStore, c *fakeClock, e *mockExchanger) {
				m.put(pendingSession(c))
				m.requestTokens["temp-token"] = &RequestToken{
					Token: "temp-token", Secret: "temp-secret",
					DeviceID: "other-device", PendingToken: "pending-finalized",
					ExpiresAt: c.Now().Add(time.Hour),
				}
			},
			wantErr:    ErrInvalidParams,
			wantStatus: StatusPending,
		},
		{
			name:   "upstream exchange failure",
			params: func() CallbackParams { return valid },
			setup: func(m *mockStore, c *fakeClock, e *mockExchanger) {
				m.put(pendingSession(c))
				m.requestTokens["temp-token"] = &RequestToken{
					Token: "temp-token", Secret: "temp-secret",
					DeviceID: "device-finalized", PendingToken: "pending-finalized",
					ExpiresAt: c.Now().Add(time.Hour),
				}
				e.accessErr = upstreamErr
			},
			wantUpstream: true,
			wantStatus:   StatusPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			clock := newFakeClock()
			exchanger := newMockExchanger()
			tt.setup(store, clock, exchanger)
			f := newTestFlow(store, exchanger, clock)

			err := f.Callback(context.Background(), tt.params())
			if tt.wantUpstream {
				var upErr *discogs.UpstreamError
				require.True(t, errors.As(err, &upErr))
			} else {
				require.ErrorIs(t, err, tt.wantErr)
			}

			if tt.wantStatus != "" {
				stored := store.get("device-finalized")
				assert.Equal(t, tt.wantStatus, stored.Status)
				assert.Empty(t, stored.OAuthAccessToken)
			}
		})
	}
}

func TestCallbackSessionDiesDuringExchange(t *testing.T) {
	store := newMockStore()
	clock := newFakeClock()
	exchanger := newMockExchanger()
	s := pendingSession(clock)
	s.ExpiresAt = clock.Now().Add(time.Second)
	store.put(s)
	store.requestTokens["temp-token"] = &RequestToken{
		Token: "temp-token", Secret: "temp-secret",
		DeviceID: "device-finalized", PendingToken: "pending-finalized",
		ExpiresAt: clock.Now().Add(time.Hour),
	}

	f := newTestFlow(store, exchanger, clock)
	f.exchanger = &clockAdvancingExchanger{mockExchanger: exchanger, clock: clock, by: 2 * time.Second}

	err := f.Callback(context.Background(), CallbackParams{
		DeviceID:      "device-finalized",
		PendingToken:  "pending-finalized",
		OAuthToken:    "temp-token",
		OAuthVerifier: "verifier",
	})
	require.ErrorIs(t, err, ErrExpired)
	assert.Empty(t, store.get("device-finalized").OAuthAccessToken)
}

// clockAdvancingExchanger moves the clock forward while exchanging
type clockAdvancingExchanger struct {
	*mockExchanger
	clock *fakeClock
	by    time.Duration
}

func (e *clockAdvancingExchanger) AccessToken(ctx context.Context, temp discogs.Credentials, verifier string) (*discogs.AccessGrant, error) {
	e.clock.Advance(e.by)
	return e.mockExchanger.AccessToken(ctx, temp, verifier)
}

func TestSessionURLs(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		want    string
	}{
		{
			name:    "trailing slash",
			baseURL: "https://broker.test/",
			want:    "https://broker.test/v1/discogs/oauth/link?device_id=d+1&pending_token=p%261",
		},
		{
			name:    "base with path",
			baseURL: "https://example.com/broker",
			want:    "https://example.com/broker/v1/discogs/oauth/link?device_id=d+1&pending_token=p%261",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFlow(newMockStore(), newMockExchanger(), tt.baseURL).(*flowImpl)
			if got := f.linkURL("d 1", "p&1"); got != tt.want {
				t.Errorf("linkURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
