// Package search serves authenticated release lookups from a shared cache,
// falling back to a rate limited upstream search.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wrale/discogs-device-broker/internal/deviceflow"
	"github.com/wrale/discogs-device-broker/internal/discogs"
)

// DefaultCacheTTL is how long a lookup result stays cached
const DefaultCacheTTL = 7 * 24 * time.Hour

// Authenticator resolves bearer tokens to finalized sessions
type Authenticator interface {
	Authenticate(ctx context.Context, sessionToken string) (*deviceflow.Session, error)
}

// Searcher performs signed upstream searches
type Searcher interface {
	Search(ctx context.Context, creds discogs.Credentials, q discogs.SearchQuery) (*discogs.SearchResponse, error)
	ReleaseURL(uri string) string
}

// Cache stores serialized payloads by key
type Cache interface {
	GetCacheEntry(ctx context.Context, key string, now time.Time) ([]byte, bool, error)
	PutCacheEntry(ctx context.Context, key string, payload []byte, cachedAt, expiresAt time.Time) error
}

// Option configures a Proxy
type Option func(*Proxy)

// WithCacheTTL sets the lifetime of cached payloads
func WithCacheTTL(d time.Duration) Option {
	return func(p *Proxy) {
		p.cacheTTL = d
	}
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(p *Proxy) {
		p.now = now
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(p *Proxy) {
		p.logger = l
	}
}

// Proxy answers lookups for paired devices
type Proxy struct {
	auth     Authenticator
	searcher Searcher
	cache    Cache
	cacheTTL time.Duration
	now      func() time.Time
	logger   *slog.Logger
	group    singleflight.Group
}

// NewProxy creates a search proxy
func NewProxy(auth Authenticator, searcher Searcher, cache Cache, opts ...Option) *Proxy {
	p := &Proxy{
		auth:     auth,
		searcher: searcher,
		cache:    cache,
		cacheTTL: DefaultCacheTTL,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Lookup authenticates the bearer token and answers q
func (p *Proxy) Lookup(ctx context.Context, sessionToken string, q Query) (*Payload, error) {
	session, err := p.Authenticate(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	return p.Search(ctx, session, q)
}

// Authenticate resolves a bearer token to its finalized session
func (p *Proxy) Authenticate(ctx context.Context, sessionToken string) (*deviceflow.Session, error) {
	return p.auth.Authenticate(ctx, sessionToken)
}

// Search answers q for an authenticated session from the cache or upstream
func (p *Proxy) Search(ctx context.Context, session *deviceflow.Session, q Query) (*Payload, error) {
	q = Query{
		Artist: strings.TrimSpace(q.Artist),
		Title:  strings.TrimSpace(q.Title),
		Album:  strings.TrimSpace(q.Album),
	}
	if q.Artist == "" || q.Title == "" {
		return nil, deviceflow.ErrInvalidParams.WithMessage("artist and title are required")
	}

	key := CacheKey(q)
	if payload := p.cached(ctx, key); payload != nil {
		payload.CacheHit = true
		return payload, nil
	}

	creds := discogs.Credentials{
		Token:  session.OAuthAccessToken,
		Secret: session.OAuthAccessTokenSecret,
	}
	// Misses are shared per device so a call never runs on another
	// session's upstream credential
	ch := p.group.DoChan(session.DeviceID+"\x00"+key, func() (any, error) {
		return p.fetch(context.WithoutCancel(ctx), key, creds, q)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		payload := *res.Val.(*Payload)
		return &payload, nil
	}
}

// cached returns the unexpired payload for key, or nil on a miss. Read
// failures and undecodable rows count as misses.
func (p *Proxy) cached(ctx context.Context, key string) *Payload {
	raw, ok, err := p.cache.GetCacheEntry(ctx, key, p.now())
	if err != nil {
		p.logger.WarnContext(ctx, "search cache read failed",
			slog.String("cache_key", key), slog.Any("error", err))
		return nil
	}
	if !ok {
		return nil
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		p.logger.WarnContext(ctx, "discarding malformed cache entry",
			slog.String("cache_key", key), slog.Any("error", err))
		return nil
	}
	if !validMatchQuality(payload.MatchQuality) {
		p.logger.WarnContext(ctx, "discarding malformed cache entry",
			slog.String("cache_key", key), slog.String("match_quality", payload.MatchQuality))
		return nil
	}
	return &payload
}

// fetch runs the upstream search and stores the normalized answer
func (p *Proxy) fetch(ctx context.Context, key string, creds discogs.Credentials, q Query) (*Payload, error) {
	resp, err := p.searcher.Search(ctx, creds, discogs.SearchQuery{
		Artist: q.Artist,
		Title:  q.Title,
		Album:  q.Album,
	})
	if err != nil {
		return nil, fmt.Errorf("searching releases: %w", err)
	}

	payload := selectResult(q.Artist, resp.Results, p.searcher.ReleaseURL)

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding search payload: %w", err)
	}
	now := p.now()
	if err := p.cache.PutCacheEntry(ctx, key, raw, now, now.Add(p.cacheTTL)); err != nil {
		return nil, fmt.Errorf("caching search payload: %w", err)
	}

	p.logger.InfoContext(ctx, "search cached",
		slog.String("cache_key", key),
		slog.String("match_quality", payload.MatchQuality))
	return payload, nil
}
