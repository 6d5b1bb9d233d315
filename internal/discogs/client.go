package discogs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// Discogs endpoint paths
	requestTokenPath = "/oauth/request_token"
	accessTokenPath  = "/oauth/access_token"
	authorizePath    = "/oauth/authorize"
	searchPath       = "/database/search"

	// DefaultBaseURL is the Discogs API root
	DefaultBaseURL = "https://api.discogs.com"

	// DefaultWebURL is the Discogs website root used for authorize and release links
	DefaultWebURL = "https://www.discogs.com"

	defaultUserAgent = "discogs-device-broker/1.0"
	defaultTimeout   = 10 * time.Second
	searchPageSize   = "15"
	maxBodyBytes     = 1 << 20
)

// Config holds the consumer credential and endpoints for the client
type Config struct {
	ConsumerKey    string
	ConsumerSecret string
	BaseURL        string
	WebURL         string
	UserAgent      string
	HTTPClient     *http.Client
	Pacer          Pacer
}

// Client performs the three-legged OAuth 1.0a handshake and signed searches
// using PLAINTEXT signatures
type Client struct {
	client         *http.Client
	pacer          Pacer
	consumerKey    string
	consumerSecret string
	baseURL        string
	webURL         string
	userAgent      string
	now            func() time.Time
}

// NewClient creates a new Discogs client
func NewClient(cfg Config) (*Client, error) {
	if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" {
		return nil, ErrMissingConsumer
	}

	c := &Client{
		client:         cfg.HTTPClient,
		pacer:          cfg.Pacer,
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		baseURL:        strings.TrimSuffix(cfg.BaseURL, "/"),
		webURL:         strings.TrimSuffix(cfg.WebURL, "/"),
		userAgent:      cfg.UserAgent,
		now:            time.Now,
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: defaultTimeout}
	}
	if c.pacer == nil {
		c.pacer = unpaced{}
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.webURL == "" {
		c.webURL = DefaultWebURL
	}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}

	for _, raw := range []string{c.baseURL, c.webURL} {
		if _, err := url.Parse(raw); err != nil {
			return nil, fmt.Errorf("invalid discogs url %q: %w", raw, err)
		}
	}

	return c, nil
}

// AuthorizeURL returns the page where the user approves a temporary token
func (c *Client) AuthorizeURL(requestToken string) string {
	return c.webURL + authorizePath + "?oauth_token=" + url.QueryEscape(requestToken)
}

// ReleaseURL turns a relative resource URI from a search result into a
// website link
func (c *Client) ReleaseURL(uri string) string {
	if uri == "" {
		return ""
	}
	return c.webURL + uri
}

// RequestToken obtains a temporary token bound to callbackURL
func (c *Client) RequestToken(ctx context.Context, callbackURL string) (*Credentials, error) {
	params := c.oauthParams("")
	params["oauth_callback"] = callbackURL

	values, err := c.post(ctx, "request_token", requestTokenPath, params)
	if err != nil {
		return nil, err
	}

	creds := &Credentials{
		Token:  values.Get("oauth_token"),
		Secret: values.Get("oauth_token_secret"),
	}
	if creds.Token == "" || creds.Secret == "" {
		return nil, &UpstreamError{Op: "request_token", StatusCode: http.StatusOK, Err: ErrMissingFields}
	}

	return creds, nil
}

// AccessToken exchanges an authorized temporary token for the long-lived
// access token
func (c *Client) AccessToken(ctx context.Context, temp Credentials, verifier string) (*AccessGrant, error) {
	params := c.oauthParams(temp.Secret)
	params["oauth_token"] = temp.Token
	params["oauth_verifier"] = verifier

	values, err := c.post(ctx, "access_token", accessTokenPath, params)
	if err != nil {
		return nil, err
	}

	grant := &AccessGrant{
		Credentials: Credentials{
			Token:  values.Get("oauth_token"),
			Secret: values.Get("oauth_token_secret"),
		},
		Username: values.Get("username"),
		UserID:   values.Get("user_id"),
	}
	if grant.Token == "" || grant.Secret == "" {
		return nil, &UpstreamError{Op: "access_token", StatusCode: http.StatusOK, Err: ErrMissingFields}
	}

	return grant, nil
}

// Search runs a signed release search through the client's pacer
func (c *Client) Search(ctx context.Context, creds Credentials, q SearchQuery) (*SearchResponse, error) {
	query := url.Values{}
	query.Set("artist", q.Artist)
	query.Set("track", q.Title)
	query.Set("type", "release")
	query.Set("per_page", searchPageSize)
	if q.Album != "" {
		query.Set("release_title", q.Album)
	}
	endpoint := c.baseURL + searchPath + "?" + query.Encode()

	resp, err := c.pacer.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("creating search request: %w", err)
		}

		// Nonce and timestamp are fresh for every attempt
		params := c.oauthParams(creds.Secret)
		params["oauth_token"] = creds.Token
		c.setHeaders(req, params)

		return c.client.Do(req)
	})
	if err != nil {
		return nil, &UpstreamError{Op: "search", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &UpstreamError{Op: "search", StatusCode: resp.StatusCode}
	}

	var out SearchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&out); err != nil {
		return nil, &UpstreamError{Op: "search", StatusCode: resp.StatusCode, Err: fmt.Errorf("parsing search response: %w", err)}
	}

	return &out, nil
}

// post sends a signed token request and parses the form-encoded reply
func (c *Client) post(ctx context.Context, op, path string, params map[string]string) (url.Values, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", op, err)
	}
	c.setHeaders(req, params)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &UpstreamError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Op: op, StatusCode: resp.StatusCode}
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, &UpstreamError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("parsing response: %w", err)}
	}

	return values, nil
}

// oauthParams returns the protocol parameters common to every signed request
func (c *Client) oauthParams(tokenSecret string) map[string]string {
	return map[string]string{
		"oauth_consumer_key":     c.consumerKey,
		"oauth_nonce":            strings.ReplaceAll(uuid.NewString(), "-", ""),
		"oauth_signature_method": "PLAINTEXT",
		"oauth_timestamp":        strconv.FormatInt(c.now().Unix(), 10),
		"oauth_version":          "1.0",
		"oauth_signature":        c.consumerSecret + "&" + tokenSecret,
	}
}

func (c *Client) setHeaders(req *http.Request, params map[string]string) {
	req.Header.Set("Authorization", authorizationHeader(params))
	req.Header.Set("User-Agent", c.userAgent)
}

// authorizationHeader renders params as an OAuth Authorization header value
func authorizationHeader(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, percentEncode(k)+`="`+percentEncode(params[k])+`"`)
	}
	return "OAuth " + strings.Join(pairs, ", ")
}

// percentEncode escapes per RFC 3986, leaving only unreserved characters
func percentEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
