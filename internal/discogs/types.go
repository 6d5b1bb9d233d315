// Package discogs provides the OAuth 1.0a bridge to the Discogs API
package discogs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Common errors returned by the client
var (
	ErrMissingConsumer = errors.New("discogs consumer key and secret are required")
	ErrMissingFields   = errors.New("discogs response missing oauth_token fields")
)

// UpstreamError reports a failed call to Discogs. The upstream body is
// intentionally not retained.
type UpstreamError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("discogs %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("discogs %s failed: HTTP %d", e.Op, e.StatusCode)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Credentials is an OAuth 1.0a token and its secret
type Credentials struct {
	Token  string
	Secret string
}

// AccessGrant is the long-lived credential returned by the access token leg
type AccessGrant struct {
	Credentials
	Username string
	UserID   string
}

// Identity returns the best-effort upstream identity for the grant
func (g *AccessGrant) Identity() string {
	if g.Username != "" {
		return g.Username
	}
	return g.UserID
}

// SearchQuery holds the lookup fields sent to the database search endpoint
type SearchQuery struct {
	Artist string
	Title  string
	Album  string
}

// SearchResponse is the subset of the database search response the broker reads
type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

// SearchResult is a single release entry from a database search
type SearchResult struct {
	Title string   `json:"title"`
	Year  Year     `json:"year"`
	Label StringList `json:"label"`
	Genre StringList `json:"genre"`
	Style StringList `json:"style"`
	URI   string   `json:"uri"`
}

// Year accepts either a JSON string or number
type Year string

// UnmarshalJSON implements json.Unmarshaler
func (y *Year) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*y = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*y = Year(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decoding year: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*y = Year(strconv.FormatInt(i, 10))
		return nil
	}
	*y = Year(n.String())
	return nil
}

// StringList decodes a JSON array of strings. Any other value decodes as
// empty and non-string elements are dropped.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler
func (l *StringList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		*l = nil
		return nil
	}

	out := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
		}
	}
	*l = out
	return nil
}

// Pacer gates outbound search calls, e.g. a shared rate limiter
type Pacer interface {
	Do(ctx context.Context, call func(ctx context.Context) (*http.Response, error)) (*http.Response, error)
}

// unpaced issues the call directly
type unpaced struct{}

func (unpaced) Do(ctx context.Context, call func(ctx context.Context) (*http.Response, error)) (*http.Response, error) {
	return call(ctx)
}
