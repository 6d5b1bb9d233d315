// Package integration exercises a running broker over HTTP
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

// Timeouts and delays
const (
	ServiceTimeout = 60 * time.Second
	RetryInterval  = 2 * time.Second
)

// TestSuite provides shared functionality for integration tests
type TestSuite struct {
	T           *testing.T
	Client      *http.Client
	Ctx         context.Context
	Endpoint    string
	ClientToken string
}

// NewSuite creates a suite against BROKER_ENDPOINT, skipping the test when
// no broker is configured
func NewSuite(t *testing.T) *TestSuite {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	endpoint := strings.TrimRight(os.Getenv("BROKER_ENDPOINT"), "/")
	if endpoint == "" {
		t.Skip("BROKER_ENDPOINT not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), ServiceTimeout)
	t.Cleanup(cancel)

	return &TestSuite{
		T: t,
		Client: &http.Client{
			Timeout: 10 * time.Second,
			// The link endpoint redirects to Discogs; keep the 302
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		Ctx:         ctx,
		Endpoint:    endpoint,
		ClientToken: os.Getenv("BROKER_CLIENT_TOKEN"),
	}
}

// WaitForBroker polls the health endpoint until the broker answers
func (s *TestSuite) WaitForBroker() error {
	ticker := time.NewTicker(RetryInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		resp, err := s.Do(http.MethodGet, "/v1/health", nil, nil)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			lastErr = fmt.Errorf("broker returned status %d", resp.StatusCode)
		} else {
			lastErr = err
		}

		select {
		case <-s.Ctx.Done():
			return fmt.Errorf("timeout waiting for broker: %w", lastErr)
		case <-ticker.C:
		}
	}
}

// Do sends a request to the broker
func (s *TestSuite) Do(method, path string, body io.Reader, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(s.Ctx, method, s.Endpoint+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.Client.Do(req)
}

// SessionHeader carries the configured client token
func (s *TestSuite) SessionHeader() http.Header {
	h := http.Header{}
	if s.ClientToken != "" {
		h.Set("X-Broker-Client-Token", s.ClientToken)
	}
	return h
}

// DecodeJSON reads a JSON body into v and closes it
func DecodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
