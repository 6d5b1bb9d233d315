package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wrale/discogs-device-broker/cmd/discogs-broker/handlers/common/test"
	"github.com/wrale/discogs-device-broker/internal/deviceflow"
)

func newTestHandler(flow *test.MockFlow) *Handler {
	return New(Config{Flow: flow, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var got map[string]any
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	return got
}

func TestStart(t *testing.T) {
	flow := &test.MockFlow{
		StartFunc: func(ctx context.Context) (*deviceflow.StartResult, error) {
			return &deviceflow.StartResult{
				DeviceID:            "dev-1",
				PendingToken:        "pend-1",
				AuthURL:             "https://broker.test/v1/discogs/oauth/link?device_id=dev-1&pending_token=pend-1",
				PollIntervalSeconds: 5,
				ExpiresAt:           1700000900,
			}, nil
		},
	}

	w := httptest.NewRecorder()
	newTestHandler(flow).Start(w, httptest.NewRequest(http.MethodPost, "/v1/device/session/start", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}

	want := map[string]any{
		"device_id":             "dev-1",
		"pending_token":         "pend-1",
		"auth_url":              "https://broker.test/v1/discogs/oauth/link?device_id=dev-1&pending_token=pend-1",
		"poll_interval_seconds": float64(5),
		"expires_at":            float64(1700000900),
	}
	if diff := cmp.Diff(want, decodeBody(t, w)); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestStartFailure(t *testing.T) {
	flow := &test.MockFlow{
		StartFunc: func(ctx context.Context) (*deviceflow.StartResult, error) {
			return nil, errors.New("creating device session: db down")
		},
	}

	w := httptest.NewRecorder()
	newTestHandler(flow).Start(w, httptest.NewRequest(http.MethodPost, "/v1/device/session/start", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	got := decodeBody(t, w)
	if got["error"] != "internal_error" || strings.Contains(w.Body.String(), "db down") {
		t.Errorf("unexpected body %v", got)
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name       string
		result     *deviceflow.StatusResult
		err        error
		wantStatus int
		wantBody   map[string]any
	}{
		{
			name:       "pending",
			result:     &deviceflow.StatusResult{Status: deviceflow.StatusPending, ExpiresAt: 1000},
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"status": "pending", "expires_at": float64(1000)},
		},
		{
			name:       "authorized",
			result:     &deviceflow.StatusResult{Status: deviceflow.StatusAuthorized, ExpiresAt: 1000},
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"status": "authorized", "expires_at": float64(1000)},
		},
		{
			name:       "expired carries status",
			result:     &deviceflow.StatusResult{Status: deviceflow.StatusExpired, ExpiresAt: 1000},
			wantStatus: http.StatusGone,
			wantBody: map[string]any{
				"status":     "expired",
				"expires_at": float64(1000),
				"error":      "expired",
				"message":    "device session expired; restart auth",
			},
		},
		{
			name:       "not found",
			err:        deviceflow.ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantBody:   map[string]any{"error": "not_found", "message": "device session not found"},
		},
		{
			name:       "missing params",
			err:        deviceflow.ErrInvalidParams,
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]any{"error": "invalid_params", "message": "device_id and pending_token are required"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotDevice, gotPending string
			flow := &test.MockFlow{
				StatusFunc: func(ctx context.Context, deviceID, pendingToken string) (*deviceflow.StatusResult, error) {
					gotDevice, gotPending = deviceID, pendingToken
					return tt.result, tt.err
				},
			}

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/v1/device/session/status?device_id=dev-1&pending_token=pend-1", nil)
			newTestHandler(flow).Status(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if gotDevice != "dev-1" || gotPending != "pend-1" {
				t.Errorf("flow received (%q, %q)", gotDevice, gotPending)
			}
			if diff := cmp.Diff(tt.wantBody, decodeBody(t, w)); diff != "" {
				t.Errorf("body mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFinalize(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		result     *deviceflow.FinalizeResult
		err        error
		wantCalled bool
		wantStatus int
		wantBody   map[string]any
	}{
		{
			name:       "issues token",
			body:       `{"device_id":"dev-1","pending_token":"pend-1"}`,
			result:     &deviceflow.FinalizeResult{SessionToken: "tok", ExpiresAt: 5000},
			wantCalled: true,
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"session_token": "tok", "expires_at": float64(5000)},
		},
		{
			name:       "invalid json",
			body:       `{"device_id":`,
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]any{"error": "invalid_json", "message": "request body must be valid JSON"},
		},
		{
			name:       "not ready",
			body:       `{"device_id":"dev-1","pending_token":"pend-1"}`,
			err:        deviceflow.ErrNotReady,
			wantCalled: true,
			wantStatus: http.StatusConflict,
			wantBody:   map[string]any{"error": "not_ready", "message": "device session is not authorized yet"},
		},
		{
			name:       "already finalized",
			body:       `{"device_id":"dev-1","pending_token":"stale"}`,
			err:        deviceflow.ErrAlreadyFinalized,
			wantCalled: true,
			wantStatus: http.StatusConflict,
			wantBody:   map[string]any{"error": "already_finalized", "message": "device session has already been finalized"},
		},
		{
			name:       "expired",
			body:       `{"device_id":"dev-1","pending_token":"pend-1"}`,
			err:        deviceflow.ErrExpired,
			wantCalled: true,
			wantStatus: http.StatusGone,
			wantBody:   map[string]any{"error": "expired", "message": "device session expired; restart auth"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			flow := &test.MockFlow{
				FinalizeFunc: func(ctx context.Context, deviceID, pendingToken string) (*deviceflow.FinalizeResult, error) {
					called = true
					return tt.result, tt.err
				},
			}

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/v1/device/session/finalize", strings.NewReader(tt.body))
			newTestHandler(flow).Finalize(w, r)

			if called != tt.wantCalled {
				t.Errorf("flow called = %v, want %v", called, tt.wantCalled)
			}
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if diff := cmp.Diff(tt.wantBody, decodeBody(t, w)); diff != "" {
				t.Errorf("body mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
