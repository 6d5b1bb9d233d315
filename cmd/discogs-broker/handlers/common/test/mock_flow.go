package test

import (
	"context"

	"github.com/wrale/discogs-device-broker/internal/deviceflow"
)

// MockFlow provides a full implementation of deviceflow.Flow for testing
type MockFlow struct {
	// Common test functions that can be overridden
	StartFunc        func(ctx context.Context) (*deviceflow.StartResult, error)
	StatusFunc       func(ctx context.Context, deviceID, pendingToken string) (*deviceflow.StatusResult, error)
	FinalizeFunc     func(ctx context.Context, deviceID, pendingToken string) (*deviceflow.FinalizeResult, error)
	LinkFunc         func(ctx context.Context, deviceID, pendingToken string) (*deviceflow.LinkResult, error)
	CallbackFunc     func(ctx context.Context, p deviceflow.CallbackParams) error
	AuthenticateFunc func(ctx context.Context, sessionToken string) (*deviceflow.Session, error)
	CheckHealthFunc  func(ctx context.Context) error
}

// Ensure MockFlow implements Flow interface
var _ deviceflow.Flow = (*MockFlow)(nil)

// Start implements deviceflow.Flow
func (m *MockFlow) Start(ctx context.Context) (*deviceflow.StartResult, error) {
	if m.StartFunc != nil {
		return m.StartFunc(ctx)
	}
	return nil, nil
}

// Status implements deviceflow.Flow
func (m *MockFlow) Status(ctx context.Context, deviceID, pendingToken string) (*deviceflow.StatusResult, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, deviceID, pendingToken)
	}
	return nil, nil
}

// Finalize implements deviceflow.Flow
func (m *MockFlow) Finalize(ctx context.Context, deviceID, pendingToken string) (*deviceflow.FinalizeResult, error) {
	if m.FinalizeFunc != nil {
		return m.FinalizeFunc(ctx, deviceID, pendingToken)
	}
	return nil, nil
}

// Link implements deviceflow.Flow
func (m *MockFlow) Link(ctx context.Context, deviceID, pendingToken string) (*deviceflow.LinkResult, error) {
	if m.LinkFunc != nil {
		return m.LinkFunc(ctx, deviceID, pendingToken)
	}
	return nil, nil
}

// Callback implements deviceflow.Flow
func (m *MockFlow) Callback(ctx context.Context, p deviceflow.CallbackParams) error {
	if m.CallbackFunc != nil {
		return m.CallbackFunc(ctx, p)
	}
	return nil
}

// Authenticate implements deviceflow.Flow
func (m *MockFlow) Authenticate(ctx context.Context, sessionToken string) (*deviceflow.Session, error) {
	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx, sessionToken)
	}
	return nil, deviceflow.ErrUnauthorized
}

// CheckHealth implements deviceflow.Flow
func (m *MockFlow) CheckHealth(ctx context.Context) error {
	if m.CheckHealthFunc != nil {
		return m.CheckHealthFunc(ctx)
	}
	return nil
}
