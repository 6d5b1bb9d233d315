package deviceflow

import (
	"log/slog"
	"time"
)

// Option configures the session engine
type Option func(*flowImpl)

// WithSessionTTL sets how long a device session may take to pair
func WithSessionTTL(d time.Duration) Option {
	return func(f *flowImpl) {
		f.sessionTTL = d
	}
}

// WithSessionTokenTTL sets the lifetime of issued bearer tokens
func WithSessionTokenTTL(d time.Duration) Option {
	return func(f *flowImpl) {
		f.sessionTokenTTL = d
	}
}

// WithPollInterval sets the poll interval advertised to clients
func WithPollInterval(d time.Duration) Option {
	return func(f *flowImpl) {
		f.pollInterval = d
	}
}

// WithClock replaces the wall clock, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(f *flowImpl) {
		f.now = now
	}
}

// WithLogger sets the structured logger
func WithLogger(l *slog.Logger) Option {
	return func(f *flowImpl) {
		f.logger = l
	}
}
