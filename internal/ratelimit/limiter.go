// Package ratelimit paces upstream calls across every broker process through
// a cursor held in a shared store
package ratelimit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBucket is the single cursor shared by all upstream calls
	DefaultBucket = "discogs-api-global"

	// DefaultMinInterval is the minimum spacing between upstream calls
	DefaultMinInterval = 1100 * time.Millisecond

	// DefaultRetryAfter is the backoff used when a 429 carries no usable
	// Retry-After header
	DefaultRetryAfter = 30 * time.Second

	maxDrainBytes = 64 << 10
)

// CursorStore holds the last reserved request slot per bucket, in epoch
// milliseconds. Each method must be a single atomic operation.
type CursorStore interface {
	// LoadCursor returns the current slot and whether the bucket exists
	LoadCursor(ctx context.Context, bucket string) (int64, bool, error)

	// InsertCursor creates the bucket at slot if it does not exist yet,
	// reporting whether it was created
	InsertCursor(ctx context.Context, bucket string, slot int64) (bool, error)

	// AdvanceCursor moves the bucket from prev to next only if it still
	// holds prev, reporting whether it moved
	AdvanceCursor(ctx context.Context, bucket string, prev, next int64) (bool, error)
}

// Limiter reserves evenly spaced upstream request slots with a
// compare-and-swap loop over a CursorStore. It guarantees minimum spacing,
// not FIFO fairness.
type Limiter struct {
	store       CursorStore
	bucket      string
	minInterval time.Duration
	retryAfter  time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
}

// Option configures a Limiter
type Option func(*Limiter)

// WithBucket sets the cursor bucket name
func WithBucket(bucket string) Option {
	return func(l *Limiter) {
		l.bucket = bucket
	}
}

// WithMinInterval sets the minimum spacing between calls
func WithMinInterval(d time.Duration) Option {
	return func(l *Limiter) {
		l.minInterval = d
	}
}

// WithDefaultRetryAfter sets the 429 backoff used without a Retry-After header
func WithDefaultRetryAfter(d time.Duration) Option {
	return func(l *Limiter) {
		l.retryAfter = d
	}
}

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithSleep replaces the context-aware sleep
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		l.sleep = sleep
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// New creates a Limiter over store
func New(store CursorStore, opts ...Option) *Limiter {
	l := &Limiter{
		store:       store,
		bucket:      DefaultBucket,
		minInterval: DefaultMinInterval,
		retryAfter:  DefaultRetryAfter,
		now:         time.Now,
		sleep:       sleepContext,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.minInterval < 0 {
		l.minInterval = 0
	}
	return l
}

// Wait reserves the next request slot and blocks until it arrives
func (l *Limiter) Wait(ctx context.Context) error {
	interval := l.minInterval.Milliseconds()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		nowMS := l.now().UnixMilli()
		last, found, err := l.store.LoadCursor(ctx, l.bucket)
		if err != nil {
			return fmt.Errorf("loading rate limit cursor: %w", err)
		}

		if !found {
			inserted, err := l.store.InsertCursor(ctx, l.bucket, nowMS)
			if err != nil {
				return fmt.Errorf("creating rate limit cursor: %w", err)
			}
			if inserted {
				return nil
			}
			continue
		}

		reserved := max(last+interval, nowMS)
		advanced, err := l.store.AdvanceCursor(ctx, l.bucket, last, reserved)
		if err != nil {
			return fmt.Errorf("advancing rate limit cursor: %w", err)
		}
		if !advanced {
			continue
		}

		return l.sleep(ctx, time.Duration(reserved-nowMS)*time.Millisecond)
	}
}

// Do runs call in a reserved slot. A 429 response is retried exactly once
// after its Retry-After delay and a fresh slot; any other response is
// returned to the caller as is.
func (l *Limiter) Do(ctx context.Context, call func(ctx context.Context) (*http.Response, error)) (*http.Response, error) {
	if err := l.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := call(ctx)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		return resp, nil
	}

	delay := parseRetryAfter(resp.Header.Get("Retry-After"), l.retryAfter)
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	resp.Body.Close()

	l.logger.WarnContext(ctx, "upstream rate limited, retrying once",
		slog.String("bucket", l.bucket),
		slog.Duration("retry_after", delay))

	if err := l.sleep(ctx, delay); err != nil {
		return nil, err
	}
	if err := l.Wait(ctx); err != nil {
		return nil, err
	}

	return call(ctx)
}

// parseRetryAfter reads a positive delay in whole seconds
func parseRetryAfter(header string, fallback time.Duration) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
