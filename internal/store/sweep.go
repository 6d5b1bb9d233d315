package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultSweepInterval is how often the sweeper runs
	DefaultSweepInterval = time.Hour

	// DefaultSweepGrace keeps dead sessions around briefly so late status
	// polls still see them
	DefaultSweepGrace = time.Hour
)

// SweepResult counts the rows removed by one sweep
type SweepResult struct {
	ExpiredSessions   int64
	FinalizedSessions int64
	RequestTokens     int64
	CacheEntries      int64
}

// Sweep deletes rows that can no longer be used. Sessions are kept for
// grace past their deadline; the rate limiter cursor is never touched.
func (p *Postgres) Sweep(ctx context.Context, now time.Time, grace time.Duration) (SweepResult, error) {
	var res SweepResult
	cutoff := now.Add(-grace).Unix()

	steps := []struct {
		name  string
		query string
		arg   int64
		count *int64
	}{
		{
			name:  "expired sessions",
			query: `DELETE FROM device_sessions WHERE status <> 'finalized' AND expires_at <= $1`,
			arg:   cutoff,
			count: &res.ExpiredSessions,
		},
		{
			name:  "finalized sessions",
			query: `DELETE FROM device_sessions WHERE status = 'finalized' AND session_expires_at <= $1`,
			arg:   cutoff,
			count: &res.FinalizedSessions,
		},
		{
			name:  "request tokens",
			query: `DELETE FROM oauth_request_tokens WHERE expires_at <= $1`,
			arg:   now.Unix(),
			count: &res.RequestTokens,
		},
		{
			name:  "cache entries",
			query: `DELETE FROM discogs_search_cache WHERE expires_at <= $1`,
			arg:   now.Unix(),
			count: &res.CacheEntries,
		},
	}

	for _, step := range steps {
		r, err := p.db.ExecContext(ctx, step.query, step.arg)
		if err != nil {
			return res, fmt.Errorf("sweeping %s: %w", step.name, err)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return res, fmt.Errorf("sweeping %s: %w", step.name, err)
		}
		*step.count = n
	}

	return res, nil
}

// sweepFunc is the operation a Sweeper runs
type sweepFunc func(ctx context.Context, now time.Time, grace time.Duration) (SweepResult, error)

// Sweeper runs Sweep periodically until its context ends
type Sweeper struct {
	sweep    sweepFunc
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper over p
func NewSweeper(p *Postgres, interval, grace time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if grace < 0 {
		grace = DefaultSweepGrace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		sweep:    p.Sweep,
		interval: interval,
		grace:    grace,
		now:      time.Now,
		logger:   logger,
	}
}

// Run sweeps once immediately and then every interval. A failed sweep is
// logged and retried at the next tick. Run returns nil when ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.runOnce(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	res, err := s.sweep(ctx, s.now(), s.grace)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "sweep failed", slog.Any("error", err))
		}
		return
	}

	s.logger.InfoContext(ctx, "sweep complete",
		slog.Int64("expired_sessions", res.ExpiredSessions),
		slog.Int64("finalized_sessions", res.FinalizedSessions),
		slog.Int64("request_tokens", res.RequestTokens),
		slog.Int64("cache_entries", res.CacheEntries))
}
