package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wrale/discogs-device-broker/internal/ratelimit"
)

var _ ratelimit.CursorStore = (*Postgres)(nil)

// LoadCursor returns the last reserved slot of bucket in epoch milliseconds
func (p *Postgres) LoadCursor(ctx context.Context, bucket string) (int64, bool, error) {
	query := `
		SELECT last_request_at_ms
		FROM rate_limit_state
		WHERE bucket = $1
	`
	var slot int64
	if err := p.db.QueryRowContext(ctx, query, bucket).Scan(&slot); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("loading cursor: %w", err)
	}
	return slot, true, nil
}

// InsertCursor creates bucket at slot unless another process already has
func (p *Postgres) InsertCursor(ctx context.Context, bucket string, slot int64) (bool, error) {
	query := `
		INSERT INTO rate_limit_state (bucket, last_request_at_ms)
		VALUES ($1, $2)
		ON CONFLICT (bucket) DO NOTHING
	`
	res, err := p.db.ExecContext(ctx, query, bucket, slot)
	if err != nil {
		return false, fmt.Errorf("inserting cursor: %w", err)
	}
	return affected(res)
}

// AdvanceCursor moves bucket from prev to next if it still holds prev
func (p *Postgres) AdvanceCursor(ctx context.Context, bucket string, prev, next int64) (bool, error) {
	query := `
		UPDATE rate_limit_state
		SET last_request_at_ms = $1
		WHERE bucket = $2 AND last_request_at_ms = $3
	`
	res, err := p.db.ExecContext(ctx, query, next, bucket, prev)
	if err != nil {
		return false, fmt.Errorf("advancing cursor: %w", err)
	}
	return affected(res)
}
