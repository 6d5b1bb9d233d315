package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetCacheEntry returns the cached payload for key if it has not expired
func (p *Postgres) GetCacheEntry(ctx context.Context, key string, now time.Time) ([]byte, bool, error) {
	query := `
		SELECT response_json
		FROM discogs_search_cache
		WHERE cache_key = $1 AND expires_at > $2
	`
	var payload string
	if err := p.db.QueryRowContext(ctx, query, key, now.Unix()).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("getting cache entry: %w", err)
	}
	return []byte(payload), true, nil
}

// PutCacheEntry upserts the payload for key
func (p *Postgres) PutCacheEntry(ctx context.Context, key string, payload []byte, cachedAt, expiresAt time.Time) error {
	query := `
		INSERT INTO discogs_search_cache (cache_key, response_json, cached_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cache_key) DO UPDATE SET
			response_json = EXCLUDED.response_json,
			cached_at = EXCLUDED.cached_at,
			expires_at = EXCLUDED.expires_at
	`
	if _, err := p.db.ExecContext(ctx, query, key, string(payload), cachedAt.Unix(), expiresAt.Unix()); err != nil {
		return fmt.Errorf("saving cache entry: %w", err)
	}
	return nil
}
