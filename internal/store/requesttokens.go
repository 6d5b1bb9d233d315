package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wrale/discogs-device-broker/internal/deviceflow"
)

// SaveRequestToken upserts a temporary upstream token
func (p *Postgres) SaveRequestToken(ctx context.Context, t *deviceflow.RequestToken) error {
	query := `
		INSERT INTO oauth_request_tokens (oauth_token, oauth_token_secret, device_id, pending_token, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (oauth_token) DO UPDATE SET
			oauth_token_secret = EXCLUDED.oauth_token_secret,
			device_id = EXCLUDED.device_id,
			pending_token = EXCLUDED.pending_token,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
	`
	if _, err := p.db.ExecContext(ctx, query,
		t.Token, t.Secret, t.DeviceID, t.PendingToken, t.CreatedAt.Unix(), t.ExpiresAt.Unix()); err != nil {
		return fmt.Errorf("saving request token: %w", err)
	}
	return nil
}

// GetRequestToken retrieves a temporary upstream token
func (p *Postgres) GetRequestToken(ctx context.Context, token string) (*deviceflow.RequestToken, error) {
	query := `
		SELECT oauth_token, oauth_token_secret, device_id, pending_token, created_at, expires_at
		FROM oauth_request_tokens
		WHERE oauth_token = $1
	`
	var t deviceflow.RequestToken
	var createdAt, expiresAt int64
	err := p.db.QueryRowContext(ctx, query, token).
		Scan(&t.Token, &t.Secret, &t.DeviceID, &t.PendingToken, &createdAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting request token: %w", err)
	}

	t.CreatedAt = time.Unix(createdAt, 0)
	t.ExpiresAt = time.Unix(expiresAt, 0)
	return &t, nil
}

// DeleteRequestToken removes a consumed temporary upstream token
func (p *Postgres) DeleteRequestToken(ctx context.Context, token string) error {
	query := `
		DELETE FROM oauth_request_tokens
		WHERE oauth_token = $1
	`
	if _, err := p.db.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("deleting request token: %w", err)
	}
	return nil
}
