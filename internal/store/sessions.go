package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wrale/discogs-device-broker/internal/deviceflow"
)

var _ deviceflow.Store = (*Postgres)(nil)

const sessionColumns = `device_id, pending_token, status, poll_interval_seconds,
		created_at, updated_at, expires_at, authorized_at,
		oauth_access_token, oauth_access_token_secret, oauth_identity,
		session_token_hash, session_expires_at, finalized_at`

// CreateSession inserts a pending session, returning
// deviceflow.ErrDuplicateDevice when the device_id is taken
func (p *Postgres) CreateSession(ctx context.Context, s *deviceflow.Session) error {
	query := `
		INSERT INTO device_sessions (device_id, pending_token, status, poll_interval_seconds, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (device_id) DO NOTHING
	`
	res, err := p.db.ExecContext(ctx, query,
		s.DeviceID, s.PendingToken, string(s.Status), s.PollIntervalSeconds,
		s.CreatedAt.Unix(), s.UpdatedAt.Unix(), s.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("inserting device session: %w", err)
	}

	inserted, err := affected(res)
	if err != nil {
		return err
	}
	if !inserted {
		return deviceflow.ErrDuplicateDevice
	}
	return nil
}

// GetSession retrieves a session by device_id and pending_token
func (p *Postgres) GetSession(ctx context.Context, deviceID, pendingToken string) (*deviceflow.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM device_sessions
		WHERE device_id = $1 AND pending_token = $2
		LIMIT 1
	`
	return p.scanSession(p.db.QueryRowContext(ctx, query, deviceID, pendingToken))
}

// GetSessionByDevice retrieves a session by device_id
func (p *Postgres) GetSessionByDevice(ctx context.Context, deviceID string) (*deviceflow.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM device_sessions
		WHERE device_id = $1
		LIMIT 1
	`
	return p.scanSession(p.db.QueryRowContext(ctx, query, deviceID))
}

// GetSessionByTokenHash retrieves a live finalized session by bearer token digest
func (p *Postgres) GetSessionByTokenHash(ctx context.Context, hash string, now time.Time) (*deviceflow.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM device_sessions
		WHERE session_token_hash = $1
		  AND session_expires_at > $2
		  AND status = 'finalized'
		LIMIT 1
	`
	return p.scanSession(p.db.QueryRowContext(ctx, query, hash, now.Unix()))
}

// MarkExpired moves a pending or authorized session to expired
func (p *Postgres) MarkExpired(ctx context.Context, deviceID string, now time.Time) error {
	query := `
		UPDATE device_sessions
		SET status = 'expired', updated_at = $2
		WHERE device_id = $1 AND status IN ('pending', 'authorized')
	`
	if _, err := p.db.ExecContext(ctx, query, deviceID, now.Unix()); err != nil {
		return fmt.Errorf("expiring device session: %w", err)
	}
	return nil
}

// Authorize stores the upstream credential on a live pending or authorized session
func (p *Postgres) Authorize(ctx context.Context, u deviceflow.AuthorizeUpdate) (bool, error) {
	query := `
		UPDATE device_sessions
		SET status = 'authorized',
		    oauth_access_token = $1,
		    oauth_access_token_secret = $2,
		    oauth_identity = $3,
		    authorized_at = $4,
		    updated_at = $4
		WHERE device_id = $5
		  AND pending_token = $6
		  AND status IN ('pending', 'authorized')
		  AND expires_at > $4
	`
	res, err := p.db.ExecContext(ctx, query,
		u.AccessToken, u.AccessSecret, nullString(u.Identity), u.Now.Unix(),
		u.DeviceID, u.PendingToken)
	if err != nil {
		return false, fmt.Errorf("authorizing device session: %w", err)
	}
	return affected(res)
}

// Finalize commits the authorized to finalized transition, rotating the
// pending token. It changes no rows unless the session is still authorized
// under the caller's pending token.
func (p *Postgres) Finalize(ctx context.Context, u deviceflow.FinalizeUpdate) (bool, error) {
	query := `
		UPDATE device_sessions
		SET status = 'finalized',
		    session_token_hash = $1,
		    session_expires_at = $2,
		    finalized_at = $3,
		    pending_token = $4,
		    updated_at = $3
		WHERE device_id = $5 AND pending_token = $6 AND status = 'authorized'
	`
	res, err := p.db.ExecContext(ctx, query,
		u.SessionTokenHash, u.SessionExpiresAt.Unix(), u.Now.Unix(), u.NextPendingToken,
		u.DeviceID, u.PendingToken)
	if err != nil {
		return false, fmt.Errorf("finalizing device session: %w", err)
	}
	return affected(res)
}

func (p *Postgres) scanSession(row *sql.Row) (*deviceflow.Session, error) {
	var s deviceflow.Session
	var status string
	var createdAt, updatedAt, expiresAt int64
	var authorizedAt, sessionExpires, finalAt sql.NullInt64
	var accessToken, accessSecret, identity, tokenHash sql.NullString

	err := row.Scan(
		&s.DeviceID, &s.PendingToken, &status, &s.PollIntervalSeconds,
		&createdAt, &updatedAt, &expiresAt, &authorizedAt,
		&accessToken, &accessSecret, &identity,
		&tokenHash, &sessionExpires, &finalAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning device session: %w", err)
	}

	s.Status = deviceflow.Status(status)
	s.CreatedAt = time.Unix(createdAt, 0)
	s.UpdatedAt = time.Unix(updatedAt, 0)
	s.ExpiresAt = time.Unix(expiresAt, 0)
	s.AuthorizedAt = fromEpoch(authorizedAt)
	s.OAuthAccessToken = accessToken.String
	s.OAuthAccessTokenSecret = accessSecret.String
	s.OAuthIdentity = identity.String
	s.SessionTokenHash = tokenHash.String
	s.SessionExpiresAt = fromEpoch(sessionExpires)
	s.FinalizedAt = fromEpoch(finalAt)

	return &s, nil
}
