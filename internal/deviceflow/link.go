package deviceflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wrale/discogs-device-broker/internal/discogs"
)

var (
	errCallbackParams = ErrInvalidParams.WithMessage("Missing required callback parameters. Restart auth from your client.")
	errRequestToken   = ErrInvalidParams.WithMessage("OAuth request token was not found or expired. Restart auth.")
)

// Link requests a temporary upstream token for a session and returns the
// provider page where the user approves it
func (f *flowImpl) Link(ctx context.Context, deviceID, pendingToken string) (*LinkResult, error) {
	deviceID, pendingToken, err := requirePair(deviceID, pendingToken)
	if err != nil {
		return nil, err
	}

	session, err := f.resolve(ctx, deviceID, pendingToken)
	if err != nil {
		return nil, err
	}

	now := f.clock()
	if session.expiredAt(now) {
		if err := f.expire(ctx, session, now); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}

	if session.Status == StatusFinalized {
		return &LinkResult{AlreadyLinked: true}, nil
	}

	creds, err := f.exchanger.RequestToken(ctx, f.callbackURL(deviceID, pendingToken))
	if err != nil {
		return nil, fmt.Errorf("requesting temporary token: %w", err)
	}

	if err := f.store.SaveRequestToken(ctx, &RequestToken{
		Token:        creds.Token,
		Secret:       creds.Secret,
		DeviceID:     deviceID,
		PendingToken: pendingToken,
		CreatedAt:    now,
		ExpiresAt:    now.Add(f.sessionTTL),
	}); err != nil {
		return nil, fmt.Errorf("saving request token: %w", err)
	}

	return &LinkResult{AuthorizeURL: f.exchanger.AuthorizeURL(creds.Token)}, nil
}

// Callback exchanges an approved temporary token for the long-lived upstream
// credential and stores it on the session
func (f *flowImpl) Callback(ctx context.Context, p CallbackParams) error {
	p.DeviceID = strings.TrimSpace(p.DeviceID)
	p.PendingToken = strings.TrimSpace(p.PendingToken)
	p.OAuthToken = strings.TrimSpace(p.OAuthToken)
	p.OAuthVerifier = strings.TrimSpace(p.OAuthVerifier)
	if p.DeviceID == "" || p.PendingToken == "" || p.OAuthToken == "" || p.OAuthVerifier == "" {
		return errCallbackParams
	}

	session, err := f.store.GetSession(ctx, p.DeviceID, p.PendingToken)
	if err != nil {
		return fmt.Errorf("getting device session: %w", err)
	}
	if session == nil {
		return ErrNotFound
	}

	now := f.clock()
	if session.expiredAt(now) {
		if err := f.expire(ctx, session, now); err != nil {
			return err
		}
		return ErrExpired
	}

	temp, err := f.store.GetRequestToken(ctx, p.OAuthToken)
	if err != nil {
		return fmt.Errorf("getting request token: %w", err)
	}
	if temp == nil || temp.DeviceID != p.DeviceID || temp.PendingToken != p.PendingToken || !now.Before(temp.ExpiresAt) {
		return errRequestToken
	}

	grant, err := f.exchanger.AccessToken(ctx, discogs.Credentials{Token: temp.Token, Secret: temp.Secret}, p.OAuthVerifier)
	if err != nil {
		return fmt.Errorf("exchanging access token: %w", err)
	}

	// Deadline is re-read after the exchange round trip
	updated, err := f.store.Authorize(ctx, AuthorizeUpdate{
		DeviceID:     p.DeviceID,
		PendingToken: p.PendingToken,
		AccessToken:  grant.Token,
		AccessSecret: grant.Secret,
		Identity:     grant.Identity(),
		Now:          f.clock(),
	})
	if err != nil {
		return fmt.Errorf("authorizing device session: %w", err)
	}
	if !updated {
		return ErrExpired
	}

	if err := f.store.DeleteRequestToken(ctx, p.OAuthToken); err != nil {
		// The row is unusable once the session is authorized and the sweep
		// removes it after expiry
		f.logger.WarnContext(ctx, "deleting consumed request token",
			slog.String("device_id", p.DeviceID),
			slog.Any("error", err))
	}

	f.logger.InfoContext(ctx, "device session authorized", slog.String("device_id", p.DeviceID))
	return nil
}
