package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// AuthTelegram exchanges a Telegram identity for a token pair and caches it
// for the user. The endpoint is public, no token is attached.
func (c *Client) AuthTelegram(ctx context.Context, user TelegramUser) (Credentials, error) {
	endpoint := "/auth/telegram"
	start := time.Now()

	var creds Credentials
	err := c.runPublicJSON(ctx, endpoint, user, &creds)
	recordRequest(endpoint, start, err)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to authenticate user %d: %w", user.ID, err)
	}

	c.setCredentials(user.ID, creds)

	log.Debug().
		Int64("user_id", user.ID).
		Msg("Backend authentication succeeded")

	return creds, nil
}

// Refresh exchanges the cached refresh token for a fresh pair. On failure
// the stale access token is dropped so the next call re-authenticates.
func (c *Client) Refresh(ctx context.Context, userID int64) error {
	creds, ok := c.credentials(userID)
	if !ok || creds.RefreshToken == "" {
		return fmt.Errorf("no refresh token cached for user %d", userID)
	}

	endpoint := "/auth/refresh"
	start := time.Now()

	var renewed Credentials
	err := c.runPublicJSON(ctx, endpoint, map[string]interface{}{
		"refresh_token": creds.RefreshToken,
	}, &renewed)
	recordRequest(endpoint, start, err)
	if err != nil {
		log.Warn().
			Int64("user_id", userID).
			Err(err).
			Msg("Token refresh failed, dropping stale access token")
		c.setCredentials(userID, Credentials{RefreshToken: creds.RefreshToken})
		return fmt.Errorf("failed to refresh token for user %d: %w", userID, err)
	}

	// The backend may rotate only the access token.
	if renewed.RefreshToken == "" {
		renewed.RefreshToken = creds.RefreshToken
	}
	c.setCredentials(userID, renewed)

	log.Debug().Int64("user_id", userID).Msg("Token pair refreshed")

	return nil
}

// runPublicJSON posts a JSON body without auth header and without the 401
// replay step; the auth endpoints themselves must never recurse into it.
func (c *Client) runPublicJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := jsonBody(body)
	if err != nil {
		return err
	}

	resp, err := c.postPlain(ctx, path, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}
