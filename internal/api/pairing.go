package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ErrPairingInvalid means a pairing token was rejected, by the server or
// because it has already expired.
var ErrPairingInvalid = errors.New("pairing token invalid")

// CreatePairingToken mints a pairing token for the caller, optionally bound
// to a patient session.
func (c *Client) CreatePairingToken(ctx context.Context, sessionID string) (*PairingTokenResponse, error) {
	var resp PairingTokenResponse
	req := CreatePairingRequest{SessionID: sessionID}
	if err := c.call(ctx, http.MethodPost, "/api/pairing/tokens", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("create pairing token: %w", err)
	}
	return &resp, nil
}

// ValidatePairing checks token against sessionID. A result the server calls
// valid is still rejected when its expiry has passed locally.
func (c *Client) ValidatePairing(ctx context.Context, token, sessionID string) (*PairingResult, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: token is empty", ErrPairingInvalid)
	}

	var res PairingResult
	req := ValidatePairingRequest{Token: token, SessionID: sessionID}
	if err := c.call(ctx, http.MethodPost, "/api/pairing/validate", nil, req, &res); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
			return nil, fmt.Errorf("%w: %s", ErrPairingInvalid, apiErr.Message)
		}
		return nil, fmt.Errorf("validate pairing token: %w", err)
	}

	res.Token = token
	if !res.Valid {
		return nil, ErrPairingInvalid
	}
	if !c.now().Before(res.ExpiresAt) {
		return nil, fmt.Errorf("%w: expired at %s", ErrPairingInvalid, res.ExpiresAt.Format(time.RFC3339))
	}
	return &res, nil
}

// CurrentSession returns the current patient of the clinician a pairing
// token belongs to.
func (c *Client) CurrentSession(ctx context.Context, token string) (*CurrentSessionResponse, error) {
	var resp CurrentSessionResponse
	query := url.Values{"token": {token}}
	if err := c.call(ctx, http.MethodGet, "/api/pairing/current-session", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("get current session: %w", err)
	}
	return &resp, nil
}
