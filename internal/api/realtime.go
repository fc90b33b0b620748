package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/clinicpro/dictation-sync/internal/model"
)

var (
	// ErrIdentityUnresolved means neither a user, a pairing token nor a guest
	// token identifies the caller. No connection attempt should be made.
	ErrIdentityUnresolved = errors.New("no identity available for realtime connection")

	// ErrRealtimeDisabled means the server has no realtime credentials
	// configured. Callers should stay disconnected without reporting an error.
	ErrRealtimeDisabled = errors.New("realtime is not configured on the server")
)

// RequestToken fetches a realtime credential for the caller's channel.
func (c *Client) RequestToken(ctx context.Context) (model.TokenRequest, error) {
	var query url.Values
	if c.creds.PairingToken != "" {
		query = url.Values{"token": {c.creds.PairingToken}}
	}

	var resp TokenResponse
	if err := c.call(ctx, http.MethodPost, "/api/realtime/token", query, nil, &resp); err != nil {
		return model.TokenRequest{}, fmt.Errorf("request realtime token: %w", err)
	}
	return resp.TokenRequest, nil
}

// TokenProvider resolves the caller's client ID once and fetches a fresh
// realtime credential on every call to Credential. Credentials are never
// cached.
type TokenProvider struct {
	client *Client
	logger *slog.Logger

	mu       sync.Mutex
	clientID string
}

// NewTokenProvider creates a provider backed by client.
func NewTokenProvider(client *Client, logger *slog.Logger) *TokenProvider {
	if logger == nil {
		logger = slog.Default()
	}

	// A pairing token resolves to its owner only server side, so its client
	// ID is learned from the first credential.
	creds := client.Credentials()
	var clientID string
	switch {
	case creds.UserID != "":
		clientID = creds.UserID
	case creds.PairingToken != "":
	case creds.GuestToken != "":
		clientID = model.GuestPrefix + creds.GuestToken
	}

	return &TokenProvider{
		client:   client,
		logger:   logger,
		clientID: clientID,
	}
}

// ClientID returns the resolved client ID, or "" before the first
// credential when identifying by pairing token.
func (p *TokenProvider) ClientID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientID
}

// Credential performs a fresh token fetch.
func (p *TokenProvider) Credential(ctx context.Context) (model.TokenRequest, error) {
	if p.client.Credentials().Empty() {
		return model.TokenRequest{}, ErrIdentityUnresolved
	}

	tr, err := p.client.RequestToken(ctx)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			switch {
			case apiErr.Code == CodeRealtimeNotConfigured:
				return model.TokenRequest{}, ErrRealtimeDisabled
			case apiErr.StatusCode == http.StatusUnauthorized, apiErr.StatusCode == http.StatusForbidden:
				return model.TokenRequest{}, fmt.Errorf("%w: %w", ErrIdentityUnresolved, err)
			}
		}
		return model.TokenRequest{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.clientID == "":
		p.clientID = tr.ClientID
	case tr.ClientID != p.clientID:
		p.logger.Warn("server issued credential for a different client id",
			"resolved", p.clientID,
			"issued", tr.ClientID,
		)
	}
	return tr, nil
}
