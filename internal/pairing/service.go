// Package pairing mints and validates the tokens that link a mobile device
// to a clinician's desktop session.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicpro/dictation-sync/internal/model"
)

var (
	ErrNotFound        = errors.New("pairing token not found")
	ErrInactive        = errors.New("pairing token revoked")
	ErrExpired         = errors.New("pairing token expired")
	ErrSessionMismatch = errors.New("pairing token bound to another session")
	ErrTokenRequired   = errors.New("pairing token is required")
)

// Service mints and validates pairing tokens.
type Service struct {
	store    Store
	userTTL  time.Duration
	guestTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a pairing service. Tokens minted for accounts live for
// userTTL and tokens minted for guests live for guestTTL.
func NewService(store Store, userTTL, guestTTL time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		userTTL:  userTTL,
		guestTTL: guestTTL,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Mint issues a new pairing token for identity, optionally bound to a
// patient session.
func (s *Service) Mint(ctx context.Context, identity model.Identity, sessionID string) (*model.PairingToken, error) {
	guest := identity.Kind == model.IdentityGuest
	ttl := s.userTTL
	if guest {
		ttl = s.guestTTL
	}

	now := s.now()
	t := &model.PairingToken{
		Token:     uuid.NewString(),
		UserID:    identity.UserID,
		SessionID: sessionID,
		Guest:     guest,
		IsActive:  true,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}

	s.logger.Info("minted pairing token", "user_id", identity.UserID, "guest", guest, "expires_at", t.ExpiresAt)
	return t, nil
}

// Validate checks token and, when the token is bound to a session, that
// sessionID matches it. A valid token has its LastUsedAt refreshed.
// Tokens are reusable until they expire.
func (s *Service) Validate(ctx context.Context, token, sessionID string) (*model.PairingToken, error) {
	t, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if t.SessionID != "" && t.SessionID != sessionID {
		return nil, ErrSessionMismatch
	}
	return t, nil
}

// Resolve maps a pairing token to the identity of the clinician it belongs to.
func (s *Service) Resolve(ctx context.Context, token string) (model.Identity, error) {
	t, err := s.lookup(ctx, token)
	if err != nil {
		return model.Identity{}, err
	}
	kind := model.IdentityPairing
	if t.Guest {
		kind = model.IdentityGuest
	}
	return model.Identity{ClientID: t.UserID, UserID: t.UserID, Kind: kind}, nil
}

// Revoke deactivates a token before its expiry.
func (s *Service) Revoke(ctx context.Context, token string) error {
	return s.store.Deactivate(ctx, token)
}

// Purge deletes tokens that expired more than retain ago. It returns the
// number of tokens removed.
func (s *Service) Purge(ctx context.Context, retain time.Duration) (int, error) {
	n, err := s.store.DeleteExpired(ctx, s.now().Add(-retain))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("purged expired pairing tokens", "count", n)
	}
	return n, nil
}

func (s *Service) lookup(ctx context.Context, token string) (*model.PairingToken, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrTokenRequired
	}

	t, err := s.store.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, ErrInactive
	}

	now := s.now()
	if t.Expired(now) {
		return nil, ErrExpired
	}

	if err := s.store.Touch(ctx, token, now); err != nil {
		s.logger.Warn("failed to record pairing token use", "error", err)
	} else {
		t.LastUsedAt = &now
	}
	return t, nil
}

// MobileURL builds the link a phone opens to pair with token.
func MobileURL(base, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/connect")
	if err != nil {
		return "", fmt.Errorf("parse mobile base url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
