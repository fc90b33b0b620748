package pairing

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicpro/dictation-sync/internal/model"
)

func newTestService(now time.Time) *Service {
	svc := NewService(NewMemoryStore(), 24*time.Hour, 7*24*time.Hour, nil)
	svc.now = func() time.Time { return now }
	return svc
}

func TestService_MintTTL(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	svc := newTestService(now)
	ctx := context.Background()

	user, err := svc.Mint(ctx, model.Identity{ClientID: "u1", UserID: "u1", Kind: model.IdentityUser}, "s1")
	require.NoError(t, err)
	assert.Equal(t, now.Add(24*time.Hour), user.ExpiresAt)
	assert.False(t, user.Guest)
	assert.True(t, user.IsActive)
	assert.NotEmpty(t, user.Token)

	guest, err := svc.Mint(ctx, model.Identity{ClientID: "guest-g1", UserID: "guest-g1", Kind: model.IdentityGuest}, "")
	require.NoError(t, err)
	assert.Equal(t, now.Add(7*24*time.Hour), guest.ExpiresAt)
	assert.True(t, guest.Guest)
}

func TestService_Validate(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	svc := newTestService(now)
	ctx := context.Background()

	tok, err := svc.Mint(ctx, model.Identity{ClientID: "u1", UserID: "u1", Kind: model.IdentityUser}, "s1")
	require.NoError(t, err)

	tests := []struct {
		name      string
		token     string
		sessionID string
		at        time.Time
		wantErr   error
	}{
		{"valid", tok.Token, "s1", now.Add(time.Hour), nil},
		{"reusable", tok.Token, "s1", now.Add(2 * time.Hour), nil},
		{"wrong session", tok.Token, "s2", now, ErrSessionMismatch},
		{"missing session", tok.Token, "", now, ErrSessionMismatch},
		{"expired", tok.Token, "s1", now.Add(24 * time.Hour), ErrExpired},
		{"unknown", "nope", "s1", now, ErrNotFound},
		{"empty", "", "s1", now, ErrTokenRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc.now = func() time.Time { return tt.at }
			got, err := svc.Validate(ctx, tt.token, tt.sessionID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "u1", got.UserID)
			require.NotNil(t, got.LastUsedAt)
			assert.Equal(t, tt.at, *got.LastUsedAt)
		})
	}
}

func TestService_ValidateUnboundToken(t *testing.T) {
	svc := newTestService(time.Now())
	ctx := context.Background()

	tok, err := svc.Mint(ctx, model.Identity{ClientID: "u1", UserID: "u1"}, "")
	require.NoError(t, err)

	_, err = svc.Validate(ctx, tok.Token, "any-session")
	assert.NoError(t, err)
}

func TestService_RevokeAndResolve(t *testing.T) {
	svc := newTestService(time.Now())
	ctx := context.Background()

	tok, err := svc.Mint(ctx, model.Identity{ClientID: "guest-g1", UserID: "guest-g1", Kind: model.IdentityGuest}, "")
	require.NoError(t, err)

	id, err := svc.Resolve(ctx, tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "guest-g1", id.ClientID)
	assert.Equal(t, model.IdentityGuest, id.Kind)
	assert.Equal(t, "guest:g1", id.Channel())

	require.NoError(t, svc.Revoke(ctx, tok.Token))
	_, err = svc.Resolve(ctx, tok.Token)
	assert.ErrorIs(t, err, ErrInactive)
}

func TestService_Purge(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	svc := newTestService(now)
	ctx := context.Background()
	id := model.Identity{ClientID: "u1", UserID: "u1", Kind: model.IdentityUser}

	old, err := svc.Mint(ctx, id, "")
	require.NoError(t, err)

	// Two days later the first token is a day past expiry.
	svc.now = func() time.Time { return now.Add(48 * time.Hour) }
	fresh, err := svc.Mint(ctx, id, "")
	require.NoError(t, err)

	n, err := svc.Purge(ctx, 36*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "still inside the retention window")

	n, err = svc.Purge(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = svc.Validate(ctx, old.Token, "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Validate(ctx, fresh.Token, "")
	assert.NoError(t, err)
}

func TestMobileURL(t *testing.T) {
	got, err := MobileURL("https://app.example.com/", "abc-123")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/connect?token=abc-123", got)
}

func TestCountdown_FiresExpiryOnce(t *testing.T) {
	var ticks, expired atomic.Int32
	c := NewCountdown(time.Now().Add(30*time.Millisecond), func(time.Duration) { ticks.Add(1) }, func() { expired.Add(1) })
	c.interval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.True(t, c.Run(ctx))
	assert.Equal(t, int32(1), expired.Load())
	assert.GreaterOrEqual(t, ticks.Load(), int32(2))
}

func TestCountdown_StopsOnCancel(t *testing.T) {
	var expired atomic.Bool
	c := NewCountdown(time.Now().Add(time.Hour), nil, func() { expired.Store(true) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, c.Run(ctx))
	assert.False(t, expired.Load())
}

func TestCountdown_AlreadyExpired(t *testing.T) {
	var remaining time.Duration = -1
	c := NewCountdown(time.Now().Add(-time.Minute), func(d time.Duration) { remaining = d }, nil)

	assert.True(t, c.Run(context.Background()))
	assert.Equal(t, time.Duration(0), remaining)
}

func TestFormatRemaining(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "expired"},
		{4*time.Minute + 59*time.Second, "04:59"},
		{59 * time.Second, "00:59"},
		{time.Hour + 5*time.Minute, "1h 05m"},
		{23*time.Hour + 59*time.Minute + 30*time.Second, "23h 59m"},
	}

	for _, tt := range tests {
		if got := FormatRemaining(tt.d); got != tt.want {
			t.Errorf("FormatRemaining(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
