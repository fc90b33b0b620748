package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicpro/dictation-sync/internal/model"
)

func tokenServer(t *testing.T, calls *atomic.Int32, clientID string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/realtime/token", r.URL.Path)
		n := calls.Add(1)
		writeJSON(t, w, http.StatusOK, TokenResponse{TokenRequest: model.TokenRequest{
			ClientID:  clientID,
			Channel:   model.ChannelName(clientID),
			Token:     "jwt-" + string(rune('0'+n)),
			ExpiresAt: time.Now().Add(time.Hour),
		}})
	}))
}

func TestTokenProvider_FreshCredentialEachCall(t *testing.T) {
	var calls atomic.Int32
	server := tokenServer(t, &calls, "u1")
	defer server.Close()

	p := NewTokenProvider(NewClient(server.URL, Credentials{UserID: "u1"}), nil)
	assert.Equal(t, "u1", p.ClientID())

	first, err := p.Credential(context.Background())
	require.NoError(t, err)
	second, err := p.Credential(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.NotEqual(t, first.Token, second.Token)
	assert.Equal(t, "user:u1", second.Channel)
}

func TestTokenProvider_PairingTokenLearnsClientID(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "pair-1", r.URL.Query().Get("token"))
		writeJSON(t, w, http.StatusOK, TokenResponse{TokenRequest: model.TokenRequest{
			ClientID: "owner-7",
			Channel:  "user:owner-7",
			Token:    "jwt",
		}})
	}))
	defer server.Close()

	p := NewTokenProvider(NewClient(server.URL, Credentials{PairingToken: "pair-1"}), nil)
	assert.Equal(t, "", p.ClientID())

	_, err := p.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "owner-7", p.ClientID())
}

func TestTokenProvider_GuestClientID(t *testing.T) {
	p := NewTokenProvider(NewClient("http://unused", Credentials{GuestToken: "abc"}), nil)
	assert.Equal(t, "guest-abc", p.ClientID())
}

func TestTokenProvider_IdentityUnresolved(t *testing.T) {
	var calls atomic.Int32
	server := tokenServer(t, &calls, "u1")
	defer server.Close()

	p := NewTokenProvider(NewClient(server.URL, Credentials{}), nil)
	_, err := p.Credential(context.Background())

	assert.ErrorIs(t, err, ErrIdentityUnresolved)
	assert.Equal(t, int32(0), calls.Load(), "no request may be made without an identity")
}

func TestTokenProvider_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusUnauthorized, ErrorResponse{Error: "pairing token expired"})
	}))
	defer server.Close()

	p := NewTokenProvider(NewClient(server.URL, Credentials{PairingToken: "old"}), nil)
	_, err := p.Credential(context.Background())

	assert.ErrorIs(t, err, ErrIdentityUnresolved)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestTokenProvider_RealtimeDisabled(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(t, w, http.StatusServiceUnavailable, ErrorResponse{
			Error: "realtime not configured",
			Code:  CodeRealtimeNotConfigured,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, Credentials{UserID: "u1"}, WithRetries(3, time.Millisecond))
	p := NewTokenProvider(client, nil)
	_, err := p.Credential(context.Background())

	assert.ErrorIs(t, err, ErrRealtimeDisabled)
	assert.Equal(t, int32(1), calls.Load())
}
