package api

import (
	"encoding/json"
	"time"

	"github.com/clinicpro/dictation-sync/internal/model"
)

// ErrorResponse is the body of every 4xx/5xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// TokenResponse from POST /api/realtime/token
type TokenResponse struct {
	TokenRequest model.TokenRequest `json:"tokenRequest"`
}

// CreatePairingRequest for POST /api/pairing/tokens
type CreatePairingRequest struct {
	SessionID string `json:"sessionId,omitempty"`
}

// PairingTokenResponse from POST /api/pairing/tokens
type PairingTokenResponse struct {
	Token     string    `json:"token"`
	MobileURL string    `json:"mobileUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
	IsGuest   bool      `json:"isGuest"`
}

// ValidatePairingRequest for POST /api/pairing/validate
type ValidatePairingRequest struct {
	Token     string `json:"token"`
	SessionID string `json:"sessionId"`
}

// PairingResult from POST /api/pairing/validate
type PairingResult struct {
	Valid     bool      `json:"valid"`
	Token     string    `json:"-"` // The validated token, filled in client side
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	IsGuest   bool      `json:"isGuest,omitempty"`
}

// Usable reports whether the result permits joining a channel at now.
func (p *PairingResult) Usable(now time.Time) bool {
	return p != nil && p.Valid && p.Token != "" && now.Before(p.ExpiresAt)
}

// CurrentSessionResponse from GET /api/pairing/current-session
type CurrentSessionResponse struct {
	SessionID   string `json:"sessionId"`
	PatientName string `json:"patientName"`
}

// SessionsResponse from GET /api/patient-sessions
type SessionsResponse struct {
	Sessions         []*model.PatientSession `json:"sessions"`
	CurrentSessionID string                  `json:"currentSessionId"`
}

// SessionResponse from single-session endpoints.
type SessionResponse struct {
	Session          *model.PatientSession `json:"session,omitempty"`
	CurrentSessionID string                `json:"currentSessionId"`
	CreatedNew       bool                  `json:"createdNew,omitempty"`
}

// CreateSessionRequest for POST /api/patient-sessions
type CreateSessionRequest struct {
	PatientName string `json:"patientName"`
	TemplateID  string `json:"templateId,omitempty"`
}

// UpdateSessionRequest for PUT /api/patient-sessions. Nil fields are left
// unchanged. MakeCurrent switches the user's current session to this one.
type UpdateSessionRequest struct {
	ID          string               `json:"id"`
	PatientName *string              `json:"patientName,omitempty"`
	TemplateID  *string              `json:"templateId,omitempty"`
	Status      *model.SessionStatus `json:"status,omitempty"`
	Notes       *string              `json:"notes,omitempty"`
	MakeCurrent bool                 `json:"makeCurrent,omitempty"`
}

// AppendTranscriptionRequest for POST /api/patient-sessions/{id}/transcriptions
type AppendTranscriptionRequest struct {
	Transcript         string          `json:"transcript"`
	DiarizedTranscript string          `json:"diarizedTranscript,omitempty"`
	Utterances         json.RawMessage `json:"utterances,omitempty"`
	DeviceID           string          `json:"deviceId,omitempty"`
}

// ListSessionsOptions configures a ListSessions request.
type ListSessionsOptions struct {
	Status model.SessionStatus
	Limit  int
}
