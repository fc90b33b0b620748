package model

import (
	"encoding/json"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Identity Types
// -----------------------------------------------------------------------------

// Role is the side of a pairing a device plays.
type Role string

const (
	RoleDesktop Role = "desktop"
	RoleMobile  Role = "mobile"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleDesktop || r == RoleMobile
}

// IdentityKind records how a clinician identity was resolved.
type IdentityKind string

const (
	IdentityUser    IdentityKind = "user"    // Authenticated account
	IdentityPairing IdentityKind = "pairing" // Resolved through a mobile pairing token
	IdentityGuest   IdentityKind = "guest"   // Anonymous guest token
)

// GuestPrefix marks client IDs that belong to guest identities.
const GuestPrefix = "guest-"

// Identity is the clinician a device acts for.
type Identity struct {
	ClientID string       // Realtime client ID (user ID or "guest-{token}")
	UserID   string       // Account owning sessions; guest ID for guests
	Kind     IdentityKind // How the identity was resolved
}

// Channel returns the realtime channel shared by every device of this identity.
func (i Identity) Channel() string {
	return ChannelName(i.ClientID)
}

// ChannelName maps a client ID to its channel name: "user:{id}" for accounts,
// "guest:{token}" for guests.
func ChannelName(clientID string) string {
	if token, ok := strings.CutPrefix(clientID, GuestPrefix); ok {
		return "guest:" + token
	}
	return "user:" + clientID
}

// TokenRequest is a short-lived realtime credential scoped to one channel.
type TokenRequest struct {
	ClientID   string              `json:"clientId"`
	Channel    string              `json:"channel"`
	Capability map[string][]string `json:"capability"`
	Token      string              `json:"token"`
	Endpoint   string              `json:"endpoint,omitempty"` // WebSocket URL, when the server advertises one
	IssuedAt   time.Time           `json:"issuedAt"`
	ExpiresAt  time.Time           `json:"expiresAt"`
}

// -----------------------------------------------------------------------------
// Pairing Types
// -----------------------------------------------------------------------------

// PairingToken links a mobile device to a clinician's account or guest session.
type PairingToken struct {
	Token      string
	UserID     string
	SessionID  string // Patient session bound at mint time; empty when unbound
	Guest      bool
	IsActive   bool
	ExpiresAt  time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// Expired reports whether the token is past its expiry at now.
func (p *PairingToken) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// -----------------------------------------------------------------------------
// Session Types
// -----------------------------------------------------------------------------

// SessionStatus is the lifecycle status of a patient session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusArchived  SessionStatus = "archived"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

// Transcription is one finished transcript appended to a patient session.
type Transcription struct {
	Transcript         string          `json:"transcript"`
	DiarizedTranscript string          `json:"diarizedTranscript,omitempty"`
	Utterances         json.RawMessage `json:"utterances,omitempty"`
	DeviceID           string          `json:"deviceId,omitempty"`
	ReceivedAt         time.Time       `json:"receivedAt"`
}

// PatientSession is a clinician's working record for one patient encounter.
type PatientSession struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	PatientName    string          `json:"patientName"`
	TemplateID     string          `json:"templateId,omitempty"`
	Status         SessionStatus   `json:"status"`
	Transcriptions []Transcription `json:"transcriptions"`
	Notes          string          `json:"notes,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
	ExpiresAt      time.Time       `json:"expiresAt"`
	DeletedAt      *time.Time      `json:"deletedAt,omitempty"`
}

// Eligible reports whether the session may be selected as a current session:
// not soft-deleted and not yet expired.
func (s *PatientSession) Eligible(now time.Time) bool {
	return s.DeletedAt == nil && s.ExpiresAt.After(now)
}

// -----------------------------------------------------------------------------
// Presence Types
// -----------------------------------------------------------------------------

// Device is a device currently present on a clinician's channel.
type Device struct {
	DeviceID    string    `json:"deviceId"`
	DeviceName  string    `json:"deviceName"`
	DeviceType  Role      `json:"deviceType"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// ConnectionStatus is the externally visible state of a sync connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

// ConnectionState is what a sync consumer reports to its host.
type ConnectionState struct {
	Status  ConnectionStatus
	Detail  string   // Human readable, e.g. "Reconnecting… attempt 2"
	Devices []Device // Remote devices, ordered by connection time
}
