package router

import (
	"encoding/json"
	"time"

	"github.com/clinicpro/dictation-sync/internal/model"
)

// Kind is the "type" discriminator of a channel message.
type Kind string

const (
	KindTranscription        Kind = "transcription"
	KindPatientSessionUpdate Kind = "patient_session_update"
	KindSyncCurrentPatient   Kind = "sync_current_patient"
	KindDeviceConnected      Kind = "device_connected"
	KindDeviceDisconnected   Kind = "device_disconnected"
	KindForceDisconnect      Kind = "force_disconnect"
	KindRecordingControl     Kind = "recording_control"
	KindPing                 Kind = "ping"
	KindPong                 Kind = "pong"

	// Presence frames exchanged with the hub.
	KindPresenceEnter Kind = "presence_enter"
	KindPresenceLeave Kind = "presence_leave"
	KindPresenceSync  Kind = "presence_sync"
)

// Recording actions.
const (
	ActionStart = "start"
	ActionStop  = "stop"
)

// Message is one of the typed channel messages below.
type Message interface {
	Kind() Kind
}

// Envelope carries the fields shared by every frame.
type Envelope struct {
	Type Kind   `json:"type"`
	ID   string `json:"id,omitempty"` // Sender-assigned, used for duplicate suppression
}

// Transcription is a finished transcript sent from a mobile to the desktop.
type Transcription struct {
	Transcript         string          `json:"transcript"`
	DiarizedTranscript string          `json:"diarizedTranscript,omitempty"`
	Utterances         json.RawMessage `json:"utterances,omitempty"`
	PatientSessionID   string          `json:"patientSessionId,omitempty"`
	DeviceID           string          `json:"deviceId,omitempty"`
}

// PatientSessionUpdate tells mobiles that the desktop switched patients.
type PatientSessionUpdate struct {
	PatientSessionID string `json:"patientSessionId"`
	PatientName      string `json:"patientName,omitempty"`
}

// SyncCurrentPatient pushes the current patient to devices that just joined.
type SyncCurrentPatient struct {
	PatientSessionID string `json:"patientSessionId"`
	PatientName      string `json:"patientName,omitempty"`
}

// DeviceConnected announces a device joining the channel.
type DeviceConnected struct {
	DeviceID    string     `json:"deviceId"`
	DeviceName  string     `json:"deviceName"`
	DeviceType  model.Role `json:"deviceType"`
	ConnectedAt int64      `json:"connectedAt"` // Unix milliseconds
}

// Device converts the announcement to a presence entry.
func (d DeviceConnected) Device() model.Device {
	return model.Device{
		DeviceID:    d.DeviceID,
		DeviceName:  d.DeviceName,
		DeviceType:  d.DeviceType,
		ConnectedAt: time.UnixMilli(d.ConnectedAt).UTC(),
	}
}

// DeviceDisconnected announces a device leaving the channel.
type DeviceDisconnected struct {
	DeviceID string `json:"deviceId"`
}

// ForceDisconnect asks one device to tear itself down.
type ForceDisconnect struct {
	TargetDeviceID string `json:"targetDeviceId"`
}

// RecordingControl starts or stops recording on mobile devices.
type RecordingControl struct {
	Action string `json:"action"`
}

// Ping is an application heartbeat.
type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

// Pong answers a Ping.
type Pong struct {
	Timestamp int64 `json:"timestamp"`
}

// PresenceEnter registers the sending connection's device with the hub.
type PresenceEnter struct {
	DeviceID   string     `json:"deviceId"`
	DeviceName string     `json:"deviceName"`
	DeviceType model.Role `json:"deviceType"`
}

// PresenceLeave withdraws a device registered with PresenceEnter.
type PresenceLeave struct {
	DeviceID string `json:"deviceId"`
}

// PresenceSync lists the devices already on the channel. The hub sends it
// in reply to PresenceEnter.
type PresenceSync struct {
	Devices []DeviceConnected `json:"devices"`
}

func (Transcription) Kind() Kind        { return KindTranscription }
func (PatientSessionUpdate) Kind() Kind { return KindPatientSessionUpdate }
func (SyncCurrentPatient) Kind() Kind   { return KindSyncCurrentPatient }
func (DeviceConnected) Kind() Kind      { return KindDeviceConnected }
func (DeviceDisconnected) Kind() Kind   { return KindDeviceDisconnected }
func (ForceDisconnect) Kind() Kind      { return KindForceDisconnect }
func (RecordingControl) Kind() Kind     { return KindRecordingControl }
func (Ping) Kind() Kind                 { return KindPing }
func (Pong) Kind() Kind                 { return KindPong }
func (PresenceEnter) Kind() Kind        { return KindPresenceEnter }
func (PresenceLeave) Kind() Kind        { return KindPresenceLeave }
func (PresenceSync) Kind() Kind         { return KindPresenceSync }

// Config holds configuration for the Message Router.
type Config struct {
	Role      model.Role // Local device role; gates role-specific kinds
	DeviceID  string     // Local device ID; gates force_disconnect
	QueueSize int        // Initial inbound queue capacity
	DedupSize int        // Number of recent message IDs remembered
}

// DefaultConfig returns default configuration for role.
func DefaultConfig(role model.Role, deviceID string) Config {
	return Config{
		Role:      role,
		DeviceID:  deviceID,
		QueueSize: 64,
		DedupSize: 256,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	MessagesReceived int64
	MessagesRouted   int64
	ParseErrors      int64
	UnknownMessages  int64
	Duplicates       int64
	Ignored          int64 // Valid but not addressed to this device or role
	HandlerPanics    int64
	QueueLen         int
}
