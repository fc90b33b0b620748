package supervisor

import (
	"github.com/google/uuid"

	"github.com/clinicpro/dictation-sync/internal/router"
)

// Sends are fire-and-forget: nothing is queued while disconnected and the
// result only reports whether the frame was written.

// SendTranscription forwards a finished transcript to the desktop.
func (s *Supervisor) SendTranscription(t router.Transcription) bool {
	if t.DeviceID == "" {
		t.DeviceID = s.tracker.Self().DeviceID
	}
	return s.send(t)
}

// NotifyPatientSwitch tells mobiles that the desktop switched patients.
func (s *Supervisor) NotifyPatientSwitch(sessionID, patientName string) bool {
	return s.send(router.PatientSessionUpdate{PatientSessionID: sessionID, PatientName: patientName})
}

// SyncCurrentPatient pushes the current patient, e.g. to a device that
// just joined.
func (s *Supervisor) SyncCurrentPatient(sessionID, patientName string) bool {
	return s.send(router.SyncCurrentPatient{PatientSessionID: sessionID, PatientName: patientName})
}

// ForceDisconnectDevice asks the device with deviceID to disconnect.
func (s *Supervisor) ForceDisconnectDevice(deviceID string) bool {
	return s.send(router.ForceDisconnect{TargetDeviceID: deviceID})
}

// StartRecording asks mobiles to start recording.
func (s *Supervisor) StartRecording() bool {
	return s.send(router.RecordingControl{Action: router.ActionStart})
}

// StopRecording asks mobiles to stop recording.
func (s *Supervisor) StopRecording() bool {
	return s.send(router.RecordingControl{Action: router.ActionStop})
}

func (s *Supervisor) send(m router.Message) bool {
	data, err := router.EncodeWithID(m, uuid.NewString())
	if err != nil {
		s.logger.Warn("failed to encode message", "type", m.Kind(), "error", err)
		return false
	}
	if err := s.Send(data); err != nil {
		s.logger.Debug("send failed", "type", m.Kind(), "error", err)
		return false
	}
	return true
}
