// Package router decodes sync channel frames and dispatches them to typed
// handlers.
//
// Addressing rules, applied before any handler runs:
//   - transcription: desktop devices only
//   - patient_session_update, sync_current_patient, recording_control: mobile devices only
//   - force_disconnect: only the device named by targetDeviceId
//   - device_connected / device_disconnected: every device except the subject
//   - ping: answered with pong on the same connection
//
// Frames carrying an "id" are delivered at most once per router.
package router
