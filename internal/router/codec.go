package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for frames that are not JSON objects or that
	// miss a field their kind requires.
	ErrMalformed = errors.New("malformed message")

	// ErrUnknownKind is returned for well-formed frames of an unknown type.
	ErrUnknownKind = errors.New("unknown message type")
)

// Encode serializes m as a JSON object with its "type" discriminator.
func Encode(m Message) ([]byte, error) {
	return EncodeWithID(m, "")
}

// EncodeWithID is Encode with an "id" for duplicate suppression.
func EncodeWithID(m Message, id string) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	head, err := json.Marshal(Envelope{Type: m.Kind(), ID: id})
	if err != nil {
		return nil, err
	}

	// Splice {"type":..,"id":..} and the body's fields into one object.
	var buf bytes.Buffer
	buf.Write(head[:len(head)-1])
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// Decode parses a frame into its envelope and typed message.
func Decode(data []byte) (Envelope, Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return env, nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	var (
		msg Message
		err error
	)
	switch env.Type {
	case KindTranscription:
		msg, err = decodeAs[Transcription](data)
	case KindPatientSessionUpdate:
		msg, err = decodeAs[PatientSessionUpdate](data)
	case KindSyncCurrentPatient:
		msg, err = decodeAs[SyncCurrentPatient](data)
	case KindDeviceConnected:
		msg, err = decodeAs[DeviceConnected](data)
	case KindDeviceDisconnected:
		msg, err = decodeAs[DeviceDisconnected](data)
	case KindForceDisconnect:
		msg, err = decodeAs[ForceDisconnect](data)
	case KindRecordingControl:
		msg, err = decodeAs[RecordingControl](data)
	case KindPing:
		msg, err = decodeAs[Ping](data)
	case KindPong:
		msg, err = decodeAs[Pong](data)
	case KindPresenceEnter:
		msg, err = decodeAs[PresenceEnter](data)
	case KindPresenceLeave:
		msg, err = decodeAs[PresenceLeave](data)
	case KindPresenceSync:
		msg, err = decodeAs[PresenceSync](data)
	default:
		return env, nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
	if err != nil {
		return env, nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	if err := validate(msg); err != nil {
		return env, nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return env, msg, nil
}

func decodeAs[T Message](data []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func validate(m Message) error {
	switch v := m.(type) {
	case Transcription:
		if v.Transcript == "" {
			return errors.New("transcript is required")
		}
	case PatientSessionUpdate:
		if v.PatientSessionID == "" {
			return errors.New("patientSessionId is required")
		}
	case SyncCurrentPatient:
		if v.PatientSessionID == "" {
			return errors.New("patientSessionId is required")
		}
	case DeviceConnected:
		if v.DeviceID == "" {
			return errors.New("deviceId is required")
		}
	case DeviceDisconnected:
		if v.DeviceID == "" {
			return errors.New("deviceId is required")
		}
	case ForceDisconnect:
		if v.TargetDeviceID == "" {
			return errors.New("targetDeviceId is required")
		}
	case RecordingControl:
		if v.Action != ActionStart && v.Action != ActionStop {
			return fmt.Errorf("action must be start or stop, got %q", v.Action)
		}
	case PresenceEnter:
		if v.DeviceID == "" {
			return errors.New("deviceId is required")
		}
		if !v.DeviceType.Valid() {
			return fmt.Errorf("unknown deviceType %q", v.DeviceType)
		}
	case PresenceLeave:
		if v.DeviceID == "" {
			return errors.New("deviceId is required")
		}
	}
	return nil
}
