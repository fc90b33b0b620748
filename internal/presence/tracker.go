// Package presence tracks which devices share a clinician's channel.
//
// A Tracker owns the local device's identity, which is generated once and
// kept across reconnects, and a de-duplicated set of remote devices fed by
// device_connected, device_disconnected and presence_sync frames. Presence
// send failures are logged and never returned.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/clinicpro/dictation-sync/internal/model"
	"github.com/clinicpro/dictation-sync/internal/router"
)

// Sender writes a frame to the channel transport.
type Sender interface {
	Send(data []byte) error
}

// Tracker maintains the presence view for one local device.
type Tracker struct {
	self   model.Device
	logger *slog.Logger

	mu        sync.Mutex
	devices   map[string]model.Device
	observers map[int]func([]model.Device)
	nextObs   int
}

// NewTracker creates a tracker whose local identity is derived from role and
// the user-agent string.
func NewTracker(role model.Role, userAgent string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now()
	return &Tracker{
		self: model.Device{
			DeviceID:    GenerateDeviceID(role, now),
			DeviceName:  DeviceName(role, userAgent),
			DeviceType:  role,
			ConnectedAt: now.UTC(),
		},
		logger:    logger.With("component", "presence"),
		devices:   make(map[string]model.Device),
		observers: make(map[int]func([]model.Device)),
	}
}

// Self returns the local device.
func (t *Tracker) Self() model.Device {
	return t.self
}

// Announce sends presence_enter for the local device. It reports whether the
// frame was written.
func (t *Tracker) Announce(s Sender) bool {
	data, err := router.Encode(router.PresenceEnter{
		DeviceID:   t.self.DeviceID,
		DeviceName: t.self.DeviceName,
		DeviceType: t.self.DeviceType,
	})
	if err == nil {
		err = s.Send(data)
	}
	if err != nil {
		t.logger.Warn("presence announce failed", "device_id", t.self.DeviceID, "error", err)
		return false
	}
	t.logger.Debug("presence announced", "device_id", t.self.DeviceID, "device_name", t.self.DeviceName)
	return true
}

// Leave sends presence_leave for the local device.
func (t *Tracker) Leave(s Sender) bool {
	data, err := router.Encode(router.PresenceLeave{DeviceID: t.self.DeviceID})
	if err == nil {
		err = s.Send(data)
	}
	if err != nil {
		t.logger.Debug("presence leave failed", "device_id", t.self.DeviceID, "error", err)
		return false
	}
	return true
}

// Enter records a remote device. Re-announcing an identical device does not
// notify observers.
func (t *Tracker) Enter(d model.Device) {
	if d.DeviceID == "" || d.DeviceID == t.self.DeviceID {
		return
	}

	t.mu.Lock()
	if existing, ok := t.devices[d.DeviceID]; ok && existing == d {
		t.mu.Unlock()
		return
	}
	t.devices[d.DeviceID] = d
	t.mu.Unlock()

	t.notify()
}

// Left removes a remote device.
func (t *Tracker) Left(deviceID string) {
	t.mu.Lock()
	if _, ok := t.devices[deviceID]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.devices, deviceID)
	t.mu.Unlock()

	t.notify()
}

// Replace swaps the remote set for a snapshot, e.g. from presence_sync.
func (t *Tracker) Replace(devices []model.Device) {
	next := make(map[string]model.Device, len(devices))
	for _, d := range devices {
		if d.DeviceID == "" || d.DeviceID == t.self.DeviceID {
			continue
		}
		next[d.DeviceID] = d
	}

	t.mu.Lock()
	t.devices = next
	t.mu.Unlock()

	t.notify()
}

// Reset forgets every remote device, e.g. on disconnect.
func (t *Tracker) Reset() {
	t.mu.Lock()
	empty := len(t.devices) == 0
	t.devices = make(map[string]model.Device)
	t.mu.Unlock()

	if !empty {
		t.notify()
	}
}

// Devices returns the remote devices ordered by connection time.
func (t *Tracker) Devices() []model.Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Subscribe registers fn to receive the device list after every change. The
// returned func unsubscribes.
func (t *Tracker) Subscribe(fn func([]model.Device)) func() {
	t.mu.Lock()
	id := t.nextObs
	t.nextObs++
	t.observers[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.observers, id)
			t.mu.Unlock()
		})
	}
}

// Attach feeds the tracker from r's device frames. The returned func
// detaches it.
func (t *Tracker) Attach(r *router.Router) func() {
	unsubs := []func(){
		r.OnDeviceConnected(func(m router.DeviceConnected) {
			t.Enter(m.Device())
		}),
		r.OnDeviceDisconnected(func(m router.DeviceDisconnected) {
			t.Left(m.DeviceID)
		}),
		r.OnPresenceSync(func(m router.PresenceSync) {
			devices := make([]model.Device, 0, len(m.Devices))
			for _, d := range m.Devices {
				devices = append(devices, d.Device())
			}
			t.Replace(devices)
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (t *Tracker) notify() {
	t.mu.Lock()
	devices := t.snapshotLocked()
	fns := make([]func([]model.Device), 0, len(t.observers))
	for _, fn := range t.observers {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(devices)
	}
}

func (t *Tracker) snapshotLocked() []model.Device {
	out := make([]model.Device, 0, len(t.devices))
	for _, d := range t.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}
