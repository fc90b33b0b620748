package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clinicpro/dictation-sync/internal/connection"
	"github.com/clinicpro/dictation-sync/internal/model"
)

// Replier sends frames back on the connection a message arrived on.
type Replier interface {
	Send(data []byte) error
}

// Router decodes channel frames and dispatches them to typed handlers,
// applying the role and addressing rules of the local device.
type Router struct {
	cfg    Config
	reply  Replier
	logger *slog.Logger

	inbox *queue[connection.TimestampedMessage]
	dedup *recentIDs

	transcription   handlerSet[Transcription]
	sessionUpdate   handlerSet[PatientSessionUpdate]
	syncCurrent     handlerSet[SyncCurrentPatient]
	deviceConnected handlerSet[DeviceConnected]
	deviceLeft      handlerSet[DeviceDisconnected]
	forceDisconnect handlerSet[ForceDisconnect]
	recording       handlerSet[RecordingControl]
	presenceSync    handlerSet[PresenceSync]

	// Lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Stats
	received        atomic.Int64
	routed          atomic.Int64
	parseErrors     atomic.Int64
	unknownMessages atomic.Int64
	duplicates      atomic.Int64
	ignored         atomic.Int64
	panics          atomic.Int64
	lastPong        atomic.Int64
}

// NewRouter creates a router for the local device described by cfg.
// reply may be nil, in which case pings go unanswered.
func NewRouter(cfg Config, reply Replier, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DedupSize == 0 {
		cfg.DedupSize = 256
	}

	return &Router{
		cfg:    cfg,
		reply:  reply,
		logger: logger,
		inbox:  newQueue[connection.TimestampedMessage](cfg.QueueSize),
		dedup:  newRecentIDs(cfg.DedupSize),
	}
}

// OnTranscription subscribes to transcriptions. Desktop only.
func (r *Router) OnTranscription(fn func(Transcription)) func() {
	return r.transcription.add(fn)
}

// OnPatientSessionUpdate subscribes to patient switches. Mobile only.
func (r *Router) OnPatientSessionUpdate(fn func(PatientSessionUpdate)) func() {
	return r.sessionUpdate.add(fn)
}

// OnSyncCurrentPatient subscribes to current-patient pushes. Mobile only.
func (r *Router) OnSyncCurrentPatient(fn func(SyncCurrentPatient)) func() {
	return r.syncCurrent.add(fn)
}

// OnDeviceConnected subscribes to remote devices joining.
func (r *Router) OnDeviceConnected(fn func(DeviceConnected)) func() {
	return r.deviceConnected.add(fn)
}

// OnDeviceDisconnected subscribes to remote devices leaving.
func (r *Router) OnDeviceDisconnected(fn func(DeviceDisconnected)) func() {
	return r.deviceLeft.add(fn)
}

// OnForceDisconnect subscribes to force_disconnect frames targeting this device.
func (r *Router) OnForceDisconnect(fn func(ForceDisconnect)) func() {
	return r.forceDisconnect.add(fn)
}

// OnRecordingControl subscribes to recording start/stop. Mobile only.
func (r *Router) OnRecordingControl(fn func(RecordingControl)) func() {
	return r.recording.add(fn)
}

// OnPresenceSync subscribes to the hub's presence snapshot.
func (r *Router) OnPresenceSync(fn func(PresenceSync)) func() {
	return r.presenceSync.add(fn)
}

// Start begins draining the inbox on a background goroutine.
func (r *Router) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop(ctx)

	r.logger.Debug("message router started", "role", r.cfg.Role, "device_id", r.cfg.DeviceID)
	return nil
}

// Stop closes the inbox and waits for queued frames to be handled, or for
// ctx to expire.
func (r *Router) Stop(ctx context.Context) error {
	r.inbox.close()
	if r.cancel != nil {
		defer r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Debug("message router stopped")
		return nil
	case <-ctx.Done():
		r.logger.Warn("message router stop timed out", "pending", r.inbox.len())
		return ctx.Err()
	}
}

// Enqueue hands a frame to the routing goroutine. It never blocks and
// returns false once the router is stopped.
func (r *Router) Enqueue(msg connection.TimestampedMessage) bool {
	return r.inbox.push(msg)
}

// LastPong returns when the last pong arrived, or the zero time.
func (r *Router) LastPong() time.Time {
	ms := r.lastPong.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	return Stats{
		MessagesReceived: r.received.Load(),
		MessagesRouted:   r.routed.Load(),
		ParseErrors:      r.parseErrors.Load(),
		UnknownMessages:  r.unknownMessages.Load(),
		Duplicates:       r.duplicates.Load(),
		Ignored:          r.ignored.Load(),
		HandlerPanics:    r.panics.Load(),
		QueueLen:         r.inbox.len(),
	}
}

func (r *Router) routeLoop(ctx context.Context) {
	defer r.wg.Done()

	for {
		msg, ok := r.inbox.pop()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			return
		}
		r.Route(msg)
	}
}

// Route decodes and dispatches one frame on the calling goroutine.
// Malformed and unknown frames are counted and dropped.
func (r *Router) Route(raw connection.TimestampedMessage) {
	r.received.Add(1)

	env, msg, err := Decode(raw.Data)
	if err != nil {
		if errors.Is(err, ErrUnknownKind) {
			r.unknownMessages.Add(1)
			r.logger.Debug("skipping unknown message", "type", env.Type)
			return
		}
		r.parseErrors.Add(1)
		r.logger.Warn("failed to parse message", "error", err)
		return
	}

	if env.ID != "" && r.dedup.observe(env.ID) {
		r.duplicates.Add(1)
		return
	}

	if r.dispatch(msg) {
		r.routed.Add(1)
	} else {
		r.ignored.Add(1)
	}
}

// dispatch applies the addressing rules and reports whether msg was
// accepted by this device.
func (r *Router) dispatch(msg Message) bool {
	desktop := r.cfg.Role == model.RoleDesktop

	switch m := msg.(type) {
	case Transcription:
		if !desktop {
			return false
		}
		invoke(r, m.Kind(), r.transcription.snapshot(), m)
	case PatientSessionUpdate:
		if desktop {
			return false
		}
		invoke(r, m.Kind(), r.sessionUpdate.snapshot(), m)
	case SyncCurrentPatient:
		if desktop {
			return false
		}
		invoke(r, m.Kind(), r.syncCurrent.snapshot(), m)
	case RecordingControl:
		if desktop {
			return false
		}
		invoke(r, m.Kind(), r.recording.snapshot(), m)
	case ForceDisconnect:
		if m.TargetDeviceID != r.cfg.DeviceID {
			return false
		}
		invoke(r, m.Kind(), r.forceDisconnect.snapshot(), m)
	case DeviceConnected:
		if m.DeviceID == r.cfg.DeviceID {
			return false
		}
		invoke(r, m.Kind(), r.deviceConnected.snapshot(), m)
	case DeviceDisconnected:
		if m.DeviceID == r.cfg.DeviceID {
			return false
		}
		invoke(r, m.Kind(), r.deviceLeft.snapshot(), m)
	case PresenceSync:
		invoke(r, m.Kind(), r.presenceSync.snapshot(), m)
	case Ping:
		r.answerPing(m)
	case Pong:
		r.lastPong.Store(time.Now().UnixMilli())
	default:
		return false
	}
	return true
}

func (r *Router) answerPing(p Ping) {
	if r.reply == nil {
		return
	}
	data, err := Encode(Pong{Timestamp: p.Timestamp})
	if err != nil {
		return
	}
	if err := r.reply.Send(data); err != nil {
		r.logger.Debug("failed to answer ping", "error", err)
	}
}

// invoke calls each handler, isolating panics so one faulty subscriber
// cannot stop routing.
func invoke[T any](r *Router, kind Kind, fns []func(T), m T) {
	for _, fn := range fns {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.panics.Add(1)
					r.logger.Error("message handler panicked", "type", kind, "panic", p)
				}
			}()
			fn(m)
		}()
	}
}
