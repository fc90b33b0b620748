package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clinicpro/dictation-sync/internal/api"
	"github.com/clinicpro/dictation-sync/internal/connection"
	"github.com/clinicpro/dictation-sync/internal/model"
	"github.com/clinicpro/dictation-sync/internal/presence"
	"github.com/clinicpro/dictation-sync/internal/router"
)

var (
	// ErrPairingRequired is returned by Enable on a mobile device without a
	// valid, unexpired pairing result.
	ErrPairingRequired = errors.New("mobile devices require a validated pairing token")

	// ErrInvalidRole is returned by New for roles other than desktop and mobile.
	ErrInvalidRole = errors.New("invalid device role")
)

// Detail strings published with state changes.
const (
	DetailRealtimeDisabled = "Realtime sync is not configured"
	DetailIdentity         = "Unable to resolve identity"
	DetailKicked           = "Disconnected by another device"
	DetailPairing          = "Pairing token invalid or expired"
)

// CredentialSource fetches a fresh realtime credential. api.TokenProvider
// is the production implementation.
type CredentialSource interface {
	Credential(ctx context.Context) (model.TokenRequest, error)
}

// Config configures a Supervisor.
type Config struct {
	Role        model.Role
	UserAgent   string                  // Feeds the device name
	BaseDelay   time.Duration           // First retry delay (default 1s)
	MaxAttempts int                     // Consecutive retries before giving up (default 5)
	Client      connection.ClientConfig // URL is a fallback when credentials carry no endpoint
	Pairing     *api.PairingResult      // Required for mobile devices
	Router      router.Config           // Role and DeviceID are filled in by New
}

// DefaultConfig returns defaults for role.
func DefaultConfig(role model.Role) Config {
	return Config{
		Role:        role,
		BaseDelay:   time.Second,
		MaxAttempts: 5,
		Client:      connection.DefaultClientConfig(),
	}
}

// Backoff returns the delay before retry k (k from 0): base × 2^k.
func Backoff(base time.Duration, k int) time.Duration {
	if k < 0 {
		k = 0
	}
	if k > 30 {
		k = 30
	}
	return base << k
}

// Supervisor drives connect, reconnect and teardown for one local device.
type Supervisor struct {
	cfg      Config
	creds    CredentialSource
	registry *connection.Registry
	tracker  *presence.Tracker
	router   *router.Router
	logger   *slog.Logger

	dial      func(connection.ClientConfig) connection.Dialer
	afterFunc func(time.Duration, func()) func() bool
	now       func() time.Time

	mu          sync.Mutex
	enabled     bool
	epoch       uint64
	attempt     int    // Retries scheduled since the last successful connect
	lease       *connection.Lease
	sub         *connection.Subscription
	cancelRetry func() bool
	cancelFetch context.CancelFunc
	state       model.ConnectionState
	seq         uint64

	notifyMu  sync.Mutex
	published uint64
	observers map[int]func(model.ConnectionState)
	nextObs   int

	detach []func()
}

// New creates a supervisor. The registry is shared by every supervisor in
// the process.
func New(cfg Config, creds CredentialSource, registry *connection.Registry, logger *slog.Logger) (*Supervisor, error) {
	if !cfg.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, cfg.Role)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}

	tracker := presence.NewTracker(cfg.Role, cfg.UserAgent, logger)
	self := tracker.Self()
	logger = logger.With("component", "supervisor", "device_id", self.DeviceID)

	cfg.Router.Role = cfg.Role
	cfg.Router.DeviceID = self.DeviceID

	s := &Supervisor{
		cfg:      cfg,
		creds:    creds,
		registry: registry,
		tracker:  tracker,
		logger:   logger,
		dial: func(cc connection.ClientConfig) connection.Dialer {
			return connection.Dial(cc, logger)
		},
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		now:       time.Now,
		state:     model.ConnectionState{Status: model.StatusDisconnected},
		observers: make(map[int]func(model.ConnectionState)),
	}
	s.router = router.NewRouter(cfg.Router, s, logger)

	s.detach = []func(){
		tracker.Attach(s.router),
		tracker.Subscribe(func([]model.Device) { s.publish() }),
		s.router.OnForceDisconnect(func(router.ForceDisconnect) {
			s.logger.Info("force disconnect received")
			s.disable(DetailKicked)
		}),
	}
	return s, nil
}

// NewMobile creates a supervisor for a mobile device paired via pairing.
func NewMobile(cfg Config, pairing *api.PairingResult, creds CredentialSource, registry *connection.Registry, logger *slog.Logger) (*Supervisor, error) {
	cfg.Role = model.RoleMobile
	cfg.Pairing = pairing
	return New(cfg, creds, registry, logger)
}

// Router exposes the message router for handler registration.
func (s *Supervisor) Router() *router.Router {
	return s.router
}

// Self returns the local device.
func (s *Supervisor) Self() model.Device {
	return s.tracker.Self()
}

// Start starts message routing. Call Enable to connect.
func (s *Supervisor) Start(ctx context.Context) error {
	return s.router.Start(ctx)
}

// Stop disconnects and drains the router.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.Disable()
	for _, fn := range s.detach {
		fn()
	}
	return s.router.Stop(ctx)
}

// Enable turns the connection on. It returns immediately; progress is
// reported through OnStateChange.
func (s *Supervisor) Enable() error {
	s.mu.Lock()
	if s.enabled {
		s.mu.Unlock()
		return nil
	}
	if s.cfg.Role == model.RoleMobile && !s.cfg.Pairing.Usable(s.now()) {
		seq := s.setStateLocked(model.StatusError, DetailPairing)
		s.mu.Unlock()
		s.flush(seq)
		return ErrPairingRequired
	}

	s.enabled = true
	s.epoch++
	s.attempt = 0
	epoch := s.epoch
	s.mu.Unlock()

	go s.connect(epoch)
	return nil
}

// Disable turns the connection off, leaving presence and releasing the
// channel transport.
func (s *Supervisor) Disable() {
	s.disable("")
}

// Enabled reports whether the supervisor is trying to stay connected.
func (s *Supervisor) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// State returns the current connection state.
func (s *Supervisor) State() model.ConnectionState {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	st.Devices = s.tracker.Devices()
	return st
}

// OnStateChange registers fn for every state change, including changes to
// the device list. fn runs synchronously and must not call Enable or
// Disable; hand off to another goroutine instead. The returned func
// unsubscribes.
func (s *Supervisor) OnStateChange(fn func(model.ConnectionState)) func() {
	s.notifyMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.notifyMu.Lock()
			delete(s.observers, id)
			s.notifyMu.Unlock()
		})
	}
}

// Send implements router.Replier.
func (s *Supervisor) Send(data []byte) error {
	s.mu.Lock()
	lease := s.lease
	s.mu.Unlock()

	if lease == nil {
		return connection.ErrNotConnected
	}
	return lease.Client().Send(data)
}

func (s *Supervisor) connect(epoch uint64) {
	s.mu.Lock()
	if !s.enabled || s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	detail := ""
	if s.attempt > 0 {
		detail = reconnectDetail(s.attempt)
	}
	seq := s.setStateLocked(model.StatusConnecting, detail)
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFetch = cancel
	s.mu.Unlock()
	s.flush(seq)

	defer cancel()

	tr, err := s.creds.Credential(ctx)
	if s.stale(epoch) {
		s.logger.Debug("discarding stale credential fetch")
		return
	}
	switch {
	case errors.Is(err, api.ErrRealtimeDisabled):
		s.logger.Info("realtime disabled on server, staying disconnected")
		s.settle(epoch, model.StatusDisconnected, DetailRealtimeDisabled)
		return
	case errors.Is(err, api.ErrIdentityUnresolved):
		s.logger.Warn("cannot connect without an identity", "error", err)
		s.settle(epoch, model.StatusError, DetailIdentity)
		return
	case err != nil:
		s.logger.Warn("credential fetch failed", "error", err)
		s.scheduleRetry(epoch)
		return
	}

	cc := s.cfg.Client
	if tr.Endpoint != "" {
		cc.URL = tr.Endpoint
	}
	cc.Token = tr.Token

	lease, err := s.registry.Acquire(ctx, tr.Channel, s.dial(cc))
	if err != nil {
		if !s.stale(epoch) {
			s.logger.Warn("connect failed", "channel", tr.Channel, "error", err)
			s.scheduleRetry(epoch)
		}
		return
	}

	client := lease.Client()
	sub := client.Subscribe()

	s.mu.Lock()
	if !s.enabled || s.epoch != epoch {
		s.mu.Unlock()
		sub.Close()
		lease.Release()
		return
	}
	s.lease = lease
	s.sub = sub
	s.attempt = 0
	seq = s.setStateLocked(model.StatusConnected, "")
	s.mu.Unlock()
	s.flush(seq)

	s.logger.Info("connected", "channel", tr.Channel)
	s.tracker.Announce(client)

	go s.pump(epoch, lease, sub)
}

// pump feeds the router until the subscription ends.
func (s *Supervisor) pump(epoch uint64, lease *connection.Lease, sub *connection.Subscription) {
	for msg := range sub.C {
		s.router.Enqueue(msg)
	}

	s.mu.Lock()
	if s.lease != lease {
		// Detached by Disable
		s.mu.Unlock()
		return
	}
	s.lease = nil
	s.sub = nil
	s.mu.Unlock()

	lease.Release()
	s.tracker.Reset()

	s.logger.Warn("connection lost", "channel", lease.Channel(), "error", lease.Client().Err())
	s.scheduleRetry(epoch)
}

func (s *Supervisor) scheduleRetry(epoch uint64) {
	s.mu.Lock()
	if !s.enabled || s.epoch != epoch {
		s.mu.Unlock()
		return
	}

	if s.attempt >= s.cfg.MaxAttempts {
		attempts := s.attempt
		seq := s.setStateLocked(model.StatusError, fmt.Sprintf("Connection lost after %d attempts", attempts))
		s.mu.Unlock()
		s.flush(seq)
		s.logger.Error("giving up reconnecting", "attempts", attempts)
		return
	}

	delay := Backoff(s.cfg.BaseDelay, s.attempt)
	s.attempt++
	attempt := s.attempt
	seq := s.setStateLocked(model.StatusConnecting, reconnectDetail(attempt))
	s.cancelRetry = s.afterFunc(delay, func() { s.connect(epoch) })
	s.mu.Unlock()
	s.flush(seq)

	s.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

func (s *Supervisor) disable(detail string) {
	s.mu.Lock()
	wasActive := s.enabled || s.lease != nil
	s.enabled = false
	s.epoch++
	s.attempt = 0
	if s.cancelRetry != nil {
		s.cancelRetry()
		s.cancelRetry = nil
	}
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	lease, sub := s.lease, s.sub
	s.lease, s.sub = nil, nil
	var seq uint64
	if wasActive || detail != "" {
		seq = s.setStateLocked(model.StatusDisconnected, detail)
	}
	s.mu.Unlock()

	if lease != nil {
		s.tracker.Leave(lease.Client())
		sub.Close()
		lease.Release()
	}
	s.tracker.Reset()
	if seq != 0 {
		s.flush(seq)
	}
}

// settle publishes a terminal state for epoch without retrying.
func (s *Supervisor) settle(epoch uint64, status model.ConnectionStatus, detail string) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	seq := s.setStateLocked(status, detail)
	s.mu.Unlock()
	s.flush(seq)
}

func (s *Supervisor) stale(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.enabled || s.epoch != epoch
}

// setStateLocked records a state and returns its sequence number for flush.
func (s *Supervisor) setStateLocked(status model.ConnectionStatus, detail string) uint64 {
	s.state = model.ConnectionState{Status: status, Detail: detail}
	s.seq++
	return s.seq
}

// flush delivers the state recorded as seq unless a newer one was already
// delivered.
func (s *Supervisor) flush(seq uint64) {
	s.mu.Lock()
	if seq != s.seq {
		// A newer state exists; its own flush will deliver it.
		s.mu.Unlock()
		return
	}
	st := s.state
	s.mu.Unlock()
	st.Devices = s.tracker.Devices()

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if seq <= s.published {
		return
	}
	s.published = seq
	for _, fn := range s.observers {
		fn(st)
	}
}

// publish re-delivers the current state, e.g. after the device list changed.
func (s *Supervisor) publish() {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	st.Devices = s.tracker.Devices()

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for _, fn := range s.observers {
		fn(st)
	}
}

func reconnectDetail(attempt int) string {
	return fmt.Sprintf("Reconnecting… attempt %d", attempt)
}
