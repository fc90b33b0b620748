// Package hub is the server side of the realtime channels.
//
// Every upgraded WebSocket joins the channel named in its credential. Frames
// from one peer are relayed to the other peers on the same channel and never
// echoed back. The hub answers ping itself and keeps the channel's presence
// set: presence_enter is broadcast as device_connected and answered with a
// presence_sync snapshot; presence_leave and peer disconnects are broadcast
// as device_disconnected.
package hub

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clinicpro/dictation-sync/internal/auth"
	"github.com/clinicpro/dictation-sync/internal/metrics"
	"github.com/clinicpro/dictation-sync/internal/model"
	"github.com/clinicpro/dictation-sync/internal/router"
)

// Verifier validates realtime credentials. auth.Issuer implements it.
type Verifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Config configures a Hub.
type Config struct {
	PingInterval    time.Duration // Control ping period; peers silent for twice this are dropped
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	SendBuffer      int // Frames queued per peer before it is dropped as slow
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PingInterval:    30 * time.Second,
		WriteTimeout:    5 * time.Second,
		MaxMessageBytes: 1 << 20,
		SendBuffer:      256,
	}
}

// Stats contains hub statistics.
type Stats struct {
	Channels int
	Peers    int
}

// Hub fans frames out between the peers of each channel.
type Hub struct {
	cfg      Config
	verifier Verifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	now      func() time.Time

	mu       sync.RWMutex
	channels map[string]map[*peer]struct{}
	closed   bool
}

// New creates a hub. m may be nil.
func New(cfg Config, verifier Verifier, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaults.MaxMessageBytes
	}
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = defaults.SendBuffer
	}
	return &Hub{
		cfg:      cfg,
		verifier: verifier,
		logger:   logger.With("component", "hub"),
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Peers authenticate with a bearer credential; origin is not checked.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		now:      time.Now,
		channels: make(map[string]map[*peer]struct{}),
	}
}

// ServeHTTP upgrades an authenticated request onto its channel. The
// credential comes from "Authorization: Bearer" or the access_token query
// parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		h.metrics.Rejected("missing_token")
		http.Error(w, "missing realtime credential", http.StatusUnauthorized)
		return
	}

	claims, err := h.verifier.Verify(token)
	if err != nil {
		h.metrics.Rejected("invalid_token")
		h.logger.Debug("rejecting realtime credential", "error", err)
		http.Error(w, "invalid realtime credential", http.StatusUnauthorized)
		return
	}
	if !claims.Allows(claims.Channel, auth.OpSubscribe) {
		h.metrics.Rejected("forbidden")
		http.Error(w, "credential does not allow subscribe", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(h.cfg.MaxMessageBytes)

	p := newPeer(h, conn, claims)
	if !h.register(p) {
		conn.Close()
		return
	}

	go p.writePump()
	go p.readPump()
}

// Publish sends data to every peer on channel.
func (h *Hub) Publish(channel string, data []byte) int {
	h.mu.RLock()
	peers := make([]*peer, 0, len(h.channels[channel]))
	for p := range h.channels[channel] {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		p.enqueue(data)
	}
	return len(peers)
}

// CurrentChanged pushes sync_current_patient to the user's channel. It lets
// the hub act as the session service's notifier.
func (h *Hub) CurrentChanged(_ context.Context, userID string, current *model.PatientSession) {
	if current == nil {
		return
	}
	data, err := router.Encode(router.SyncCurrentPatient{
		PatientSessionID: current.ID,
		PatientName:      current.PatientName,
	})
	if err != nil {
		h.logger.Warn("encode sync_current_patient", "error", err)
		return
	}
	channel := model.ChannelName(userID)
	n := h.Publish(channel, data)
	h.logger.Debug("current patient pushed", "channel", channel, "peers", n)
}

// Devices returns the devices present on channel ordered by connection time.
func (h *Hub) Devices(channel string) []model.Device {
	var devices []model.Device
	for _, d := range h.presence(channel, nil) {
		devices = append(devices, d.Device())
	}
	return devices
}

// Stats returns current statistics.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	stats := Stats{Channels: len(h.channels)}
	for _, peers := range h.channels {
		stats.Peers += len(peers)
	}
	return stats
}

// CloseChannel disconnects every peer on channel. Devices reconnect on their
// own, so this forces fresh credentials without revoking anything.
func (h *Hub) CloseChannel(channel string) int {
	h.mu.RLock()
	peers := make([]*peer, 0, len(h.channels[channel]))
	for p := range h.channels[channel] {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		p.close()
	}
	if len(peers) > 0 {
		h.logger.Info("channel closed", "channel", channel, "peers", len(peers))
	}
	return len(peers)
}

// Close disconnects every peer and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var peers []*peer
	for _, set := range h.channels {
		for p := range set {
			peers = append(peers, p)
		}
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
}

func (h *Hub) register(p *peer) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	set, ok := h.channels[p.channel]
	if !ok {
		set = make(map[*peer]struct{})
		h.channels[p.channel] = set
	}
	set[p] = struct{}{}
	n := len(h.channels)
	h.mu.Unlock()

	h.metrics.PeerConnected()
	h.metrics.SetChannels(n)
	h.logger.Debug("peer joined", "channel", p.channel, "peer_id", p.id)
	return true
}

func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	set, ok := h.channels[p.channel]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := set[p]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, p)
	if len(set) == 0 {
		delete(h.channels, p.channel)
	}
	n := len(h.channels)
	h.mu.Unlock()

	h.metrics.PeerDisconnected()
	h.metrics.SetChannels(n)
	h.logger.Debug("peer left", "channel", p.channel, "peer_id", p.id)

	for _, id := range p.deviceIDs() {
		h.broadcastLeave(p, id)
	}
}

// relay sends data to every peer on from's channel except from.
func (h *Hub) relay(from *peer, data []byte) {
	h.mu.RLock()
	peers := make([]*peer, 0, len(h.channels[from.channel]))
	for p := range h.channels[from.channel] {
		if p != from {
			peers = append(peers, p)
		}
	}
	h.mu.RUnlock()

	for _, p := range peers {
		p.enqueue(data)
	}
}

// presence lists the devices on channel, skipping those owned by exclude.
func (h *Hub) presence(channel string, exclude *peer) []router.DeviceConnected {
	h.mu.RLock()
	peers := make([]*peer, 0, len(h.channels[channel]))
	for p := range h.channels[channel] {
		if p != exclude {
			peers = append(peers, p)
		}
	}
	h.mu.RUnlock()

	var devices []router.DeviceConnected
	for _, p := range peers {
		devices = append(devices, p.deviceList()...)
	}
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].ConnectedAt == devices[j].ConnectedAt {
			return devices[i].DeviceID < devices[j].DeviceID
		}
		return devices[i].ConnectedAt < devices[j].ConnectedAt
	})
	return devices
}

func (h *Hub) broadcastLeave(from *peer, deviceID string) {
	data, err := router.Encode(router.DeviceDisconnected{DeviceID: deviceID})
	if err != nil {
		return
	}
	h.metrics.Presence("leave")
	h.relay(from, data)
}

func bearerToken(r *http.Request) string {
	if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return r.URL.Query().Get("access_token")
}
