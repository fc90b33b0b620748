package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/clinicpro/dictation-sync/internal/auth"
	"github.com/clinicpro/dictation-sync/internal/router"
)

var errSlowPeer = errors.New("peer send buffer full")

// peer is one upgraded WebSocket on a channel.
type peer struct {
	hub     *Hub
	id      string
	channel string
	claims  *auth.Claims
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}

	closeOnce sync.Once

	mu      sync.Mutex
	devices map[string]router.DeviceConnected
}

func newPeer(h *Hub, conn *websocket.Conn, claims *auth.Claims) *peer {
	return &peer{
		hub:     h,
		id:      uuid.NewString(),
		channel: claims.Channel,
		claims:  claims,
		conn:    conn,
		send:    make(chan []byte, h.cfg.SendBuffer),
		done:    make(chan struct{}),
		devices: make(map[string]router.DeviceConnected),
	}
}

// enqueue queues data for the write pump. A peer that cannot keep up is
// dropped.
func (p *peer) enqueue(data []byte) {
	select {
	case <-p.done:
		return
	default:
	}

	select {
	case p.send <- data:
	case <-p.done:
	default:
		p.hub.logger.Warn("dropping slow peer", "channel", p.channel, "peer_id", p.id, "error", errSlowPeer)
		p.hub.metrics.Rejected("slow_peer")
		p.close()
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

func (p *peer) writePump() {
	ticker := time.NewTicker(p.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case data := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(p.hub.cfg.WriteTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.close()
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(p.hub.cfg.WriteTimeout))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.close()
				return
			}
		case <-p.done:
			p.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			return
		}
	}
}

func (p *peer) readPump() {
	defer func() {
		p.close()
		p.hub.unregister(p)
	}()

	wait := 2 * p.hub.cfg.PingInterval
	p.conn.SetReadDeadline(time.Now().Add(wait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(wait))
		return nil
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				p.hub.logger.Debug("peer read error", "peer_id", p.id, "error", err)
			}
			return
		}
		p.conn.SetReadDeadline(time.Now().Add(wait))
		p.handle(data)
	}
}

// handle applies hub semantics to one inbound frame.
func (p *peer) handle(data []byte) {
	env, msg, err := router.Decode(data)
	p.hub.metrics.FrameReceived(string(env.Type))
	if err != nil {
		if errors.Is(err, router.ErrUnknownKind) && p.claims.Allows(p.channel, auth.OpPublish) {
			p.hub.relay(p, data)
			return
		}
		p.hub.metrics.Rejected("malformed")
		p.hub.logger.Debug("dropping malformed frame", "peer_id", p.id, "error", err)
		return
	}

	switch m := msg.(type) {
	case router.Ping:
		if pong, err := router.Encode(router.Pong{Timestamp: m.Timestamp}); err == nil {
			p.enqueue(pong)
		}
	case router.Pong:
		// Liveness only
	case router.PresenceEnter:
		if !p.claims.Allows(p.channel, auth.OpPresence) {
			p.hub.metrics.Rejected("forbidden")
			return
		}
		p.enter(m)
	case router.PresenceLeave:
		if !p.claims.Allows(p.channel, auth.OpPresence) {
			p.hub.metrics.Rejected("forbidden")
			return
		}
		if p.leave(m.DeviceID) {
			p.hub.broadcastLeave(p, m.DeviceID)
		}
	default:
		if !p.claims.Allows(p.channel, auth.OpPublish) {
			p.hub.metrics.Rejected("forbidden")
			return
		}
		p.hub.relay(p, data)
	}
}

func (p *peer) enter(m router.PresenceEnter) {
	d := router.DeviceConnected{
		DeviceID:    m.DeviceID,
		DeviceName:  m.DeviceName,
		DeviceType:  m.DeviceType,
		ConnectedAt: p.hub.now().UnixMilli(),
	}

	p.mu.Lock()
	_, known := p.devices[m.DeviceID]
	if known {
		d.ConnectedAt = p.devices[m.DeviceID].ConnectedAt
	}
	p.devices[m.DeviceID] = d
	p.mu.Unlock()

	snapshot, err := router.Encode(router.PresenceSync{Devices: p.hub.presence(p.channel, p)})
	if err == nil {
		p.enqueue(snapshot)
	}

	if known {
		return
	}
	p.hub.metrics.Presence("enter")
	if announce, err := router.Encode(d); err == nil {
		p.hub.relay(p, announce)
	}
}

func (p *peer) leave(deviceID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.devices[deviceID]; !ok {
		return false
	}
	delete(p.devices, deviceID)
	return true
}

func (p *peer) deviceIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.devices))
	for id := range p.devices {
		ids = append(ids, id)
	}
	return ids
}

func (p *peer) deviceList() []router.DeviceConnected {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]router.DeviceConnected, 0, len(p.devices))
	for _, d := range p.devices {
		out = append(out, d)
	}
	return out
}
