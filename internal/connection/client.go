package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket connection to the sync hub.
type Client interface {
	// Connect establishes the WebSocket connection.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// Send writes raw bytes to the connection.
	Send(data []byte) error

	// Subscribe returns a feed of every inbound frame. The feed's channel is
	// closed when the connection ends or the subscription is closed.
	Subscribe() *Subscription

	// Done is closed when the connection ends for any reason.
	Done() <-chan struct{}

	// Err returns why the connection ended, or nil after a local Close.
	Err() error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// Subscription is one consumer's view of a shared connection.
type Subscription struct {
	C <-chan TimestampedMessage

	ch     chan TimestampedMessage
	client *client
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.client.unsubscribe(s)
}

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn
	done chan struct{}
	stop sync.Once

	// Write serialization
	writeMu sync.Mutex

	// Fan-out
	subsMu     sync.Mutex
	subs       map[*Subscription]struct{}
	subsClosed bool

	// State
	mu         sync.RWMutex
	connected  bool
	closed     bool
	lastSeenAt time.Time
	err        error
}

// NewClient creates a new WebSocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}

	return &client{
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
		subs:   make(map[*Subscription]struct{}),
	}
}

// Connect establishes the WebSocket connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", c.cfg.URL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastSeenAt = time.Now()
	c.mu.Unlock()

	// Any control frame counts as liveness
	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()
	go c.heartbeatLoop()

	c.logger.Debug("websocket connected", "url", c.cfg.URL)

	return nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.terminate(nil)
		return nil
	}

	c.writeMu.Lock()
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	return c.terminate(nil)
}

// Send writes raw bytes to the connection.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Subscribe registers a new consumer.
func (c *client) Subscribe() *Subscription {
	ch := make(chan TimestampedMessage, c.cfg.BufferSize)
	sub := &Subscription{C: ch, ch: ch, client: c}

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if c.subsClosed {
		close(ch)
		return sub
	}
	c.subs[sub] = struct{}{}
	return sub
}

// Done returns a channel closed when the connection ends.
func (c *client) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal error.
func (c *client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *client) unsubscribe(sub *Subscription) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if _, ok := c.subs[sub]; ok {
		delete(c.subs, sub)
		close(sub.ch)
	}
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastSeenAt = time.Now()
	c.mu.Unlock()
}

// terminate records err, tears down the socket and signals Done. Only the
// first call has any effect.
func (c *client) terminate(err error) error {
	var closeErr error
	c.stop.Do(func() {
		c.mu.Lock()
		c.connected = false
		c.err = err
		conn := c.conn
		c.mu.Unlock()

		if conn != nil {
			closeErr = conn.Close()
		}
		close(c.done)
	})
	return closeErr
}

// readLoop reads frames and fans them out to every subscriber. It is the
// only sender on subscriber channels, so it alone closes them.
func (c *client) readLoop() {
	defer func() {
		c.subsMu.Lock()
		c.subsClosed = true
		for sub := range c.subs {
			close(sub.ch)
			delete(c.subs, sub)
		}
		c.subsMu.Unlock()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			c.mu.RLock()
			closing := c.closed
			c.mu.RUnlock()

			if closing {
				c.terminate(nil)
			} else {
				// No-op if the heartbeat already failed the connection
				c.logger.Debug("websocket read failed", "error", err)
				c.terminate(err)
			}
			return
		}

		c.touch()
		msg := TimestampedMessage{
			Data:       data,
			ReceivedAt: receivedAt,
		}

		c.subsMu.Lock()
		for sub := range c.subs {
			select {
			case sub.ch <- msg:
			default:
				c.logger.Warn("subscriber buffer full, dropping message")
			}
		}
		c.subsMu.Unlock()
	}
}

// heartbeatLoop sends an application ping every PingInterval and fails the
// connection after PingTimeout without inbound traffic.
func (c *client) heartbeatLoop() {
	interval := c.cfg.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			ping := fmt.Sprintf(`{"type":"ping","timestamp":%d}`, time.Now().UnixMilli())
			if err := c.Send([]byte(ping)); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			c.mu.RLock()
			lastSeen := c.lastSeenAt
			c.mu.RUnlock()

			if c.cfg.PingTimeout > 0 && time.Since(lastSeen) > c.cfg.PingTimeout {
				c.logger.Warn("no traffic received, connection stale",
					"last_seen", lastSeen,
					"timeout", c.cfg.PingTimeout,
				)
				c.terminate(ErrStaleConnection)
				return
			}
		}
	}
}
