package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no traffic)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL, e.g. wss://sync.example.com/ws
	Token            string        // Realtime credential sent as a bearer token
	PingInterval     time.Duration // Heartbeat period
	PingTimeout      time.Duration // Max silence before the connection is considered stale
	WriteTimeout     time.Duration // Write deadline for sends
	HandshakeTimeout time.Duration // Dial handshake deadline
	BufferSize       int           // Per-subscriber message buffer
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		BufferSize:       256,
	}
}

// RegistryStats contains registry statistics.
type RegistryStats struct {
	Channels       int            // Channels with a registered transport
	Leases         int            // Outstanding leases across all channels
	Refs           map[string]int // Outstanding leases per channel
	Dials          int64          // Transports created
	Reuses         int64          // Acquires served by an existing transport
	StaleEvictions int64          // Unhealthy transports discarded on acquire
}
