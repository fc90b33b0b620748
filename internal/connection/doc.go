// Package connection manages WebSocket transports to the sync hub.
//
// A Client owns one socket. Inbound frames are fanned out to every
// Subscription so several consumers can share a single transport. The client
// sends an application-level ping every PingInterval and fails with
// ErrStaleConnection after PingTimeout without inbound traffic.
//
// A Registry keys transports by channel. Acquire returns a Lease; concurrent
// acquires for the same channel produce exactly one dial, and the transport
// closes when the last lease is released. A registered transport that is no
// longer connected is evicted and replaced on the next Acquire.
package connection
