// Package supervisor owns one device's realtime connection lifecycle.
//
// States move disconnected → connecting → connected; any state may move to
// error, and Disable always returns to disconnected. Each connection attempt
// fetches a fresh credential, acquires the channel's shared transport from a
// connection.Registry, announces presence and pumps frames into a
// router.Router.
//
// When an established connection drops while enabled, the supervisor
// retries after BaseDelay×2^k for k = 0, 1, … and gives up with
// "Connection lost after N attempts" once MaxAttempts retries have failed.
// A successful connect resets the count. Disable cancels a pending retry
// and discards any credential fetch still in flight.
//
// Mobile devices may only be enabled with a usable pairing result.
package supervisor
