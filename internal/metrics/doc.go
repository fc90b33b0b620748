// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Hub peers, channels and relayed frames by kind
//   - Presence joins and leaves
//   - Shared transport dials, reuses and stale evictions
//   - HTTP request counts and latencies by route
//
// All recording methods are safe to call on a nil *Metrics.
package metrics
