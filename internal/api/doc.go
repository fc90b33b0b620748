// Package api is the device-side client for the syncd REST API.
//
// Endpoints:
//   - POST /api/realtime/token          realtime credential for the caller's channel
//   - POST /api/pairing/tokens          mint a pairing token (desktop)
//   - POST /api/pairing/validate        validate a pairing token (mobile)
//   - GET  /api/pairing/current-session current patient for a pairing token
//   - /api/patient-sessions             patient session CRUD
//
// Callers identify themselves with X-User-ID (set by the upstream
// authenticator), X-Guest-Token, or a pairing token in the token query
// parameter. TokenProvider resolves which one applies and fetches a fresh
// realtime credential for every connection attempt.
package api
