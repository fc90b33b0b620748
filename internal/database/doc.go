// Package database provides the PostgreSQL connection pool and schema
// migrations for syncd.
//
// Tables:
//   - users: one row per account or guest, carrying the current session pointer
//   - patient_sessions: per-patient working records, soft-deleted
//   - pairing_tokens: mobile pairing credentials
package database
