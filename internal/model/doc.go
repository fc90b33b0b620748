// Package model defines shared data types used across the dictation sync core.
//
// Conventions:
//   - Timestamps: time.Time in UTC
//   - IDs: strings (UUIDs for sessions, opaque tokens for pairing)
//   - Channels: "user:{clientId}" for accounts, "guest:{token}" for guests
package model
