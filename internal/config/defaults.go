package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAddr             = ":8080"
	DefaultHTTPReadTimeout  = 15 * time.Second
	DefaultHTTPWriteTimeout = 15 * time.Second
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 10
	DefaultMinConns         = 2
	DefaultIssuer           = "dictation-sync"
	DefaultTokenTTL         = 24 * time.Hour
	DefaultRealtimePath     = "/ws"
	DefaultPingInterval     = 30 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultMaxMessageBytes  = 1 << 20
	DefaultSendBuffer       = 256
	DefaultPairingUserTTL   = 24 * time.Hour
	DefaultPairingGuestTTL  = 7 * 24 * time.Hour
	DefaultSweepInterval    = time.Hour
	DefaultPairingRetain    = 7 * 24 * time.Hour
	DefaultSessionTTL       = 24 * time.Hour
	DefaultPlaceholderName  = "New Patient"
	DefaultListLimit        = 50
	DefaultMetricsPath      = "/metrics"
)

func (c *ServerConfig) applyDefaults() {
	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultHTTPReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultHTTPWriteTimeout
	}

	applyDBDefaults(&c.Database.Postgres)

	// Auth defaults
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = DefaultIssuer
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}

	// Realtime defaults
	if c.Realtime.Path == "" {
		c.Realtime.Path = DefaultRealtimePath
	}
	if c.Realtime.PingInterval == 0 {
		c.Realtime.PingInterval = DefaultPingInterval
	}
	if c.Realtime.WriteTimeout == 0 {
		c.Realtime.WriteTimeout = DefaultWriteTimeout
	}
	if c.Realtime.MaxMessageBytes == 0 {
		c.Realtime.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.Realtime.SendBuffer == 0 {
		c.Realtime.SendBuffer = DefaultSendBuffer
	}

	// Pairing defaults
	if c.Pairing.UserTTL == 0 {
		c.Pairing.UserTTL = DefaultPairingUserTTL
	}
	if c.Pairing.GuestTTL == 0 {
		c.Pairing.GuestTTL = DefaultPairingGuestTTL
	}
	if c.Pairing.SweepInterval == 0 {
		c.Pairing.SweepInterval = DefaultSweepInterval
	}
	if c.Pairing.Retain == 0 {
		c.Pairing.Retain = DefaultPairingRetain
	}

	// Sessions defaults
	if c.Sessions.TTL == 0 {
		c.Sessions.TTL = DefaultSessionTTL
	}
	if c.Sessions.PlaceholderName == "" {
		c.Sessions.PlaceholderName = DefaultPlaceholderName
	}
	if c.Sessions.ListLimit == 0 {
		c.Sessions.ListLimit = DefaultListLimit
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
