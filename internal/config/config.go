package config

import "time"

// ServerConfig is the root configuration for a syncd instance.
type ServerConfig struct {
	Server   HTTPConfig     `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Pairing  PairingConfig  `yaml:"pairing"`
	Sessions SessionsConfig `yaml:"sessions"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// HTTPConfig holds the HTTP listener settings.
type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	PublicURL    string        `yaml:"public_url"`     // Base URL advertised to clients, e.g. https://sync.example.com
	MobileAppURL string        `yaml:"mobile_app_url"` // Base of the mobile pairing link
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig holds the Postgres connection. An empty host selects the
// in-memory stores.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
	Migrate  bool     `yaml:"migrate"` // Apply embedded migrations at startup
}

// Enabled reports whether a Postgres database is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Postgres.Host != ""
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// AuthConfig holds realtime credential signing settings.
type AuthConfig struct {
	PrivateKeyPath string        `yaml:"private_key_path"` // RSA or ECDSA PEM; empty disables realtime
	Issuer         string        `yaml:"issuer"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
}

// RealtimeConfig holds the WebSocket hub settings.
type RealtimeConfig struct {
	Path            string        `yaml:"path"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
	SendBuffer      int           `yaml:"send_buffer"`
}

// PairingConfig holds mobile pairing token lifetimes.
type PairingConfig struct {
	UserTTL       time.Duration `yaml:"user_ttl"`
	GuestTTL      time.Duration `yaml:"guest_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"` // How often expired tokens are purged
	Retain        time.Duration `yaml:"retain"`         // How long expired tokens are kept before purging
}

// SessionsConfig holds patient session settings.
type SessionsConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	PlaceholderName string        `yaml:"placeholder_name"`
	ListLimit       int           `yaml:"list_limit"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}
