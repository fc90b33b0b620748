package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"

	"github.com/clinicpro/dictation-sync/internal/model"
)

// AgentConfig configures a syncagent device. It is read from the environment
// and an optional .env file.
type AgentConfig struct {
	// BaseURL is the syncd HTTP base URL, e.g. https://sync.example.com.
	BaseURL string `mapstructure:"SYNC_BASE_URL"`
	// WSURL overrides the WebSocket endpoint advertised in token responses.
	WSURL string `mapstructure:"SYNC_WS_URL"`
	// Role is "desktop" or "mobile".
	Role string `mapstructure:"SYNC_ROLE"`
	// UserID is sent as X-User-ID for authenticated desktops.
	UserID string `mapstructure:"SYNC_USER_ID"`
	// GuestToken identifies an anonymous clinician.
	GuestToken string `mapstructure:"SYNC_GUEST_TOKEN"`
	// PairingToken is required for mobile devices.
	PairingToken string `mapstructure:"SYNC_PAIRING_TOKEN"`
	// SessionID is the patient session the pairing token was minted for.
	SessionID string `mapstructure:"SYNC_SESSION_ID"`
	// UserAgent feeds the device-name heuristic.
	UserAgent string `mapstructure:"SYNC_USER_AGENT"`
	// ReconnectBaseDelay is the first retry delay (e.g. "1s").
	ReconnectBaseDelay string `mapstructure:"SYNC_RECONNECT_BASE_DELAY"`
	// ReconnectMaxAttempts caps consecutive reconnect attempts.
	ReconnectMaxAttempts int `mapstructure:"SYNC_RECONNECT_MAX_ATTEMPTS"`
	// PingInterval is the heartbeat period (e.g. "30s").
	PingInterval string `mapstructure:"SYNC_PING_INTERVAL"`
	// HTTPTimeout bounds each REST call (e.g. "10s").
	HTTPTimeout string `mapstructure:"SYNC_HTTP_TIMEOUT"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"SYNC_LOG_LEVEL"`
}

// LoadAgent reads .env (if present), then builds and validates AgentConfig
// from the environment. Environment variables override .env.
func LoadAgent() (*AgentConfig, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil && !envFileMissing(err) {
		return nil, fmt.Errorf("config: read .env: %w", err)
	}

	v.AutomaticEnv()

	v.SetDefault("SYNC_BASE_URL", "http://localhost:8080")
	v.SetDefault("SYNC_WS_URL", "")
	v.SetDefault("SYNC_ROLE", string(model.RoleDesktop))
	v.SetDefault("SYNC_USER_ID", "")
	v.SetDefault("SYNC_GUEST_TOKEN", "")
	v.SetDefault("SYNC_PAIRING_TOKEN", "")
	v.SetDefault("SYNC_SESSION_ID", "")
	v.SetDefault("SYNC_USER_AGENT", "")
	v.SetDefault("SYNC_RECONNECT_BASE_DELAY", "1s")
	v.SetDefault("SYNC_RECONNECT_MAX_ATTEMPTS", 5)
	v.SetDefault("SYNC_PING_INTERVAL", "30s")
	v.SetDefault("SYNC_HTTP_TIMEOUT", "10s")
	v.SetDefault("SYNC_LOG_LEVEL", "info")

	var cfg AgentConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the role-specific requirements.
func (c *AgentConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("config: SYNC_BASE_URL must be set")
	}
	role := model.Role(c.Role)
	if !role.Valid() {
		return fmt.Errorf("config: SYNC_ROLE must be desktop or mobile, got %q", c.Role)
	}
	if role == model.RoleMobile && c.PairingToken == "" {
		return errors.New("config: SYNC_PAIRING_TOKEN is required for mobile devices")
	}
	if role == model.RoleDesktop && c.UserID == "" && c.GuestToken == "" {
		return errors.New("config: SYNC_USER_ID or SYNC_GUEST_TOKEN is required for desktop devices")
	}
	if c.ReconnectMaxAttempts < 1 {
		return errors.New("config: SYNC_RECONNECT_MAX_ATTEMPTS must be >= 1")
	}
	return nil
}

// DeviceRole returns the configured role.
func (c *AgentConfig) DeviceRole() model.Role {
	return model.Role(c.Role)
}

// BaseDelay parses ReconnectBaseDelay. Returns 1s if unset or invalid.
func (c *AgentConfig) BaseDelay() time.Duration {
	return parseDuration(c.ReconnectBaseDelay, time.Second)
}

// Heartbeat parses PingInterval. Returns 30s if unset or invalid.
func (c *AgentConfig) Heartbeat() time.Duration {
	return parseDuration(c.PingInterval, DefaultPingInterval)
}

// Timeout parses HTTPTimeout. Returns 10s if unset or invalid.
func (c *AgentConfig) Timeout() time.Duration {
	return parseDuration(c.HTTPTimeout, 10*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envFileMissing(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}
