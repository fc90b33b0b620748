package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *ServerConfig) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.MobileAppURL != "" && !strings.HasPrefix(c.Server.MobileAppURL, "http") {
		return fmt.Errorf("server.mobile_app_url must be an http(s) URL, got %q", c.Server.MobileAppURL)
	}

	if c.Database.Enabled() {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	} else if c.Database.Migrate {
		return errors.New("database.migrate requires database.postgres.host")
	}

	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be > 0")
	}

	if !strings.HasPrefix(c.Realtime.Path, "/") {
		return fmt.Errorf("realtime.path must start with /, got %q", c.Realtime.Path)
	}
	if c.Realtime.PingInterval <= 0 {
		return errors.New("realtime.ping_interval must be > 0")
	}
	if c.Realtime.MaxMessageBytes < 1024 {
		return errors.New("realtime.max_message_bytes must be >= 1024")
	}
	if c.Realtime.SendBuffer < 1 {
		return errors.New("realtime.send_buffer must be >= 1")
	}

	if c.Pairing.UserTTL <= 0 || c.Pairing.GuestTTL <= 0 {
		return errors.New("pairing ttls must be > 0")
	}
	if c.Pairing.SweepInterval <= 0 {
		return errors.New("pairing.sweep_interval must be > 0")
	}

	if c.Sessions.TTL <= 0 {
		return errors.New("sessions.ttl must be > 0")
	}
	if c.Sessions.ListLimit < 1 {
		return errors.New("sessions.list_limit must be >= 1")
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
