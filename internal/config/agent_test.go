package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clinicpro/dictation-sync/internal/model"
)

func TestLoadAgent_Defaults(t *testing.T) {
	t.Setenv("SYNC_USER_ID", "user_1")

	cfg, err := LoadAgent()
	if err != nil {
		t.Fatalf("LoadAgent: %v", err)
	}
	if cfg.DeviceRole() != model.RoleDesktop {
		t.Errorf("Role = %q, want desktop", cfg.Role)
	}
	if cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q, want default", cfg.BaseURL)
	}
	if cfg.ReconnectMaxAttempts != 5 {
		t.Errorf("ReconnectMaxAttempts = %d, want 5", cfg.ReconnectMaxAttempts)
	}
	if cfg.BaseDelay() != time.Second {
		t.Errorf("BaseDelay() = %v, want 1s", cfg.BaseDelay())
	}
	if cfg.Heartbeat() != 30*time.Second {
		t.Errorf("Heartbeat() = %v, want 30s", cfg.Heartbeat())
	}
}

func TestLoadAgent_EnvOverride(t *testing.T) {
	t.Setenv("SYNC_ROLE", "mobile")
	t.Setenv("SYNC_PAIRING_TOKEN", "tok-123")
	t.Setenv("SYNC_RECONNECT_BASE_DELAY", "250ms")
	t.Setenv("SYNC_RECONNECT_MAX_ATTEMPTS", "3")

	cfg, err := LoadAgent()
	if err != nil {
		t.Fatalf("LoadAgent: %v", err)
	}
	if cfg.DeviceRole() != model.RoleMobile {
		t.Errorf("Role = %q, want mobile", cfg.Role)
	}
	if cfg.PairingToken != "tok-123" {
		t.Errorf("PairingToken = %q", cfg.PairingToken)
	}
	if cfg.BaseDelay() != 250*time.Millisecond {
		t.Errorf("BaseDelay() = %v, want 250ms", cfg.BaseDelay())
	}
	if cfg.ReconnectMaxAttempts != 3 {
		t.Errorf("ReconnectMaxAttempts = %d, want 3", cfg.ReconnectMaxAttempts)
	}
}

func TestLoadAgent_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("SYNC_USER_ID", "user_1")

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SYNC_BASE_URL=http://sync.internal:9000\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadAgent()
	if err != nil {
		t.Fatalf("LoadAgent: %v", err)
	}
	if cfg.BaseURL != "http://sync.internal:9000" {
		t.Errorf("BaseURL = %q, want value from .env", cfg.BaseURL)
	}

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SYNC_ROLE mobile\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAgent(); err == nil {
		t.Error("expected error for malformed .env, got nil")
	}
}

func TestAgentConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     AgentConfig
		wantErr string
	}{
		{
			name:    "mobile without pairing token",
			cfg:     AgentConfig{BaseURL: "http://x", Role: "mobile", ReconnectMaxAttempts: 5},
			wantErr: "config: SYNC_PAIRING_TOKEN is required for mobile devices",
		},
		{
			name:    "desktop without identity",
			cfg:     AgentConfig{BaseURL: "http://x", Role: "desktop", ReconnectMaxAttempts: 5},
			wantErr: "config: SYNC_USER_ID or SYNC_GUEST_TOKEN is required for desktop devices",
		},
		{
			name:    "unknown role",
			cfg:     AgentConfig{BaseURL: "http://x", Role: "watch", ReconnectMaxAttempts: 5},
			wantErr: `config: SYNC_ROLE must be desktop or mobile, got "watch"`,
		},
		{
			name:    "guest desktop",
			cfg:     AgentConfig{BaseURL: "http://x", Role: "desktop", GuestToken: "g1", ReconnectMaxAttempts: 1},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationFallback(t *testing.T) {
	cfg := AgentConfig{ReconnectBaseDelay: "soon", PingInterval: "-1s"}
	if cfg.BaseDelay() != time.Second {
		t.Errorf("BaseDelay() = %v, want fallback 1s", cfg.BaseDelay())
	}
	if cfg.Heartbeat() != DefaultPingInterval {
		t.Errorf("Heartbeat() = %v, want fallback", cfg.Heartbeat())
	}
}
