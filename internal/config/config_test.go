package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	cfg := New()

	if cfg.Port != "8088" {
		t.Errorf("Port = %q, want %q", cfg.Port, "8088")
	}
	if cfg.MaxSessions != 50 {
		t.Errorf("MaxSessions = %d, want 50", cfg.MaxSessions)
	}
	if cfg.IdleTimeout != 300*time.Second {
		t.Errorf("IdleTimeout = %s, want 5m0s", cfg.IdleTimeout)
	}
	if cfg.SweepInterval != time.Minute {
		t.Errorf("SweepInterval = %s, want 1m0s", cfg.SweepInterval)
	}
	if cfg.DefaultEnvironment != "demo" {
		t.Errorf("DefaultEnvironment = %q, want demo", cfg.DefaultEnvironment)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestNew_EnvOverrides(t *testing.T) {
	t.Setenv("CTRADER_POOL_PORT", "9090")
	t.Setenv("POOL_MAX_SESSIONS", "3")
	t.Setenv("POOL_IDLE_TIMEOUT", "120")
	t.Setenv("POOL_SWEEP_INTERVAL", "5s")
	t.Setenv("SYMBOLS_STRICT", "true")

	cfg := New()

	if cfg.Address() != "0.0.0.0:9090" {
		t.Errorf("Address() = %q, want %q", cfg.Address(), "0.0.0.0:9090")
	}
	if cfg.MaxSessions != 3 {
		t.Errorf("MaxSessions = %d, want 3", cfg.MaxSessions)
	}
	if cfg.IdleTimeout != 2*time.Minute {
		t.Errorf("IdleTimeout = %s, want 2m0s", cfg.IdleTimeout)
	}
	if cfg.SweepInterval != 5*time.Second {
		t.Errorf("SweepInterval = %s, want 5s", cfg.SweepInterval)
	}
	if !cfg.SymbolsStrict {
		t.Error("SymbolsStrict = false, want true")
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	content := "port: \"7000\"\nmax_sessions: 7\nidle_timeout: 90s\nbroker: simulator\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("POOL_MAX_SESSIONS", "9")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "7000" {
		t.Errorf("Port = %q, want 7000", cfg.Port)
	}
	if cfg.MaxSessions != 9 {
		t.Errorf("MaxSessions = %d, want 9 (env wins)", cfg.MaxSessions)
	}
	if cfg.IdleTimeout != 90*time.Second {
		t.Errorf("IdleTimeout = %s, want 1m30s", cfg.IdleTimeout)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sessions", func(c *Config) { c.MaxSessions = 0 }},
		{"unknown broker", func(c *Config) { c.Broker = "metaapi" }},
		{"bad environment", func(c *Config) { c.DefaultEnvironment = "paper" }},
		{"short secret", func(c *Config) { c.EncryptionSecret = "short" }},
		{"negative idle", func(c *Config) { c.IdleTimeout = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() error = nil, want error")
			}
		})
	}
}
