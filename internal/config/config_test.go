package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pointgrid/pointsledger/internal/app/domain/ledger"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	// A missing explicit CONFIG_PATH is an error.
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing explicit config path")
	}

	t.Setenv("CONFIG_PATH", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Ledger.MaxSupply != 1_000_000 {
		t.Fatalf("max supply = %d", cfg.Ledger.MaxSupply)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
server:
  port: 9090
  rate_limit_rps: 5
ledger:
  max_supply: 5000
auth:
  jwt_secret: filesecret
  users:
    - username: admin
      password: secret
      role: owner
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.RateLimitRPS != 5 {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Ledger.MaxSupply != 5000 {
		t.Fatalf("max supply = %d", cfg.Ledger.MaxSupply)
	}
	if len(cfg.Auth.Users) != 1 || cfg.Auth.Users[0].Role != "owner" {
		t.Fatalf("unexpected users: %+v", cfg.Auth.Users)
	}
	// File values not overridden keep their defaults.
	if cfg.Server.Host != "0.0.0.0" {
		t.Fatalf("host = %q", cfg.Server.Host)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("MAX_SUPPLY", "42")
	t.Setenv("JWT_SECRET", "envsecret")
	t.Setenv("OWNER_USER", "root:toor")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if cfg.Database.DSN != "postgres://env" {
		t.Fatalf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.Ledger.MaxSupply != 42 {
		t.Fatalf("max supply = %d", cfg.Ledger.MaxSupply)
	}
	if cfg.Auth.JWTSecret != "envsecret" {
		t.Fatalf("jwt secret = %q", cfg.Auth.JWTSecret)
	}
	if len(cfg.Auth.Users) != 1 || cfg.Auth.Users[0].Username != "root" || cfg.Auth.Users[0].Role != ledger.RoleOwner {
		t.Fatalf("unexpected users: %+v", cfg.Auth.Users)
	}
}
