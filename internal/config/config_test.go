package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/onboard-forms/internal/identity"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Coordinator.ProgressDelay != 150*time.Millisecond || cfg.Coordinator.SaveDelay != 800*time.Millisecond {
		t.Fatalf("unexpected coordinator delays: %+v", cfg.Coordinator)
	}
	if cfg.Coordinator.SaveTimeout != 5*time.Second {
		t.Fatalf("unexpected save timeout %s", cfg.Coordinator.SaveTimeout)
	}
	if cfg.Restore.ResumeDelay != 100*time.Millisecond {
		t.Fatalf("unexpected resume delay %s", cfg.Restore.ResumeDelay)
	}
	if cfg.Enhance.HideAfter != 1500*time.Millisecond {
		t.Fatalf("unexpected hide delay %s", cfg.Enhance.HideAfter)
	}
	if cfg.Guard.Cooldown != time.Second {
		t.Fatalf("unexpected guard cooldown %s", cfg.Guard.Cooldown)
	}
	if cfg.Guard.Forms[identity.RolePatient] == "" {
		t.Fatalf("expected guard form defaults")
	}
	if strings.Join(cfg.Progress.Exclusions, ",") != "bearer,docCheck,onboardingDate,staffResponsible" {
		t.Fatalf("unexpected exclusions %v", cfg.Progress.Exclusions)
	}
	if cfg.Storage.Driver != DriverMemory {
		t.Fatalf("expected memory driver, got %q", cfg.Storage.Driver)
	}
	if cfg.Logging.Level != "info" || cfg.RateLimit.Burst != 100 {
		t.Fatalf("unexpected logging/ratelimit defaults: %+v %+v", cfg.Logging, cfg.RateLimit)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  jwt_secret: secret
  issuer: onboard
coordinator:
  progress_delay: 200ms
  save_delay: 2s
progress:
  exclusions: ["internal"]
guard:
  cooldown: 250ms
  home_path: /home.html
storage:
  driver: sqlite
  sqlite:
    path: /tmp/progress.db
sessions:
  idle_ttl: 5m
  reap_schedule: "*/5 * * * *"
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 || !cfg.Auth.Enabled || cfg.Auth.Issuer != "onboard" {
		t.Fatalf("server/auth overrides not applied: %+v %+v", cfg.Server, cfg.Auth)
	}
	if cfg.Coordinator.ProgressDelay != 200*time.Millisecond || cfg.Coordinator.SaveDelay != 2*time.Second {
		t.Fatalf("coordinator overrides not applied: %+v", cfg.Coordinator)
	}
	if cfg.Coordinator.ClickSettle != 10*time.Millisecond {
		t.Fatalf("expected click settle default, got %s", cfg.Coordinator.ClickSettle)
	}
	if len(cfg.Progress.Exclusions) != 1 || cfg.Progress.Exclusions[0] != "internal" {
		t.Fatalf("unexpected exclusions %v", cfg.Progress.Exclusions)
	}
	if cfg.Guard.Cooldown != 250*time.Millisecond || cfg.Guard.HomePath != "/home.html" {
		t.Fatalf("guard overrides not applied: %+v", cfg.Guard)
	}
	if cfg.Guard.LoginPath == "" {
		t.Fatalf("expected guard login default to be filled")
	}
	if cfg.Storage.Driver != DriverSQLite || cfg.Storage.SQLite.Path != "/tmp/progress.db" {
		t.Fatalf("storage overrides not applied: %+v", cfg.Storage)
	}
	if cfg.Sessions.IdleTTL != 5*time.Minute {
		t.Fatalf("unexpected idle ttl %s", cfg.Sessions.IdleTTL)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected logging.development=false")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "jwt secret", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.jwt_secret"},
		{name: "save delay", mutate: func(c *Config) { c.Coordinator.SaveDelay = 0 }, want: "coordinator.save_delay"},
		{name: "save timeout", mutate: func(c *Config) { c.Coordinator.SaveTimeout = 0 }, want: "coordinator.save_timeout"},
		{name: "driver", mutate: func(c *Config) { c.Storage.Driver = "redis" }, want: "storage.driver"},
		{name: "postgres dsn", mutate: func(c *Config) { c.Storage.Driver = DriverPostgres }, want: "storage.postgres.dsn"},
		{name: "gcs bucket", mutate: func(c *Config) { c.Storage.Driver = DriverGCS }, want: "storage.gcs.bucket"},
		{name: "persist sessions", mutate: func(c *Config) { c.Events.PersistSessions = true }, want: "events.persist_sessions"},
		{name: "reap schedule", mutate: func(c *Config) { c.Sessions.ReapSchedule = "soon" }, want: "sessions.reap_schedule"},
		{name: "pubsub", mutate: func(c *Config) { c.PubSub.Enabled = true }, want: "pubsub.project_id"},
		{name: "ratelimit burst", mutate: func(c *Config) { c.RateLimit.Burst = 0 }, want: "ratelimit.burst"},
		{name: "guard cooldown", mutate: func(c *Config) { c.Guard.Cooldown = -time.Second }, want: "guard.cooldown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
