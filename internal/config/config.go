// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/JakeFAU/onboard-forms/internal/guard"
	"github.com/JakeFAU/onboard-forms/internal/identity"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Progress    ProgressConfig    `mapstructure:"progress"`
	Restore     RestoreConfig     `mapstructure:"restore"`
	Enhance     EnhanceConfig     `mapstructure:"enhance"`
	Guard       guard.Config      `mapstructure:"guard"`
	Identity    IdentityConfig    `mapstructure:"identity"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Sessions    SessionsConfig    `mapstructure:"sessions"`
	Events      EventsConfig      `mapstructure:"events"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines bearer token verification. When disabled the caller's
// user id is taken from the X-User-ID header.
type AuthConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	Audience  string        `mapstructure:"audience"`
	Leeway    time.Duration `mapstructure:"leeway"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// IdentityConfig seeds the in-process profile directory the guard reads.
type IdentityConfig struct {
	Profiles []identity.Profile `mapstructure:"profiles"`
}

// CoordinatorConfig sets the event coordinator intervals.
type CoordinatorConfig struct {
	ProgressDelay time.Duration `mapstructure:"progress_delay"`
	SaveDelay     time.Duration `mapstructure:"save_delay"`
	ClickSettle   time.Duration `mapstructure:"click_settle"`
	FollowUp      time.Duration `mapstructure:"follow_up"`
	FrameInterval time.Duration `mapstructure:"frame_interval"`
	SaveTimeout   time.Duration `mapstructure:"save_timeout"`
}

// ProgressConfig tunes the completion calculation.
type ProgressConfig struct {
	Exclusions []string `mapstructure:"exclusions"`
}

// RestoreConfig tunes saved-progress loading.
type RestoreConfig struct {
	ResumeDelay time.Duration `mapstructure:"resume_delay"`
}

// EnhanceConfig tunes the saving indicator.
type EnhanceConfig struct {
	HideAfter time.Duration `mapstructure:"hide_after"`
}

// StorageConfig selects the saved-progress backend.
type StorageConfig struct {
	Driver   string         `mapstructure:"driver"`
	Local    LocalConfig    `mapstructure:"local"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	GCS      GCSConfig      `mapstructure:"gcs"`
}

// LocalConfig configures the filesystem backend.
type LocalConfig struct {
	Dir string `mapstructure:"dir"`
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// GCSConfig configures the Cloud Storage backend.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// SessionsConfig controls live session lifetime.
type SessionsConfig struct {
	IdleTTL      time.Duration `mapstructure:"idle_ttl"`
	ReapSchedule string        `mapstructure:"reap_schedule"`
	MaxFields    int           `mapstructure:"max_fields"`
}

// EventsConfig tunes the progress event hub.
type EventsConfig struct {
	BufferSize      int           `mapstructure:"buffer_size"`
	MaxBatchEvents  int           `mapstructure:"max_batch_events"`
	MaxBatchWait    time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout     time.Duration `mapstructure:"sink_timeout"`
	PersistSessions bool          `mapstructure:"persist_sessions"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TracingConfig toggles OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Version     string  `mapstructure:"version"`
	Exporter    string  `mapstructure:"exporter"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// RateLimitConfig caps form input per user. A non-positive rate disables
// limiting.
type RateLimitConfig struct {
	EventsPerSecond float64 `mapstructure:"events_per_second"`
	Burst           int     `mapstructure:"burst"`
}

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverLocal    = "local"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverGCS      = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ONBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Guard = withGuardDefaults(cfg.Guard)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.leeway", 30*time.Second)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("coordinator.progress_delay", 150*time.Millisecond)
	v.SetDefault("coordinator.save_delay", 800*time.Millisecond)
	v.SetDefault("coordinator.click_settle", 10*time.Millisecond)
	v.SetDefault("coordinator.follow_up", 50*time.Millisecond)
	v.SetDefault("coordinator.frame_interval", 16*time.Millisecond)
	v.SetDefault("coordinator.save_timeout", 5*time.Second)
	v.SetDefault("progress.exclusions", []string{"bearer", "docCheck", "onboardingDate", "staffResponsible"})
	v.SetDefault("restore.resume_delay", 100*time.Millisecond)
	v.SetDefault("enhance.hide_after", 1500*time.Millisecond)
	v.SetDefault("guard.cooldown", guard.DefaultCooldown)
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.local.dir", "./data/progress")
	v.SetDefault("storage.sqlite.path", "./data/progress.db")
	v.SetDefault("storage.postgres.table", "form_progress")
	v.SetDefault("storage.postgres.ensure_schema", true)
	v.SetDefault("storage.gcs.prefix", "progress")
	v.SetDefault("sessions.idle_ttl", 30*time.Minute)
	v.SetDefault("sessions.reap_schedule", "@every 1m")
	v.SetDefault("sessions.max_fields", 500)
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.max_batch_events", 256)
	v.SetDefault("events.max_batch_wait", 250*time.Millisecond)
	v.SetDefault("events.sink_timeout", 5*time.Second)
	v.SetDefault("tracing.service_name", "onboardd")
	v.SetDefault("tracing.version", "dev")
	v.SetDefault("tracing.exporter", "otlp")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("ratelimit.events_per_second", 50.0)
	v.SetDefault("ratelimit.burst", 100)
}

// withGuardDefaults fills page paths the config file left out.
func withGuardDefaults(g guard.Config) guard.Config {
	def := guard.DefaultConfig()
	if g.LoginPath == "" {
		g.LoginPath = def.LoginPath
	}
	if g.PendingPath == "" {
		g.PendingPath = def.PendingPath
	}
	if g.HomePath == "" {
		g.HomePath = def.HomePath
	}
	if len(g.PendingNames) == 0 {
		g.PendingNames = def.PendingNames
	}
	if len(g.ExcludedPaths) == 0 {
		g.ExcludedPaths = def.ExcludedPaths
	}
	if g.OnboardingTag == "" {
		g.OnboardingTag = def.OnboardingTag
	}
	if len(g.Forms) == 0 {
		g.Forms = def.Forms
	}
	if len(g.Dashboards) == 0 {
		g.Dashboards = def.Dashboards
	}
	return g
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must be set when auth is enabled")
	}
	for name, d := range map[string]time.Duration{
		"coordinator.progress_delay": c.Coordinator.ProgressDelay,
		"coordinator.save_delay":     c.Coordinator.SaveDelay,
		"coordinator.click_settle":   c.Coordinator.ClickSettle,
		"coordinator.follow_up":      c.Coordinator.FollowUp,
		"coordinator.frame_interval": c.Coordinator.FrameInterval,
		"coordinator.save_timeout":   c.Coordinator.SaveTimeout,
		"restore.resume_delay":       c.Restore.ResumeDelay,
		"enhance.hide_after":         c.Enhance.HideAfter,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if c.Guard.Cooldown < 0 {
		return fmt.Errorf("guard.cooldown must be >= 0")
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverLocal:
		if c.Storage.Local.Dir == "" {
			return fmt.Errorf("storage.local.dir is required for the local driver")
		}
	case DriverSQLite:
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver")
		}
	case DriverGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required for the gcs driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Events.PersistSessions && c.Storage.Postgres.DSN == "" {
		return fmt.Errorf("events.persist_sessions requires storage.postgres.dsn")
	}
	if c.Sessions.IdleTTL <= 0 {
		return fmt.Errorf("sessions.idle_ttl must be > 0")
	}
	if _, err := cron.ParseStandard(c.Sessions.ReapSchedule); err != nil {
		return fmt.Errorf("sessions.reap_schedule: %w", err)
	}
	if c.RateLimit.EventsPerSecond > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("ratelimit.burst must be > 0 when a rate is set")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required when pubsub is enabled")
	}
	return nil
}
