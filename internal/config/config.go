// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Tiers     TiersConfig     `mapstructure:"tiers"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// AuditConfig governs the audit pipeline.
type AuditConfig struct {
	Workers            int     `mapstructure:"workers"`
	QueueDepth         int     `mapstructure:"queue_depth"`
	UserAgent          string  `mapstructure:"user_agent"`
	FetchTimeoutSec    int     `mapstructure:"fetch_timeout_seconds"`
	ScoreDropThreshold int     `mapstructure:"score_drop_threshold"`
	PolitenessRPS      float64 `mapstructure:"politeness_rps"`
	PolitenessBurst    int     `mapstructure:"politeness_burst"`
}

// SchedulerConfig tunes the scheduling loop.
type SchedulerConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	TickSeconds    int  `mapstructure:"tick_seconds"`
	GraceWindowSec int  `mapstructure:"grace_window_seconds"`
}

// FetchConfig configures the probe HTTP client.
type FetchConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// TiersConfig points at the tier definition directory.
type TiersConfig struct {
	Dir string `mapstructure:"dir"`
}

// StorageConfig selects the snapshot and blob providers.
type StorageConfig struct {
	// Snapshots selects the snapshot store: "memory" or "postgres".
	Snapshots string `mapstructure:"snapshots"`
	// Blobs selects the blob store: "none", "memory", "local" or "gcs".
	Blobs     string `mapstructure:"blobs"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for completion event publishing.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AUDITD")
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("audit.workers", 4)
	v.SetDefault("audit.queue_depth", 256)
	v.SetDefault("audit.user_agent", "aiqso-audit-bot/1.0")
	v.SetDefault("audit.fetch_timeout_seconds", 30)
	v.SetDefault("audit.score_drop_threshold", 10)
	v.SetDefault("audit.politeness_rps", 1)
	v.SetDefault("audit.politeness_burst", 2)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.tick_seconds", 60)
	v.SetDefault("scheduler.grace_window_seconds", 30)
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("tiers.dir", "tiers")
	v.SetDefault("storage.snapshots", "memory")
	v.SetDefault("storage.blobs", "none")
	v.SetDefault("storage.prefix", "audits")
	v.SetDefault("db.table", "audit_snapshots")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Audit.Workers <= 0 {
		return fmt.Errorf("audit.workers must be > 0")
	}
	if c.Scheduler.Enabled && c.Scheduler.TickSeconds <= 0 {
		return fmt.Errorf("scheduler.tick_seconds must be > 0 when the scheduler is enabled")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Tiers.Dir == "" {
		return fmt.Errorf("tiers.dir is required")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Snapshots {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for postgres snapshots")
		}
	default:
		return fmt.Errorf("storage.snapshots must be memory or postgres")
	}
	switch c.Storage.Blobs {
	case "none", "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for local blobs")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for gcs blobs")
		}
	default:
		return fmt.Errorf("storage.blobs must be none, memory, local or gcs")
	}
	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub is enabled")
	}
	return nil
}

// FetchTimeout returns the probe fetch timeout as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// TickInterval returns the scheduler tick interval as a duration.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickSeconds) * time.Second
}

// GraceWindow returns the scheduler grace window as a duration.
func (c Config) GraceWindow() time.Duration {
	return time.Duration(c.Scheduler.GraceWindowSec) * time.Second
}
