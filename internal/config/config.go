// Package config loads the bot configuration: the reusable core sections plus
// database, API, vault, scheduler, session and metrics settings.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/seerrbot/core/config"
	coredatabase "github.com/m3rciful/seerrbot/core/database"
)

// Session backends.
const (
	SessionPostgres = "postgres"
	SessionMemory   = "memory"
)

// APIConfig points at the media request application.
type APIConfig struct {
	BaseURL        string `yaml:"base_url" envconfig:"SEERR_API_URL"`
	TimeoutSeconds int    `yaml:"timeout_seconds" envconfig:"SEERR_API_TIMEOUT_SECONDS"`
	Retries        int    `yaml:"retries" envconfig:"SEERR_API_RETRIES"`
}

// Timeout returns the per-call timeout.
func (c APIConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSeconds) * time.Second }

// VaultConfig holds the secret shared with the web application.
type VaultConfig struct {
	Secret string `yaml:"secret" envconfig:"SEERR_ENCRYPTION_SECRET"`
}

// SchedulerConfig tunes the notification jobs.
type SchedulerConfig struct {
	Disabled              bool   `yaml:"disabled" envconfig:"SCHEDULER_DISABLED"`
	StatusIntervalSeconds int    `yaml:"status_interval_seconds" envconfig:"SCHEDULER_STATUS_INTERVAL_SECONDS"`
	DigestIntervalSeconds int    `yaml:"digest_interval_seconds" envconfig:"SCHEDULER_DIGEST_INTERVAL_SECONDS"`
	DigestHour            *int   `yaml:"digest_hour" envconfig:"SCHEDULER_DIGEST_HOUR"`
	Timezone              string `yaml:"timezone" envconfig:"SCHEDULER_TIMEZONE"`
	SendTimeoutSeconds    int    `yaml:"send_timeout_seconds" envconfig:"SCHEDULER_SEND_TIMEOUT_SECONDS"`
	TopFailures           int    `yaml:"top_failures" envconfig:"SCHEDULER_TOP_FAILURES"`
}

// StatusEvery returns the status job interval.
func (c SchedulerConfig) StatusEvery() time.Duration {
	return time.Duration(c.StatusIntervalSeconds) * time.Second
}

// DigestEvery returns the digest job interval.
func (c SchedulerConfig) DigestEvery() time.Duration {
	return time.Duration(c.DigestIntervalSeconds) * time.Second
}

// SendTimeout bounds a single notification send.
func (c SchedulerConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// Location resolves Timezone. Normalize has already validated it.
func (c SchedulerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SessionConfig controls the conversational session store.
type SessionConfig struct {
	Backend    string `yaml:"backend" envconfig:"SESSION_BACKEND"`
	Namespace  string `yaml:"namespace" envconfig:"SESSION_NAMESPACE"`
	TTLMinutes int    `yaml:"ttl_minutes" envconfig:"SESSION_TTL_MINUTES"`
	MaxResults int    `yaml:"max_results" envconfig:"SESSION_MAX_RESULTS"`
}

// TTL returns the session entry lifetime.
func (c SessionConfig) TTL() time.Duration { return time.Duration(c.TTLMinutes) * time.Minute }

// MetricsConfig exposes Prometheus metrics over HTTP when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen" envconfig:"METRICS_LISTEN"`
	Path   string `yaml:"path" envconfig:"METRICS_PATH"`
}

// Config is the full bot configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database  coredatabase.Config `yaml:"database"`
	API       APIConfig           `yaml:"api"`
	Vault     VaultConfig         `yaml:"vault"`
	Scheduler SchedulerConfig     `yaml:"scheduler"`
	Session   SessionConfig       `yaml:"session"`
	Metrics   MetricsConfig       `yaml:"metrics"`
}

// CoreConfig exposes the embedded core section to the shared runner.
func (c *Config) CoreConfig() *coreconfig.Config { return &c.Config }

// Load reads path, overlays the environment and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates required fields and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return err
	}

	if strings.TrimSpace(cfg.Database.Host) == "" {
		return fmt.Errorf("database.host is required")
	}
	if cfg.Database.Port == "" {
		cfg.Database.Port = "5432"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxConnections <= 0 {
		cfg.Database.MaxConnections = 10
	}

	base := strings.TrimSpace(cfg.API.BaseURL)
	u, err := url.Parse(base)
	if base == "" || err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute URL, got %q", cfg.API.BaseURL)
	}
	cfg.API.BaseURL = strings.TrimRight(base, "/")
	if cfg.API.TimeoutSeconds <= 0 {
		cfg.API.TimeoutSeconds = 15
	}
	if cfg.API.Retries < 0 {
		return fmt.Errorf("api.retries must be >= 0")
	}

	if cfg.Vault.Secret == "" {
		return fmt.Errorf("vault.secret is required")
	}

	s := &cfg.Scheduler
	if s.StatusIntervalSeconds <= 0 {
		s.StatusIntervalSeconds = 60
	}
	if s.DigestIntervalSeconds <= 0 {
		s.DigestIntervalSeconds = 300
	}
	if s.DigestHour == nil {
		h := 9
		s.DigestHour = &h
	}
	if *s.DigestHour < 0 || *s.DigestHour > 23 {
		return fmt.Errorf("scheduler.digest_hour must be within 0..23, got %d", *s.DigestHour)
	}
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	if s.SendTimeoutSeconds <= 0 {
		s.SendTimeoutSeconds = 10
	}
	if s.TopFailures <= 0 {
		s.TopFailures = 5
	}

	ss := &cfg.Session
	ss.Backend = strings.ToLower(strings.TrimSpace(ss.Backend))
	switch ss.Backend {
	case "":
		ss.Backend = SessionPostgres
	case SessionPostgres, SessionMemory:
	default:
		return fmt.Errorf("invalid session.backend %q; allowed: postgres, memory", cfg.Session.Backend)
	}
	if ss.Namespace == "" {
		ss.Namespace = "seerrbot"
	}
	if ss.TTLMinutes <= 0 {
		ss.TTLMinutes = 20
	}
	if ss.MaxResults <= 0 {
		ss.MaxResults = 5
	}

	if cfg.Metrics.Listen != "" && cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	return nil
}
