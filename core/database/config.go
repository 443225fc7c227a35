package database

import (
	"net"
	"net/url"
	"time"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultReadyTimeout   = 30 * time.Second
)

// Config describes the PostgreSQL instance holding links, alerts and sessions.
type Config struct {
	Host     string `yaml:"host" envconfig:"DB_HOST"`
	Port     string `yaml:"port" envconfig:"DB_PORT"`
	User     string `yaml:"user" envconfig:"DB_USER"`
	Password string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name     string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode  string `yaml:"sslmode" envconfig:"DB_SSLMODE"`

	MaxConnections int `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	// MaxIdle defaults to MaxConnections when zero.
	MaxIdle         int `yaml:"max_idle" envconfig:"DB_MAX_IDLE"`
	ConnLifetimeMin int `yaml:"conn_lifetime_minutes" envconfig:"DB_CONN_LIFETIME_MINUTES"`

	ConnectTimeoutSec int `yaml:"connect_timeout_seconds" envconfig:"DB_CONNECT_TIMEOUT_SECONDS"`
	// ReadyTimeoutSec bounds how long migrations wait for the server to accept connections.
	ReadyTimeoutSec int `yaml:"ready_timeout_seconds" envconfig:"DB_READY_TIMEOUT_SECONDS"`

	// MigrationsPath is the directory with *.up.sql files. Relative paths
	// resolve against the working directory; empty means "migrations".
	MigrationsPath string `yaml:"migrations_path" envconfig:"DB_MIGRATIONS_PATH"`
}

// URL returns the postgres:// form used by both lib/pq and golang-migrate.
func (c Config) URL() string {
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeoutSec <= 0 {
		return defaultConnectTimeout
	}
	return time.Duration(c.ConnectTimeoutSec) * time.Second
}

func (c Config) readyTimeout() time.Duration {
	if c.ReadyTimeoutSec <= 0 {
		return defaultReadyTimeout
	}
	return time.Duration(c.ReadyTimeoutSec) * time.Second
}

func (c Config) idle() int {
	if c.MaxIdle <= 0 || c.MaxIdle > c.MaxConnections {
		return c.MaxConnections
	}
	return c.MaxIdle
}

func (c Config) lifetime() time.Duration {
	if c.ConnLifetimeMin <= 0 {
		return 0
	}
	return time.Duration(c.ConnLifetimeMin) * time.Minute
}
