// Package bootstrap brings up the shared infrastructure in order: logging,
// the database pool, then schema migrations.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/seerrbot/core/config"
	coredatabase "github.com/m3rciful/seerrbot/core/database"
	"github.com/m3rciful/seerrbot/core/logger"
)

// Options select the config and, for tests, replace individual steps.
type Options struct {
	Config   *coreconfig.Config
	Database coredatabase.Config

	LoggerInit func(*coreconfig.Config) error
	Connect    func(coredatabase.Config) (*sqlx.DB, error)
	Migrate    func(coredatabase.Config) error
}

// Result is what the pipeline produced.
type Result struct {
	DB *sqlx.DB
}

var errNilConfig = errors.New("bootstrap: nil config")

// Run executes the pipeline. On a failed migration the pool is closed again.
func Run(opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, errNilConfig
	}
	opts.defaults()

	if err := opts.LoggerInit(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: logger: %w", err)
	}

	var db *sqlx.DB
	err := step("connect", func() (err error) {
		db, err = opts.Connect(opts.Database)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := step("migrate", func() error { return opts.Migrate(opts.Database) }); err != nil {
		_ = db.Close()
		return nil, err
	}
	coredatabase.LogPoolStats(context.Background(), db)
	return &Result{DB: db}, nil
}

func (o *Options) defaults() {
	if o.LoggerInit == nil {
		o.LoggerInit = logger.InitLogger
	}
	if o.Connect == nil {
		o.Connect = coredatabase.Connect
	}
	if o.Migrate == nil {
		o.Migrate = coredatabase.RunMigrations
	}
}

func step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	attrs := []slog.Attr{
		slog.String("step", name),
		slog.String("status", logger.Status(err)),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		logger.Error(context.Background(), "bootstrap", "bootstrap.step", append(attrs, slog.String("err", err.Error()))...)
		return fmt.Errorf("bootstrap: %s: %w", name, err)
	}
	logger.Debug(context.Background(), "bootstrap", "bootstrap.step", attrs...)
	return nil
}
