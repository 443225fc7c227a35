package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/m3rciful/seerrbot/core/logger"
)

const driverName = "postgres"

// Connect opens the pool, applies the pool limits from cfg and pings once.
func Connect(cfg Config) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.connectTimeout())
	defer cancel()

	start := time.Now()
	db, err := sqlx.ConnectContext(ctx, driverName, cfg.URL())
	took := logger.Took(start)
	if err != nil {
		logger.LogEvent(ctx, logger.DB, slog.LevelError, "db.connect",
			append(target(cfg), slog.Duration("duration", took), slog.String("err", err.Error()))...)
		return nil, fmt.Errorf("db connect %s: %w", cfg.Host, err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.idle())
	db.SetConnMaxLifetime(cfg.lifetime())

	logger.LogEvent(ctx, logger.DB, slog.LevelInfo, "db.connect",
		append(target(cfg),
			slog.Int("pool_open", cfg.MaxConnections),
			slog.Int("pool_idle", cfg.idle()),
			slog.Duration("duration", took),
		)...)
	return db, nil
}

// LogPoolStats writes one debug line with the pool counters of db.
func LogPoolStats(ctx context.Context, db *sqlx.DB) {
	if db == nil {
		return
	}
	s := db.Stats()
	logger.LogEvent(ctx, logger.DB, slog.LevelDebug, "db.pool",
		slog.Int("open", s.OpenConnections),
		slog.Int("in_use", s.InUse),
		slog.Int("idle", s.Idle),
		slog.Int64("waits", s.WaitCount),
		slog.Duration("wait", logger.RoundMS(s.WaitDuration)),
	)
}

// WaitReady pings dsn until the server answers, ctx ends or timeout passes.
// The delay between attempts doubles up to two seconds.
func WaitReady(ctx context.Context, dsn string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	delay := 100 * time.Millisecond
	attempts := 0
	for {
		attempts++
		err := pingOnce(ctx, dsn)
		if err == nil {
			if attempts > 1 {
				logger.LogEvent(ctx, logger.DB, slog.LevelInfo, "db.ready", slog.Int("attempts", attempts))
			}
			return nil
		}
		logger.LogEvent(ctx, logger.DB, slog.LevelDebug, "db.wait",
			slog.Int("attempt", attempts), slog.String("err", err.Error()))

		select {
		case <-ctx.Done():
			return fmt.Errorf("database not ready after %d attempts: %w", attempts, err)
		case <-time.After(delay):
		}
		if delay < 2*time.Second {
			delay *= 2
		}
	}
}

func pingOnce(ctx context.Context, dsn string) error {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.PingContext(ctx)
}

func target(cfg Config) []slog.Attr {
	return []slog.Attr{
		slog.String("driver", driverName),
		slog.String("host", cfg.Host),
		slog.String("port", cfg.Port),
		slog.String("db", cfg.Name),
	}
}
