package database

import (
	"context"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/seerrbot/core/logger"
)

const unlockTimeout = 5 * time.Second

// AdvisoryLocker takes PostgreSQL session-level advisory locks. Each lock pins
// one pooled connection until it is released, since the lock belongs to that session.
type AdvisoryLocker struct {
	db *sqlx.DB
}

// NewAdvisoryLocker returns a locker bound to db.
func NewAdvisoryLocker(db *sqlx.DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db}
}

// TryLock attempts pg_try_advisory_lock(key) without blocking. When acquired,
// the returned release func unlocks on the same connection and returns it to the pool.
func (l *AdvisoryLocker) TryLock(ctx context.Context, key int64) (func(), bool, error) {
	conn, err := l.db.Connx(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("advisory lock %d: conn: %w", key, err)
	}

	var acquired bool
	if err := conn.QueryRowxContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("advisory lock %d: %w", key, err)
	}
	if !acquired {
		_ = conn.Close()
		return nil, false, nil
	}

	release := func() {
		// The caller's context may already be cancelled; unlocking must still happen.
		uctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		var ok bool
		if err := conn.QueryRowxContext(uctx, `SELECT pg_advisory_unlock($1)`, key).Scan(&ok); err != nil || !ok {
			attrs := []any{
				slog.String("event", "db.unlock"),
				slog.Int64("lock_key", key),
			}
			if err != nil {
				attrs = append(attrs, slog.String("err", err.Error()))
			}
			logger.DB.Warn("advisory unlock failed", attrs...)
			// Discard the session so the lock dies with it instead of returning to the pool.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		_ = conn.Close()
	}
	return release, true, nil
}
