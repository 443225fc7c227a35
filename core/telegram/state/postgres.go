package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// postgresKV stores entries in the telegram_sessions table so every replica
// shares the same conversational state. Expiry is evaluated by the database clock.
type postgresKV struct {
	db *sqlx.DB
}

// NewPostgresKV returns a KV backed by the telegram_sessions table.
func NewPostgresKV(db *sqlx.DB) KV {
	return &postgresKV{db: db}
}

const (
	sqlSessionSet = `
INSERT INTO telegram_sessions (key, value, expires_at)
VALUES ($1, $2, now() + ($3 * interval '1 millisecond'))
ON CONFLICT (key) DO UPDATE
SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`

	sqlSessionGet = `
SELECT value FROM telegram_sessions
WHERE key = $1 AND expires_at > now()`

	sqlSessionTake = `
DELETE FROM telegram_sessions
WHERE key = $1
RETURNING value, expires_at > now() AS live`

	sqlSessionDelete = `DELETE FROM telegram_sessions WHERE key = $1`

	sqlSessionSetNX = `
INSERT INTO telegram_sessions (key, value, expires_at)
VALUES ($1, $2, now() + ($3 * interval '1 millisecond'))
ON CONFLICT (key) DO UPDATE
SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
WHERE telegram_sessions.expires_at <= now()`

	sqlSessionPurge = `DELETE FROM telegram_sessions WHERE expires_at <= now()`
)

func (p *postgresKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if _, err := p.db.ExecContext(ctx, sqlSessionSet, key, value, ttl.Milliseconds()); err != nil {
		return fmt.Errorf("state: set %s: %w", key, err)
	}
	return nil
}

func (p *postgresKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.db.GetContext(ctx, &value, sqlSessionGet, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("state: get %s: %w", key, err)
	}
	return value, nil
}

// Take deletes the row unconditionally; an expired row is reported as absent.
func (p *postgresKV) Take(ctx context.Context, key string) ([]byte, error) {
	var row struct {
		Value []byte `db:"value"`
		Live  bool   `db:"live"`
	}
	err := p.db.GetContext(ctx, &row, sqlSessionTake, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("state: take %s: %w", key, err)
	}
	if !row.Live {
		return nil, ErrNotFound
	}
	return row.Value, nil
}

func (p *postgresKV) Delete(ctx context.Context, key string) error {
	if _, err := p.db.ExecContext(ctx, sqlSessionDelete, key); err != nil {
		return fmt.Errorf("state: delete %s: %w", key, err)
	}
	return nil
}

func (p *postgresKV) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	res, err := p.db.ExecContext(ctx, sqlSessionSetNX, key, value, ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("state: setnx %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("state: setnx %s: %w", key, err)
	}
	return n == 1, nil
}

// PurgeExpired removes expired rows. Reads already ignore them; this only reclaims space.
func PurgeExpired(ctx context.Context, db *sqlx.DB) (int64, error) {
	res, err := db.ExecContext(ctx, sqlSessionPurge)
	if err != nil {
		return 0, fmt.Errorf("state: purge: %w", err)
	}
	return res.RowsAffected()
}
