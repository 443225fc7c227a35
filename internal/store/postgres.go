// Package store implements the bot's repositories on PostgreSQL and in memory.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/m3rciful/seerrbot/internal/link"
	"github.com/m3rciful/seerrbot/internal/models"
)

const (
	pqUniqueViolation = "23505"
	tokenPKey         = "telegram_link_tokens_pkey"
)

// Postgres is the sqlx-backed repository set.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres wraps db.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// --- link tokens and accounts

func (p *Postgres) DeleteTokensForChat(ctx context.Context, chatID int64) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM telegram_link_tokens WHERE chat_id = $1`, chatID); err != nil {
		return fmt.Errorf("store: delete tokens: %w", err)
	}
	return nil
}

func (p *Postgres) InsertToken(ctx context.Context, t models.LinkToken) error {
	_, err := p.db.NamedExecContext(ctx, `
INSERT INTO telegram_link_tokens (code, chat_id, chat_username, expires_at)
VALUES (:code, :chat_id, :chat_username, :expires_at)`, t)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation && pqErr.Constraint == tokenPKey {
		return link.ErrCodeCollision
	}
	if err != nil {
		return fmt.Errorf("store: insert token: %w", err)
	}
	return nil
}

func (p *Postgres) TakeToken(ctx context.Context, code string) (models.LinkToken, error) {
	var t models.LinkToken
	err := p.db.GetContext(ctx, &t, `
DELETE FROM telegram_link_tokens WHERE code = $1
RETURNING code, chat_id, chat_username, expires_at`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return models.LinkToken{}, models.ErrNotFound
	}
	if err != nil {
		return models.LinkToken{}, fmt.Errorf("store: take token: %w", err)
	}
	return t, nil
}

func (p *Postgres) UpsertAccount(ctx context.Context, a models.LinkedAccount) error {
	_, err := p.db.NamedExecContext(ctx, `
INSERT INTO telegram_links (chat_id, user_id, encrypted_api_key, created_at)
VALUES (:chat_id, :user_id, :encrypted_api_key, :created_at)
ON CONFLICT (chat_id) DO UPDATE
SET user_id = EXCLUDED.user_id,
    encrypted_api_key = EXCLUDED.encrypted_api_key,
    created_at = EXCLUDED.created_at`, a)
	if err != nil {
		return fmt.Errorf("store: upsert account: %w", err)
	}
	return nil
}

func (p *Postgres) GetAccount(ctx context.Context, chatID int64) (models.LinkedAccount, error) {
	var a models.LinkedAccount
	err := p.db.GetContext(ctx, &a, `
SELECT chat_id, user_id, encrypted_api_key, created_at
FROM telegram_links WHERE chat_id = $1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.LinkedAccount{}, models.ErrNotFound
	}
	if err != nil {
		return models.LinkedAccount{}, fmt.Errorf("store: get account: %w", err)
	}
	return a, nil
}

func (p *Postgres) DeleteAccount(ctx context.Context, chatID int64) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM telegram_links WHERE chat_id = $1`, chatID); err != nil {
		return fmt.Errorf("store: delete account: %w", err)
	}
	return nil
}

func (p *Postgres) UserRole(ctx context.Context, userID int64) (string, error) {
	var role string
	err := p.db.GetContext(ctx, &role, `SELECT role FROM users WHERE id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: user role: %w", err)
	}
	return role, nil
}

// --- request status tracking

// ListTracked joins linked chats with their requests whose status is in statuses.
func (p *Postgres) ListTracked(ctx context.Context, statuses []string) ([]models.TrackedRequest, error) {
	var out []models.TrackedRequest
	err := p.db.SelectContext(ctx, &out, `
SELECT l.chat_id, l.user_id, r.id AS request_id, r.media_type, r.tmdb_id, r.title,
       r.status, r.failure_reason
FROM telegram_links l
JOIN media_requests r ON r.user_id = l.user_id
WHERE r.status = ANY($1)
ORDER BY l.chat_id, r.id`, pq.Array(statuses))
	if err != nil {
		return nil, fmt.Errorf("store: list tracked: %w", err)
	}
	return out, nil
}

func (p *Postgres) GetState(ctx context.Context, chatID, requestID int64) (models.RequestState, error) {
	var s models.RequestState
	err := p.db.GetContext(ctx, &s, `
SELECT chat_id, request_id, last_status, last_reason, updated_at
FROM telegram_request_states WHERE chat_id = $1 AND request_id = $2`, chatID, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RequestState{}, models.ErrNotFound
	}
	if err != nil {
		return models.RequestState{}, fmt.Errorf("store: get state: %w", err)
	}
	return s, nil
}

func (p *Postgres) PutState(ctx context.Context, s models.RequestState) error {
	_, err := p.db.NamedExecContext(ctx, `
INSERT INTO telegram_request_states (chat_id, request_id, last_status, last_reason, updated_at)
VALUES (:chat_id, :request_id, :last_status, :last_reason, :updated_at)
ON CONFLICT (chat_id, request_id) DO UPDATE
SET last_status = EXCLUDED.last_status,
    last_reason = EXCLUDED.last_reason,
    updated_at = EXCLUDED.updated_at`, s)
	if err != nil {
		return fmt.Errorf("store: put state: %w", err)
	}
	return nil
}

// --- watch alerts

const alertColumns = `id, chat_id, user_id, media_type, tmdb_id, title, active, created_at, notified_at`

type upsertedAlert struct {
	models.WatchAlert
	Created bool `db:"created"`
}

// CreateAlert arms an alert. An existing row for the same chat and title is
// reactivated and reported with created=false.
func (p *Postgres) CreateAlert(ctx context.Context, a models.WatchAlert) (models.WatchAlert, bool, error) {
	var row upsertedAlert
	err := p.db.GetContext(ctx, &row, `
INSERT INTO telegram_watch_alerts (chat_id, user_id, media_type, tmdb_id, title, active, created_at)
VALUES ($1, $2, $3, $4, $5, true, now())
ON CONFLICT (chat_id, media_type, tmdb_id) DO UPDATE
SET active = true,
    user_id = EXCLUDED.user_id,
    title = EXCLUDED.title,
    notified_at = NULL
RETURNING `+alertColumns+`, (xmax = 0) AS created`,
		a.ChatID, a.UserID, a.MediaType, a.TMDBID, a.Title)
	if err != nil {
		return models.WatchAlert{}, false, fmt.Errorf("store: create alert: %w", err)
	}
	return row.WatchAlert, row.Created, nil
}

func (p *Postgres) ListActiveAlerts(ctx context.Context, chatID int64) ([]models.WatchAlert, error) {
	var out []models.WatchAlert
	err := p.db.SelectContext(ctx, &out, `
SELECT `+alertColumns+` FROM telegram_watch_alerts
WHERE chat_id = $1 AND active
ORDER BY created_at, id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("store: list alerts: %w", err)
	}
	return out, nil
}

// DeactivateAlert disarms an active alert owned by chatID.
func (p *Postgres) DeactivateAlert(ctx context.Context, chatID, alertID int64) error {
	res, err := p.db.ExecContext(ctx, `
UPDATE telegram_watch_alerts SET active = false
WHERE id = $1 AND chat_id = $2 AND active`, alertID, chatID)
	if err != nil {
		return fmt.Errorf("store: deactivate alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListDueAlerts returns active alerts whose owner now has an available request for the title.
func (p *Postgres) ListDueAlerts(ctx context.Context) ([]models.WatchAlert, error) {
	var out []models.WatchAlert
	err := p.db.SelectContext(ctx, &out, `
SELECT `+alertColumns+` FROM telegram_watch_alerts a
WHERE a.active AND EXISTS (
    SELECT 1 FROM media_requests r
    WHERE r.user_id = a.user_id
      AND r.media_type = a.media_type
      AND r.tmdb_id = a.tmdb_id
      AND r.status = 'available'
)
ORDER BY a.id`)
	if err != nil {
		return nil, fmt.Errorf("store: list due alerts: %w", err)
	}
	return out, nil
}

func (p *Postgres) MarkAlertFired(ctx context.Context, alertID int64, at time.Time) error {
	if _, err := p.db.ExecContext(ctx, `
UPDATE telegram_watch_alerts SET active = false, notified_at = $2
WHERE id = $1`, alertID, at); err != nil {
		return fmt.Errorf("store: mark alert fired: %w", err)
	}
	return nil
}

// --- digest

func (p *Postgres) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := p.db.GetContext(ctx, &n, `SELECT count(*) FROM media_requests WHERE status = 'pending'`); err != nil {
		return 0, fmt.Errorf("store: count pending: %w", err)
	}
	return n, nil
}

// TopFailures groups failed jobs since the given time by error text.
func (p *Postgres) TopFailures(ctx context.Context, since time.Time, limit int) ([]models.FailureGroup, error) {
	var out []models.FailureGroup
	err := p.db.SelectContext(ctx, &out, `
SELECT COALESCE(NULLIF(btrim(error), ''), 'unknown') AS reason, count(*) AS count
FROM job_history
WHERE status = 'failed' AND created_at >= $1
GROUP BY 1
ORDER BY count DESC, reason
LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("store: top failures: %w", err)
	}
	return out, nil
}

// ListAdmins returns the linked accounts whose application user is an admin.
func (p *Postgres) ListAdmins(ctx context.Context) ([]models.LinkedAccount, error) {
	var out []models.LinkedAccount
	err := p.db.SelectContext(ctx, &out, `
SELECT l.chat_id, l.user_id, l.encrypted_api_key, l.created_at
FROM telegram_links l
JOIN users u ON u.id = l.user_id
WHERE u.role = 'admin'
ORDER BY l.chat_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list admins: %w", err)
	}
	return out, nil
}
