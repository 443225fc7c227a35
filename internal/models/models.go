// Package models holds the rows the bot reads and writes in the shared database.
package models

import (
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when a row does not exist.
var ErrNotFound = errors.New("models: not found")

// Roles stored in users.role.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// LinkedAccount binds a Telegram chat identity to an application user.
type LinkedAccount struct {
	ChatID          int64     `db:"chat_id"`
	UserID          int64     `db:"user_id"`
	EncryptedAPIKey string    `db:"encrypted_api_key"`
	CreatedAt       time.Time `db:"created_at"`
}

// LinkToken is a short-lived one-time code issued by /link.
type LinkToken struct {
	Code         string    `db:"code"`
	ChatID       int64     `db:"chat_id"`
	ChatUsername *string   `db:"chat_username"`
	ExpiresAt    time.Time `db:"expires_at"`
}

// Expired reports whether the token is no longer redeemable at now.
func (t LinkToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// RequestState is the last status the scheduler observed for a chat's request.
type RequestState struct {
	ChatID     int64     `db:"chat_id"`
	RequestID  int64     `db:"request_id"`
	LastStatus string    `db:"last_status"`
	LastReason *string   `db:"last_reason"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// MediaRequest is a row of the application's media_requests table.
type MediaRequest struct {
	ID            int64     `db:"id"`
	UserID        int64     `db:"user_id"`
	MediaType     string    `db:"media_type"`
	TMDBID        int64     `db:"tmdb_id"`
	Title         string    `db:"title"`
	Status        string    `db:"status"`
	FailureReason *string   `db:"failure_reason"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// TrackedRequest is a media request joined with the chat that should hear about it.
type TrackedRequest struct {
	ChatID        int64   `db:"chat_id"`
	UserID        int64   `db:"user_id"`
	RequestID     int64   `db:"request_id"`
	MediaType     string  `db:"media_type"`
	TMDBID        int64   `db:"tmdb_id"`
	Title         string  `db:"title"`
	Status        string  `db:"status"`
	FailureReason *string `db:"failure_reason"`
}

// WatchAlert is a one-shot subscription that fires when a title becomes available.
type WatchAlert struct {
	ID         int64      `db:"id"`
	ChatID     int64      `db:"chat_id"`
	UserID     int64      `db:"user_id"`
	MediaType  string     `db:"media_type"`
	TMDBID     int64      `db:"tmdb_id"`
	Title      string     `db:"title"`
	Active     bool       `db:"active"`
	CreatedAt  time.Time  `db:"created_at"`
	NotifiedAt *time.Time `db:"notified_at"`
}

// JobFailure is one row of the app's append-only job history that ended in failure.
type JobFailure struct {
	JobName   string    `db:"job_name"`
	Error     string    `db:"error"`
	CreatedAt time.Time `db:"created_at"`
}

// FailureGroup counts job failures sharing the same reason.
type FailureGroup struct {
	Reason string `db:"reason"`
	Count  int    `db:"count"`
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
