// Package link issues and redeems the one-time codes that bind a Telegram chat
// to an application account.
package link

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/m3rciful/seerrbot/core/logger"
	"github.com/m3rciful/seerrbot/internal/models"
)

const (
	// CodeTTL is how long an issued code stays redeemable.
	CodeTTL = 10 * time.Minute

	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeGroups   = 2
	codeGroupLen = 4
	maxAttempts  = 5
)

var (
	// ErrNotLinked means the chat has no linked account.
	ErrNotLinked = errors.New("link: chat is not linked")
	// ErrCodeNotFound means the code was never issued or was already redeemed.
	ErrCodeNotFound = errors.New("link: code not found")
	// ErrCodeExpired means the code outlived CodeTTL.
	ErrCodeExpired = errors.New("link: code expired")
	// ErrCodeCollision is returned by stores when a generated code already exists.
	ErrCodeCollision = errors.New("link: code collision")
)

// Store persists tokens and linked accounts.
type Store interface {
	DeleteTokensForChat(ctx context.Context, chatID int64) error
	InsertToken(ctx context.Context, t models.LinkToken) error
	// TakeToken atomically removes and returns the token for code.
	TakeToken(ctx context.Context, code string) (models.LinkToken, error)
	UpsertAccount(ctx context.Context, a models.LinkedAccount) error
	GetAccount(ctx context.Context, chatID int64) (models.LinkedAccount, error)
	DeleteAccount(ctx context.Context, chatID int64) error
	UserRole(ctx context.Context, userID int64) (string, error)
}

// Service implements the account link flow.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService returns a Service; a nil clock defaults to time.Now.
func NewService(store Store, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, now: now}
}

// IssueCode replaces any previous code for chatID and returns a fresh one.
func (s *Service) IssueCode(ctx context.Context, chatID int64, username string) (string, error) {
	if err := s.store.DeleteTokensForChat(ctx, chatID); err != nil {
		return "", fmt.Errorf("link: drop previous code: %w", err)
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		code, err := GenerateCode()
		if err != nil {
			return "", err
		}
		tok := models.LinkToken{
			Code:         code,
			ChatID:       chatID,
			ChatUsername: models.StringPtr(strings.TrimPrefix(username, "@")),
			ExpiresAt:    s.now().Add(CodeTTL),
		}
		err = s.store.InsertToken(ctx, tok)
		if errors.Is(err, ErrCodeCollision) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("link: save code: %w", err)
		}
		logger.Info(ctx, "link", "code.issued",
			slog.String("status", "ok"),
			slog.Int64("chat_id", chatID),
			slog.Int("attempt", attempt),
		)
		return code, nil
	}
	return "", fmt.Errorf("link: %w after %d attempts", ErrCodeCollision, maxAttempts)
}

// Redeem binds the chat that requested code to userID. The web application
// calls this once the user enters the code; a code works at most once.
func (s *Service) Redeem(ctx context.Context, code string, userID int64, encryptedAPIKey string) (models.LinkedAccount, error) {
	tok, err := s.store.TakeToken(ctx, NormalizeCode(code))
	if errors.Is(err, models.ErrNotFound) {
		return models.LinkedAccount{}, ErrCodeNotFound
	}
	if err != nil {
		return models.LinkedAccount{}, fmt.Errorf("link: take code: %w", err)
	}
	if tok.Expired(s.now()) {
		return models.LinkedAccount{}, ErrCodeExpired
	}

	acct := models.LinkedAccount{
		ChatID:          tok.ChatID,
		UserID:          userID,
		EncryptedAPIKey: encryptedAPIKey,
		CreatedAt:       s.now(),
	}
	if err := s.store.UpsertAccount(ctx, acct); err != nil {
		return models.LinkedAccount{}, fmt.Errorf("link: save account: %w", err)
	}
	logger.Info(ctx, "link", "code.redeemed",
		slog.String("status", "ok"),
		slog.Int64("chat_id", tok.ChatID),
		slog.Int64("app_user_id", userID),
	)
	return acct, nil
}

// Lookup returns the account linked to chatID or ErrNotLinked.
func (s *Service) Lookup(ctx context.Context, chatID int64) (models.LinkedAccount, error) {
	acct, err := s.store.GetAccount(ctx, chatID)
	if errors.Is(err, models.ErrNotFound) {
		return models.LinkedAccount{}, ErrNotLinked
	}
	if err != nil {
		return models.LinkedAccount{}, fmt.Errorf("link: lookup: %w", err)
	}
	return acct, nil
}

// IsAdmin reports whether chatID is linked to an admin account. It reads the
// role on every call so demotions apply immediately.
func (s *Service) IsAdmin(ctx context.Context, chatID int64) (bool, error) {
	acct, err := s.Lookup(ctx, chatID)
	if err != nil {
		return false, err
	}
	role, err := s.store.UserRole(ctx, acct.UserID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("link: role: %w", err)
	}
	return role == models.RoleAdmin, nil
}

// Unlink removes the chat's linked account. Unlinking an unlinked chat is a no-op.
func (s *Service) Unlink(ctx context.Context, chatID int64) error {
	if err := s.store.DeleteAccount(ctx, chatID); err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("link: unlink: %w", err)
	}
	return nil
}

// GenerateCode returns a code like "K7QM-P2XD" without ambiguous characters.
func GenerateCode() (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(codeAlphabet)))
	for g := 0; g < codeGroups; g++ {
		if g > 0 {
			b.WriteByte('-')
		}
		for i := 0; i < codeGroupLen; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", fmt.Errorf("link: generate code: %w", err)
			}
			b.WriteByte(codeAlphabet[n.Int64()])
		}
	}
	return b.String(), nil
}

// NormalizeCode upper-cases user input and restores the group separator.
func NormalizeCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.NewReplacer("-", "", " ", "").Replace(s)
	if len(s) != codeGroups*codeGroupLen {
		return s
	}
	return s[:codeGroupLen] + "-" + s[codeGroupLen:]
}
