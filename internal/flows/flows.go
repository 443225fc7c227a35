// Package flows implements the multi-step conversations behind the bot's
// commands and buttons. Each step reads or writes the session store, calls the
// request API with the chat's own credential and returns a Reply for the
// transport to render. Errors never escape a step: they become replies.
package flows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/seerrbot/core/logger"
	"github.com/m3rciful/seerrbot/core/telegram/keyboard"
	"github.com/m3rciful/seerrbot/core/telegram/state"
	"github.com/m3rciful/seerrbot/internal/link"
	"github.com/m3rciful/seerrbot/internal/models"
	"github.com/m3rciful/seerrbot/internal/seerr"
	"github.com/m3rciful/seerrbot/internal/vault"
)

// ErrSessionExpired means the cached step data is gone or the picked index is out of range.
var ErrSessionExpired = errors.New("flows: session expired")

// Callback namespaces. Telebot encodes a button as \f<namespace>|<action>.
const (
	CBSearch = "search"
	CBTrend  = "trend"
	CBWatch  = "watch"
	CBAlert  = "alert"
	CBAdmin  = "adm"

	actionCancel = "cancel"
)

// Outcome names the state a step ended in.
type Outcome string

const (
	OutcomeAwaitingTitle    Outcome = "awaiting_title"
	OutcomeResults          Outcome = "results"
	OutcomeNoResults        Outcome = "no_results"
	OutcomeAlreadyAvailable Outcome = "already_available"
	OutcomeAlreadyRequested Outcome = "already_requested"
	OutcomeRequested        Outcome = "request_submitted"
	OutcomeRequestFailed    Outcome = "request_failed"
	OutcomeAlertArmed       Outcome = "alert_armed"
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeExpired          Outcome = "session_expired"
	OutcomeNotLinked        Outcome = "not_linked"
	OutcomeRelink           Outcome = "relink"
	OutcomeUpstream         Outcome = "upstream_error"
	OutcomeDenied           Outcome = "denied"
	OutcomeDecided          Outcome = "decided"
	OutcomeDecideFailed     Outcome = "decide_failed"
	OutcomeInfo             Outcome = "info"
)

// Reply is what a step wants shown. Edit asks the transport to replace the
// message that carried the pressed button instead of sending a new one.
type Reply struct {
	Text    string
	Buttons [][]keyboard.InlineBtn
	Edit    bool
	Outcome Outcome
}

// API is the slice of the request application the flows use.
type API interface {
	Search(ctx context.Context, query string) ([]seerr.MediaItem, error)
	SubmitRequest(ctx context.Context, mediaType seerr.MediaType, mediaID int64) (seerr.Request, error)
	MyRequests(ctx context.Context) ([]seerr.Request, error)
	PendingRequests(ctx context.Context) ([]seerr.Request, error)
	Approve(ctx context.Context, requestID int64) error
	Decline(ctx context.Context, requestID int64) error
	ServiceHealth(ctx context.Context) (seerr.Health, error)
	Trending(ctx context.Context, mediaType seerr.MediaType) ([]seerr.MediaItem, error)
	RecentlyAdded(ctx context.Context) ([]seerr.MediaItem, error)
}

// Caller is a linked chat with an API client bound to its credential.
type Caller struct {
	ChatID int64
	UserID int64
	API    API
}

// Resolver turns a chat identity into an authenticated Caller.
type Resolver interface {
	Resolve(ctx context.Context, chatID int64) (Caller, error)
}

// Links is the account-link surface the flows need.
type Links interface {
	IssueCode(ctx context.Context, chatID int64, username string) (string, error)
	Unlink(ctx context.Context, chatID int64) error
	IsAdmin(ctx context.Context, chatID int64) (bool, error)
}

// Alerts persists watch alerts.
type Alerts interface {
	CreateAlert(ctx context.Context, a models.WatchAlert) (models.WatchAlert, bool, error)
	ListActiveAlerts(ctx context.Context, chatID int64) ([]models.WatchAlert, error)
	DeactivateAlert(ctx context.Context, chatID, alertID int64) error
}

// Options configures New.
type Options struct {
	Sessions   *state.Store
	Callers    Resolver
	Links      Links
	Alerts     Alerts
	MaxResults int
	LinkTTL    time.Duration
}

// Service runs every conversation.
type Service struct {
	sessions   *state.Store
	callers    Resolver
	links      Links
	alerts     Alerts
	maxResults int
	linkTTL    time.Duration
}

// New builds a Service.
func New(opts Options) *Service {
	max := opts.MaxResults
	if max <= 0 {
		max = 5
	}
	ttl := opts.LinkTTL
	if ttl <= 0 {
		ttl = link.CodeTTL
	}
	return &Service{
		sessions:   opts.Sessions,
		callers:    opts.Callers,
		links:      opts.Links,
		alerts:     opts.Alerts,
		maxResults: max,
		linkTTL:    ttl,
	}
}

// Credentials resolves callers from linked accounts and the vault.
type Credentials struct {
	links *link.Service
	vault *vault.Vault
	base  *seerr.Client
}

// NewCredentials builds a Resolver backed by the link service.
func NewCredentials(links *link.Service, v *vault.Vault, base *seerr.Client) *Credentials {
	return &Credentials{links: links, vault: v, base: base}
}

// Resolve looks up the chat's account and reveals its API key.
func (c *Credentials) Resolve(ctx context.Context, chatID int64) (Caller, error) {
	acct, err := c.links.Lookup(ctx, chatID)
	if err != nil {
		return Caller{}, err
	}
	client, err := c.ForAccount(acct)
	if err != nil {
		return Caller{}, err
	}
	return Caller{ChatID: acct.ChatID, UserID: acct.UserID, API: client}, nil
}

// ForAccount returns a client authenticated with acct's credential.
func (c *Credentials) ForAccount(acct models.LinkedAccount) (*seerr.Client, error) {
	key, err := c.vault.Reveal(acct.EncryptedAPIKey)
	if err != nil {
		return nil, fmt.Errorf("flows: reveal credential for chat %d: %w", acct.ChatID, err)
	}
	return c.base.WithToken(key), nil
}

// HealthFor fetches service health with acct's own credential.
func (c *Credentials) HealthFor(ctx context.Context, acct models.LinkedAccount) (seerr.Health, error) {
	client, err := c.ForAccount(acct)
	if err != nil {
		return seerr.Health{}, err
	}
	return client.ServiceHealth(ctx)
}

const (
	msgNotLinked = "Your Telegram account is not linked yet. Send /link to get a code."
	msgRelink    = "Your saved credential could not be read. Please /unlink and /link again."
	msgUpstream  = "The media server is not answering right now. Please try again in a minute."
	msgExpired   = "This list has expired. Start again with /search, /trending or /watch."
	msgInternal  = "Something went wrong on my side. Please try again."
	msgCancelled = "Cancelled."
)

// fail maps err to a user-facing reply and logs it.
func (s *Service) fail(ctx context.Context, op string, err error, edit bool) Reply {
	r := Reply{Edit: edit}
	level := slog.LevelWarn
	switch {
	case errors.Is(err, link.ErrNotLinked):
		r.Text, r.Outcome, level = msgNotLinked, OutcomeNotLinked, slog.LevelInfo
	case errors.Is(err, vault.ErrIntegrity):
		r.Text, r.Outcome = msgRelink, OutcomeRelink
	case errors.Is(err, ErrSessionExpired):
		r.Text, r.Outcome, level = msgExpired, OutcomeExpired, slog.LevelInfo
	case errors.Is(err, seerr.ErrUpstream):
		r.Text, r.Outcome = msgUpstream, OutcomeUpstream
	default:
		r.Text, r.Outcome, level = msgInternal, OutcomeUpstream, slog.LevelError
	}
	logger.Event(ctx, "flows", level, op+".fail",
		slog.String("status", "fail"),
		slog.String("outcome", string(r.Outcome)),
		slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
	)
	return r
}

func chatKey(chatID int64) string { return state.IDKey(chatID) }

func cancelRow(namespace string) []keyboard.InlineBtn {
	return []keyboard.InlineBtn{{Text: "❌ Cancel", Unique: namespace, Data: actionCancel}}
}

// cancel clears the cached list for kind and confirms.
func (s *Service) cancel(ctx context.Context, chatID int64, kind state.Kind) Reply {
	if err := s.sessions.ClearPending(ctx, kind, chatKey(chatID)); err != nil {
		logger.Warn(ctx, "flows", "cancel.clear",
			slog.String("kind", string(kind)),
			slog.String("err", err.Error()),
		)
	}
	return Reply{Text: msgCancelled, Edit: true, Outcome: OutcomeCancelled}
}

// pick returns the cached item at idx or ErrSessionExpired.
func (s *Service) pick(ctx context.Context, chatID int64, kind state.Kind, idx int) (seerr.MediaItem, error) {
	var items []seerr.MediaItem
	ok, err := s.sessions.GetPending(ctx, kind, chatKey(chatID), &items)
	if err != nil {
		return seerr.MediaItem{}, err
	}
	if !ok || idx < 0 || idx >= len(items) {
		return seerr.MediaItem{}, ErrSessionExpired
	}
	return items[idx], nil
}

func (s *Service) rememberMedia(ctx context.Context, chatID int64, item seerr.MediaItem) {
	if err := s.sessions.SetPending(ctx, state.KindLastMedia, chatKey(chatID), item); err != nil {
		logger.Warn(ctx, "flows", "last_media.save", slog.String("err", err.Error()))
	}
}
