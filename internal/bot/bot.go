// Package bot binds the conversational flows to Telegram: commands, inline
// button callbacks and free text all end up in a flows call whose Reply is
// rendered back into the chat.
package bot

import (
	"context"
	"log/slog"
	"strings"

	"github.com/m3rciful/seerrbot/core/logger"
	tg "github.com/m3rciful/seerrbot/core/telegram"
	"github.com/m3rciful/seerrbot/core/telegram/callbacks"
	"github.com/m3rciful/seerrbot/core/telegram/router"
	"github.com/m3rciful/seerrbot/core/telegram/ui"
	"github.com/m3rciful/seerrbot/internal/flows"
	"github.com/m3rciful/seerrbot/internal/intent"
	"github.com/m3rciful/seerrbot/internal/models"
	"github.com/m3rciful/seerrbot/internal/seerr"

	tele "gopkg.in/telebot.v4"
)

// Conversations is the flows surface the transport drives.
type Conversations interface {
	Search(ctx context.Context, chatID int64, query string) flows.Reply
	PickSearch(ctx context.Context, chatID int64, idx int) flows.Reply
	CancelSearch(ctx context.Context, chatID int64) flows.Reply
	TrendingCategories() flows.Reply
	ChooseTrending(ctx context.Context, chatID int64, mediaType seerr.MediaType) flows.Reply
	PickTrending(ctx context.Context, chatID int64, idx int) flows.Reply
	CancelTrending(ctx context.Context, chatID int64) flows.Reply
	Resume(ctx context.Context, chatID int64, text string) (flows.Reply, bool)
	Watch(ctx context.Context, chatID int64, text string) flows.Reply
	PickWatch(ctx context.Context, chatID int64, idx int) flows.Reply
	CancelWatch(ctx context.Context, chatID int64) flows.Reply
	Alerts(ctx context.Context, chatID int64) flows.Reply
	Disarm(ctx context.Context, chatID, alertID int64) flows.Reply
	Pending(ctx context.Context, chatID int64) flows.Reply
	Decide(ctx context.Context, chatID, requestID int64, approve bool) flows.Reply
	ApproveAll(ctx context.Context, chatID int64) flows.Reply
	Health(ctx context.Context, chatID int64) flows.Reply
	MyRequests(ctx context.Context, chatID int64) flows.Reply
	Recent(ctx context.Context, chatID int64) flows.Reply
	Link(ctx context.Context, chatID int64, username string) flows.Reply
	Unlink(ctx context.Context, chatID int64) flows.Reply
	Reset(ctx context.Context, chatID int64)
}

// Accounts answers who a chat is linked to.
type Accounts interface {
	Lookup(ctx context.Context, chatID int64) (models.LinkedAccount, error)
	IsAdmin(ctx context.Context, chatID int64) (bool, error)
}

var (
	_ router.Resumer      = (*Bot)(nil)
	_ ui.FallbackProvider = (*Bot)(nil)
)

// Bot owns the Telegram-facing handlers.
type Bot struct {
	flows    Conversations
	accounts Accounts
	intents  *intent.Router
}

// New returns a Bot. A nil router uses intent.Default.
func New(conv Conversations, accounts Accounts, intents *intent.Router) *Bot {
	if intents == nil {
		intents = intent.Default()
	}
	return &Bot{flows: conv, accounts: accounts, intents: intents}
}

const (
	msgAdminOnly    = "This is only available to admins."
	msgStaleButton  = "This button is no longer valid."
	msgDocument     = "I can only read text messages."
	msgUnrecognized = "I didn't catch that. Try /search <title>, /trending or /help."
)

// Callback decodes a pressed button into a flows call. It reports false when
// the payload does not belong to namespace.
func (b *Bot) Callback(ctx context.Context, chatID int64, namespace, payload string) (flows.Reply, bool) {
	const cancel = "cancel"
	switch namespace {
	case flows.CBSearch:
		if payload == cancel {
			return b.flows.CancelSearch(ctx, chatID), true
		}
		if idx, err := callbacks.Index(payload); err == nil {
			return b.flows.PickSearch(ctx, chatID, idx), true
		}
	case flows.CBTrend:
		switch payload {
		case cancel:
			return b.flows.CancelTrending(ctx, chatID), true
		case string(seerr.Movie), string(seerr.TV):
			return b.flows.ChooseTrending(ctx, chatID, seerr.MediaType(payload)), true
		}
		if verb, arg := callbacks.SplitAction(payload); verb == "idx" {
			if idx, err := callbacks.Index(arg); err == nil {
				return b.flows.PickTrending(ctx, chatID, idx), true
			}
		}
	case flows.CBWatch:
		if payload == cancel {
			return b.flows.CancelWatch(ctx, chatID), true
		}
		if idx, err := callbacks.Index(payload); err == nil {
			return b.flows.PickWatch(ctx, chatID, idx), true
		}
	case flows.CBAlert:
		if verb, id, err := callbacks.ActionInt64(payload); err == nil && verb == "off" {
			return b.flows.Disarm(ctx, chatID, id), true
		}
	case flows.CBAdmin:
		if payload == "all" {
			return b.flows.ApproveAll(ctx, chatID), true
		}
		verb, id, err := callbacks.ActionInt64(payload)
		if err == nil && (verb == "approve" || verb == "deny") {
			return b.flows.Decide(ctx, chatID, id, verb == "approve"), true
		}
	}
	return flows.Reply{}, false
}

// Converse handles text no flow was waiting for: references to the last
// title arm an alert, then the intent router picks health or a title search.
func (b *Bot) Converse(ctx context.Context, chatID int64, text string) flows.Reply {
	text = strings.TrimSpace(text)
	if flows.RefersToLastMedia(text) {
		return b.flows.Watch(ctx, chatID, text)
	}
	res := b.intents.Classify(text)
	logger.Debug(ctx, "flows", "intent.classify",
		slog.String("intent", string(res.Kind)),
		slog.String("rule", res.Rule),
	)
	switch res.Kind {
	case intent.Health:
		return b.flows.Health(ctx, chatID)
	case intent.Request:
		return b.flows.Search(ctx, chatID, res.Title)
	}
	return flows.Reply{Text: msgUnrecognized, Outcome: flows.OutcomeInfo}
}

// Resume implements router.Resumer.
func (b *Bot) Resume(c tele.Context) (bool, error) {
	chat := c.Chat()
	if chat == nil {
		return false, nil
	}
	reply, ok := b.flows.Resume(ctxOf(c), chat.ID, c.Text())
	if !ok {
		return false, nil
	}
	return true, render(c, reply)
}

// Register adds every command and callback namespace to reg.
func (b *Bot) Register(reg *tg.Registry) error {
	for name, cmd := range b.commands() {
		if err := reg.RegisterCommand(name, cmd); err != nil {
			return err
		}
	}
	for _, ns := range []string{flows.CBSearch, flows.CBTrend, flows.CBWatch, flows.CBAlert, flows.CBAdmin} {
		if err := reg.RegisterCallback(ns, b.onCallback(ns)); err != nil {
			return err
		}
	}
	reg.SetTextFallback(b.onText)
	reg.SetCallbackNotFound(b.UnknownCallback())
	return nil
}

// Routes builds the command, callback and text routes for reg.
func (b *Bot) Routes(reg *tg.Registry) []tg.Route {
	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		IsAdmin:       b.isAdmin,
		OnAdminReject: func(c tele.Context) error { return render(c, flows.Reply{Text: msgAdminOnly}) },
	})
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{NotFound: b.UnknownCallback()}))
	routes = append(routes, router.TextRoutes(b, reg, router.TextOptions{
		UnknownText:     b.UnknownText(),
		UnknownDocument: b.UnknownDocument(),
	})...)
	return routes
}

func (b *Bot) isAdmin(c tele.Context) bool {
	chat := c.Chat()
	if chat == nil || b.accounts == nil {
		return false
	}
	ctx := ctxOf(c)
	ok, err := b.accounts.IsAdmin(ctx, chat.ID)
	if err != nil {
		logger.Warn(ctx, "tg", "admin.check",
			slog.String("status", logger.Status(err)),
			slog.String("err", err.Error()),
		)
		return false
	}
	return ok
}

func (b *Bot) onCallback(namespace string) tele.HandlerFunc {
	return func(c tele.Context) error {
		chat := c.Chat()
		if chat == nil {
			return nil
		}
		reply, ok := b.Callback(ctxOf(c), chat.ID, namespace, callbacks.CallbackPayload(c))
		if !ok {
			return render(c, flows.Reply{Text: msgStaleButton, Edit: true, Outcome: flows.OutcomeExpired})
		}
		return render(c, reply)
	}
}

func (b *Bot) onText(c tele.Context) error {
	chat := c.Chat()
	if chat == nil {
		return nil
	}
	return render(c, b.Converse(ctxOf(c), chat.ID, c.Text()))
}

// UnknownText implements ui.FallbackProvider.
func (b *Bot) UnknownText() tele.HandlerFunc {
	return func(c tele.Context) error { return render(c, flows.Reply{Text: msgUnrecognized}) }
}

// UnknownDocument implements ui.FallbackProvider.
func (b *Bot) UnknownDocument() tele.HandlerFunc {
	return func(c tele.Context) error { return render(c, flows.Reply{Text: msgDocument}) }
}

// UnknownCallback implements ui.FallbackProvider.
func (b *Bot) UnknownCallback() tele.HandlerFunc {
	return func(c tele.Context) error {
		return c.Respond(&tele.CallbackResponse{Text: msgStaleButton})
	}
}
