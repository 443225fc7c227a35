package middleware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/seerrbot/core/logger"
	"github.com/m3rciful/seerrbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/seerrbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// seenUpdates remembers update ids for a short window. The logger middleware
// runs both globally and inside each route, and only the first pass logs.
type seenUpdates struct {
	mu    sync.Mutex
	ttl   time.Duration
	at    map[int]time.Time
	sweep time.Time
}

var receipts = &seenUpdates{ttl: 10 * time.Second, at: make(map[int]time.Time)}

func (s *seenUpdates) first(id int, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.sweep) > s.ttl {
		for k, t := range s.at {
			if now.Sub(t) > s.ttl {
				delete(s.at, k)
			}
		}
		s.sweep = now
	}
	if t, ok := s.at[id]; ok && now.Sub(t) <= s.ttl {
		return false
	}
	s.at[id] = now
	return true
}

// LoggerMiddleware derives the update context (rid plus update, chat and user
// ids) for downstream handlers and logs one sampled receipt line per update.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		upd := c.Update()
		user := c.Sender()
		ctx := tghelpers.UpdateContext(c)
		if receipts.first(upd.ID, time.Now()) && logger.ShouldSampleDebug() {
			logger.LogEvent(ctx, logger.Component("tg"), slog.LevelDebug, "update.received", receiptAttrs(c, upd, user)...)
		}
		return next(c)
	}
}

func receiptAttrs(c tele.Context, upd tele.Update, user *tele.User) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("status", "ok"),
		slog.String("kind", UpdateKind(upd)),
	}
	if chat := c.Chat(); chat != nil {
		attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
	}
	if user != nil && user.Username != "" {
		attrs = append(attrs, slog.String("username", logger.SanitizeLimit(user.Username, 64)))
	}
	switch {
	case upd.Callback != nil:
		key, payload := callbacks.ParseCallbackData(upd.Callback)
		attrs = append(attrs,
			slog.String("cb_key", logger.SanitizeLimit(key, 128)),
			slog.String("payload", logger.SanitizeLimit(payload, 256)),
		)
	case upd.Message != nil:
		attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(c.Text(), 256)))
	}
	return attrs
}
