package router

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/m3rciful/seerrbot/core/logger"
	tghelpers "github.com/m3rciful/seerrbot/core/telegram/helpers"
	"github.com/m3rciful/seerrbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// summary is the single "handler.handled" line written per routed update.
type summary struct {
	handler string
	start   time.Time
	extras  []slog.Attr
}

func newSummary(handler string, extras ...slog.Attr) summary {
	return summary{handler: handler, start: time.Now(), extras: extras}
}

// run calls fn with the handler name attached to the update context.
func (s summary) run(c tele.Context, fn func() error) error {
	tghelpers.WithHandler(c, s.handler)
	err := fn()
	s.log(c, err, false)
	return err
}

// skip records an update nobody handled.
func (s summary) skip(c tele.Context) {
	s.log(c, nil, true)
}

func (s summary) log(c tele.Context, err error, skipped bool) {
	ctx := tghelpers.WithHandler(c, s.handler)
	replies, kb := middleware.Replies(c)
	took := time.Since(s.start)

	status, outcome := "ok", "ok"
	switch {
	case err != nil:
		status, outcome = "fail", "fail"
	case skipped:
		status = "skip"
	}
	middleware.ObserveHandler(c, s.handler, outcome, took)

	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("outcome", outcome),
		slog.Int("messages", replies),
		slog.Bool("kb", kb),
		slog.Duration("duration", took),
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", errorCode(err)),
		)
	}
	logger.LogEvent(ctx, logger.Component("tg"), slog.LevelInfo, "handler.handled", append(attrs, s.extras...)...)
}

// handlerName turns a command or callback key into a label: "/Search Now"
// becomes "search_now".
func handlerName(key string) string {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return "unknown"
	}
	return strings.ToLower(strings.ReplaceAll(key, " ", "_"))
}

// errorCode prefers an error's own Code() and falls back to its type name.
func errorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		if code := strings.TrimSpace(coded.Code()); code != "" {
			return strings.ToUpper(strings.ReplaceAll(code, " ", "_"))
		}
	}
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Name() == "" {
		return "UNKNOWN_ERROR"
	}
	return strings.ToUpper(t.Name())
}
