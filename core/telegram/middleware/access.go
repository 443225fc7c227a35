package middleware

import (
	"log/slog"

	"github.com/m3rciful/seerrbot/core/logger"
	tghelpers "github.com/m3rciful/seerrbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// AdminOptions configure AdminOnlyMiddleware.
type AdminOptions struct {
	// IsAdmin runs on every update and must not cache: a demoted admin loses
	// access with the next message.
	IsAdmin  func(c tele.Context) bool
	OnReject tele.HandlerFunc
}

// AdminOnlyMiddleware passes updates from admins only. Without IsAdmin
// nobody passes. Rejections are logged and handed to OnReject.
func AdminOnlyMiddleware(opts AdminOptions) tele.MiddlewareFunc {
	allowed := func(c tele.Context) bool {
		return c.Sender() != nil && opts.IsAdmin != nil && opts.IsAdmin(c)
	}
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if allowed(c) {
				return next(c)
			}
			logger.Info(tghelpers.BuildContext(c), "tg", "access.denied",
				slog.String("outcome", "fail"),
				slog.String("kind", UpdateKind(c.Update())),
			)
			if opts.OnReject == nil {
				return nil
			}
			return opts.OnReject(c)
		}
	}
}
