package router

import (
	tg "github.com/m3rciful/seerrbot/core/telegram"
	"github.com/m3rciful/seerrbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// Resumer continues a conversation that is waiting for free text. It reports
// whether the message was consumed.
type Resumer interface {
	Resume(c tele.Context) (bool, error)
}

// TextOptions controls fallback behaviour for text/document updates.
type TextOptions struct {
	UnknownText     tele.HandlerFunc
	UnknownDocument tele.HandlerFunc
}

// TextRoutes builds handlers for text and document routing. Text goes to the
// resumer first, then to a command lookup, then to the registry fallback.
func TextRoutes(resumer Resumer, reg *tg.Registry, opts TextOptions) []tg.Route {
	text := func(c tele.Context) error {
		if resumer != nil {
			s := newSummary("resume")
			consumed, err := resumer.Resume(c)
			if consumed || err != nil {
				s.log(c, err, false)
				return err
			}
		}
		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(c.Text()); ok && cmd.Handler != nil && !cmd.AdminOnly {
				return newSummary(handlerName(key)).run(c, func() error { return cmd.Handler(c) })
			}
			if fb := reg.TextFallback(); fb != nil {
				return newSummary("fallback").run(c, func() error { return fb(c) })
			}
		}
		return unknown(c, "unknown_text", opts.UnknownText)
	}

	document := func(c tele.Context) error {
		return unknown(c, "unexpected_document", opts.UnknownDocument)
	}

	return []tg.Route{
		{Endpoint: tele.OnText, Handler: wrap(text)},
		{Endpoint: tele.OnDocument, Handler: wrap(document)},
	}
}

func unknown(c tele.Context, name string, h tele.HandlerFunc) error {
	s := newSummary(name)
	if h == nil {
		s.skip(c)
		return nil
	}
	return s.run(c, func() error { return h(c) })
}

// wrap applies the per-route middlewares shared by every router.
func wrap(h tele.HandlerFunc) tele.HandlerFunc {
	return middleware.RecoverMiddleware(middleware.LoggerMiddleware(h))
}
