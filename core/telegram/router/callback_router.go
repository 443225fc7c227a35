package router

import (
	"log/slog"

	tg "github.com/m3rciful/seerrbot/core/telegram"
	"github.com/m3rciful/seerrbot/core/telegram/callbacks"

	tele "gopkg.in/telebot.v4"
)

// CallbackOptions customises fallback behaviour for callbacks.
type CallbackOptions struct {
	NotFound tele.HandlerFunc
}

// CallbackRoute dispatches every callback through the registry by its unique
// key. The button press is acknowledged before the handler runs.
func CallbackRoute(reg *tg.Registry, opts CallbackOptions) tg.Route {
	handler := func(c tele.Context) error {
		if c.Callback() == nil {
			return nil
		}
		key := callbacks.CallbackKey(c)
		_ = c.Respond()

		h, ok := reg.GetCallback(key)
		if ok && h != nil {
			s := newSummary("callback."+handlerName(key), slog.String("cb_key", key))
			return s.run(c, func() error { return h(c) })
		}

		s := newSummary("callback."+handlerName(key), slog.String("cb_key", key), slog.String("reason", "not_found"))
		fallback := reg.CallbackNotFound()
		if fallback == nil {
			fallback = opts.NotFound
		}
		if fallback == nil {
			s.skip(c)
			return nil
		}
		return s.run(c, func() error { return fallback(c) })
	}
	return tg.Route{Endpoint: tele.OnCallback, Handler: wrap(handler)}
}
