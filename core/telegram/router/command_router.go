package router

import (
	"log/slog"

	"github.com/m3rciful/seerrbot/core/logger"
	tg "github.com/m3rciful/seerrbot/core/telegram"
	"github.com/m3rciful/seerrbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CommandRouteOptions configures how commands are wrapped and exposed.
type CommandRouteOptions struct {
	// IsAdmin gates AdminOnly commands. It runs on every invocation.
	IsAdmin       func(c tele.Context) bool
	OnAdminReject tele.HandlerFunc
}

// CommandRoutes returns one route per registered command. Each handler logs a
// summary line; AdminOnly commands check the sender first.
func CommandRoutes(reg *tg.Registry, opts CommandRouteOptions) []tg.Route {
	if reg == nil {
		return nil
	}
	admin := middleware.AdminOnlyMiddleware(middleware.AdminOptions{
		IsAdmin:  opts.IsAdmin,
		OnReject: opts.OnAdminReject,
	})

	cmds := reg.Commands()
	routes := make([]tg.Route, 0, len(cmds))
	for endpoint, def := range cmds {
		name, h := handlerName(endpoint), def.Handler
		var handler tele.HandlerFunc = func(c tele.Context) error {
			return newSummary(name).run(c, func() error { return h(c) })
		}
		handler = wrap(handler)
		if def.AdminOnly {
			handler = admin(handler)
		}
		routes = append(routes, tg.Route{Endpoint: endpoint, Handler: handler})
	}

	logger.TWire.Info("tg.wire",
		slog.String("event", "complete"),
		slog.Int("commands", len(cmds)),
		slog.Int("callbacks", len(reg.ListCallbacks())),
	)
	return routes
}
