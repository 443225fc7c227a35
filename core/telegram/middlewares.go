package telegram

import (
	"strings"
	"time"

	coreconfig "github.com/m3rciful/seerrbot/core/config"
	"github.com/m3rciful/seerrbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// MiddlewareOptions tunes DefaultMiddlewares.
type MiddlewareOptions struct {
	// OnLimited answers updates dropped by the rate limit.
	OnLimited tele.HandlerFunc
	// Metrics receives update counters; nil disables them.
	Metrics *middleware.Metrics
}

// DefaultMiddlewares is the global chain: recover, the per-user rate limit
// when configured, the update logger and the metrics wrapper.
func DefaultMiddlewares(cfg *coreconfig.Config, opts MiddlewareOptions) []Middleware {
	mws := []Middleware{{Name: "recover", Use: middleware.RecoverMiddleware}}

	if cfg != nil && cfg.RateLimit.IntervalMS > 0 {
		exclude := make(map[string]struct{}, len(cfg.RateLimit.ExcludeUpdates))
		for _, kind := range cfg.RateLimit.ExcludeUpdates {
			exclude[strings.ToLower(kind)] = struct{}{}
		}
		onLimited := opts.OnLimited
		mws = append(mws, Middleware{
			Name: "rate_limit",
			Use: middleware.RateLimitMiddleware(middleware.RateLimitOptions{
				Interval: time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond,
				Burst:    cfg.RateLimit.Burst,
				Exclude:  exclude,
				OnLimited: func(c tele.Context) error {
					opts.Metrics.Limited()
					if onLimited != nil {
						return onLimited(c)
					}
					return nil
				},
			}),
		})
	}

	return append(mws,
		Middleware{Name: "logger", Use: middleware.LoggerMiddleware},
		Middleware{Name: "metrics", Use: middleware.MetricsMiddleware(opts.Metrics)},
	)
}
