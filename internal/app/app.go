// Package app composes the bot: infrastructure from bootstrap, the services
// behind the conversations, the Telegram routes and the background modules.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/m3rciful/seerrbot/core/bootstrap"
	corecmd "github.com/m3rciful/seerrbot/core/cmd"
	coredatabase "github.com/m3rciful/seerrbot/core/database"
	"github.com/m3rciful/seerrbot/core/logger"
	tg "github.com/m3rciful/seerrbot/core/telegram"
	"github.com/m3rciful/seerrbot/core/telegram/middleware"
	tgsender "github.com/m3rciful/seerrbot/core/telegram/sender"
	"github.com/m3rciful/seerrbot/core/telegram/state"
	"github.com/m3rciful/seerrbot/internal/bot"
	"github.com/m3rciful/seerrbot/internal/config"
	"github.com/m3rciful/seerrbot/internal/flows"
	"github.com/m3rciful/seerrbot/internal/intent"
	"github.com/m3rciful/seerrbot/internal/link"
	"github.com/m3rciful/seerrbot/internal/notify"
	"github.com/m3rciful/seerrbot/internal/ops"
	"github.com/m3rciful/seerrbot/internal/seerr"
	"github.com/m3rciful/seerrbot/internal/store"
	"github.com/m3rciful/seerrbot/internal/vault"

	tele "gopkg.in/telebot.v4"
)

const (
	stopTimeout   = 15 * time.Second
	purgeInterval = 15 * time.Minute
)

// App is the assembled bot.
type App struct {
	cfg      *config.Config
	db       *sqlx.DB
	registry *tg.Registry
	bot      *bot.Bot
	modules  bootstrap.Modules
	metrics  *prometheus.Registry
	updates  *middleware.Metrics
}

var _ corecmd.TelegramApp = (*App)(nil)

// Bootstrap initialises logging, the database and migrations, then builds the App.
func Bootstrap(cfg *config.Config) (*App, error) {
	res, err := bootstrap.Run(bootstrap.Options{
		Config:   cfg.CoreConfig(),
		Database: cfg.Database,
	})
	if err != nil {
		return nil, err
	}
	a, err := New(cfg, res.DB)
	if err != nil {
		_ = res.DB.Close()
		return nil, err
	}
	return a, nil
}

// New wires every service on top of db.
func New(cfg *config.Config, db *sqlx.DB) (*App, error) {
	a := &App{cfg: cfg, db: db, metrics: prometheus.NewRegistry()}
	a.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if db != nil {
		a.metrics.MustRegister(collectors.NewDBStatsCollector(db.DB, "seerrbot"))
	}
	a.updates = middleware.NewMetrics(a.metrics)

	pg := store.NewPostgres(db)
	sessions := state.NewStore(a.sessionKV(), state.Options{
		Namespace: cfg.Session.Namespace,
		TTL:       cfg.Session.TTL(),
	})

	api, err := seerr.New(cfg.API.BaseURL, tg.BuildAPIClient(cfg.API.Timeout(), cfg.API.Retries))
	if err != nil {
		return nil, fmt.Errorf("app: api client: %w", err)
	}
	links := link.NewService(pg, nil)
	creds := flows.NewCredentials(links, vault.New(cfg.Vault.Secret), api)

	conv := flows.New(flows.Options{
		Sessions:   sessions,
		Callers:    creds,
		Links:      links,
		Alerts:     pg,
		MaxResults: cfg.Session.MaxResults,
	})

	a.bot = bot.New(conv, links, intent.Default())
	a.registry = tg.NewRegistry()
	if err := a.bot.Register(a.registry); err != nil {
		return nil, fmt.Errorf("app: register handlers: %w", err)
	}

	if !cfg.Scheduler.Disabled {
		notifier, err := notify.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.APIURL, cfg.Scheduler.SendTimeout())
		if err != nil {
			return nil, err
		}
		sched := notify.New(notify.Options{
			Store:       pg,
			Locker:      coredatabase.NewAdvisoryLocker(db),
			Notifier:    notifier,
			Health:      creds,
			Sessions:    sessions,
			Metrics:     notify.NewMetrics(a.metrics),
			StatusEvery: cfg.Scheduler.StatusEvery(),
			DigestEvery: cfg.Scheduler.DigestEvery(),
			SendTimeout: cfg.Scheduler.SendTimeout(),
			DigestHour:  *cfg.Scheduler.DigestHour,
			TopFailures: cfg.Scheduler.TopFailures,
			Location:    cfg.Scheduler.Location(),
		})
		a.modules = append(a.modules, bootstrap.ModuleFuncs{
			ModuleName: "scheduler",
			OnStart:    sched.Start,
			OnStop:     func(context.Context) error { sched.Stop(); return nil },
		})
	}

	if cfg.Session.Backend == config.SessionPostgres {
		a.modules = append(a.modules, newPurger(db, purgeInterval))
	}

	if cfg.Metrics.Listen != "" {
		gin.SetMode(gin.ReleaseMode)
		a.modules = append(a.modules, ops.New(ops.Options{
			Listen:      cfg.Metrics.Listen,
			MetricsPath: cfg.Metrics.Path,
			Gatherer:    a.metrics,
			Ready:       func(ctx context.Context) error { return db.PingContext(ctx) },
		}))
	}
	return a, nil
}

func (a *App) sessionKV() state.KV {
	if a.cfg.Session.Backend == config.SessionMemory {
		return state.NewMemoryKV(time.Now)
	}
	return state.NewPostgresKV(a.db)
}

// TelegramRunOptions implements cmd.TelegramApp.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	core := a.cfg.CoreConfig()
	return tg.RunOptions{
		Config:   core,
		Registry: a.registry,
		DispatcherOptions: tgsender.Options{
			MaxRetries: 2,
			Observe:    a.updates.ObserveSend,
		},
		Middlewares: tg.DefaultMiddlewares(core, tg.MiddlewareOptions{
			OnLimited: onLimited,
			Metrics:   a.updates,
		}),
		Routes: a.bot.Routes(a.registry),
		OnStart: func(ctx context.Context, _ tg.Runtime) error {
			return a.modules.Start(ctx)
		},
		OnStop: func(context.Context, tg.Runtime) error {
			ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			err := a.modules.Stop(ctx)
			if cerr := a.db.Close(); cerr != nil {
				logger.Warn(ctx, "app", "db.close", slog.String("err", cerr.Error()))
			}
			return err
		},
	}, nil
}

func onLimited(c tele.Context) error {
	if c.Callback() != nil {
		return c.Respond(&tele.CallbackResponse{Text: "Slow down a little."})
	}
	return nil
}
