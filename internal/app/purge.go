package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"

	"github.com/m3rciful/seerrbot/core/logger"
	"github.com/m3rciful/seerrbot/core/telegram/state"
)

// purger reclaims expired session rows. Reads already skip them, so a missed
// run only costs space.
type purger struct {
	purge func(ctx context.Context) (int64, error)
	every time.Duration
	cron  *cron.Cron
}

func newPurger(db *sqlx.DB, every time.Duration) *purger {
	return &purger{
		purge: func(ctx context.Context) (int64, error) { return state.PurgeExpired(ctx, db) },
		every: every,
	}
}

func (p *purger) Name() string { return "session_purge" }

func (p *purger) Start(ctx context.Context) error {
	p.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := p.cron.AddFunc("@every "+p.every.String(), func() { p.run(ctx) }); err != nil {
		return err
	}
	p.cron.Start()
	return nil
}

func (p *purger) Stop(context.Context) error {
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
	return nil
}

func (p *purger) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	start := time.Now()
	n, err := p.purge(ctx)
	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.Int64("rows", n),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		logger.Warn(ctx, "session", "purge", append(attrs, slog.String("err", err.Error()))...)
		return
	}
	logger.Debug(ctx, "session", "purge", attrs...)
}
