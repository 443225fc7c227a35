// Package notify runs the background passes that push request updates, watch
// alerts and the admin digest to Telegram. Every tick takes a cluster-wide
// advisory lock first, so with several replicas exactly one does the work.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/m3rciful/seerrbot/core/logger"
	"github.com/m3rciful/seerrbot/core/telegram/state"
	"github.com/m3rciful/seerrbot/internal/models"
	"github.com/m3rciful/seerrbot/internal/seerr"
)

// Advisory lock keys, one per job.
const (
	LockStatus int64 = 72001
	LockDigest int64 = 72002
)

const (
	jobStatus = "status"
	jobDigest = "digest"

	kindStatus = "status"
	kindWatch  = "watch"
	kindDigest = "digest"

	digestWindow    = 10 * time.Minute
	digestMarkerTTL = 36 * time.Hour
	failureLookback = 24 * time.Hour
)

// trackedStatuses are the request states worth telling a user about.
var trackedStatuses = []string{seerr.StatusDownloading, seerr.StatusAvailable, seerr.StatusFailed}

// Locker is a non-blocking, cluster-wide mutex keyed by job.
type Locker interface {
	TryLock(ctx context.Context, key int64) (release func(), acquired bool, err error)
}

// Notifier delivers one message. Implementations must not retry.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// Store is the persistence the passes read and write.
type Store interface {
	ListTracked(ctx context.Context, statuses []string) ([]models.TrackedRequest, error)
	GetState(ctx context.Context, chatID, requestID int64) (models.RequestState, error)
	PutState(ctx context.Context, s models.RequestState) error
	ListDueAlerts(ctx context.Context) ([]models.WatchAlert, error)
	MarkAlertFired(ctx context.Context, alertID int64, at time.Time) error
	CountPending(ctx context.Context) (int, error)
	TopFailures(ctx context.Context, since time.Time, limit int) ([]models.FailureGroup, error)
	ListAdmins(ctx context.Context) ([]models.LinkedAccount, error)
}

// HealthSource fetches a health snapshot with one admin's own credential.
type HealthSource interface {
	HealthFor(ctx context.Context, acct models.LinkedAccount) (seerr.Health, error)
}

// Options configures New. Zero durations and counts fall back to defaults.
type Options struct {
	Store    Store
	Locker   Locker
	Notifier Notifier
	Health   HealthSource
	Sessions *state.Store
	Metrics  *Metrics

	StatusEvery time.Duration
	DigestEvery time.Duration
	SendTimeout time.Duration
	DigestHour  int
	TopFailures int
	Location    *time.Location
	Now         func() time.Time
}

// Scheduler owns the cron timers and the three passes.
type Scheduler struct {
	store    Store
	locker   Locker
	notifier Notifier
	health   HealthSource
	sessions *state.Store
	metrics  *Metrics

	statusEvery time.Duration
	digestEvery time.Duration
	sendTimeout time.Duration
	digestHour  int
	topFailures int
	loc         *time.Location
	now         func() time.Time

	cron *cron.Cron
	wg   sync.WaitGroup
}

// New builds a Scheduler. Call Start to begin ticking.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		store:       opts.Store,
		locker:      opts.Locker,
		notifier:    opts.Notifier,
		health:      opts.Health,
		sessions:    opts.Sessions,
		metrics:     opts.Metrics,
		statusEvery: opts.StatusEvery,
		digestEvery: opts.DigestEvery,
		sendTimeout: opts.SendTimeout,
		digestHour:  opts.DigestHour,
		topFailures: opts.TopFailures,
		loc:         opts.Location,
		now:         opts.Now,
	}
	if s.statusEvery <= 0 {
		s.statusEvery = 60 * time.Second
	}
	if s.digestEvery <= 0 {
		s.digestEvery = 5 * time.Minute
	}
	if s.sendTimeout <= 0 {
		s.sendTimeout = 10 * time.Second
	}
	if s.digestHour < 0 || s.digestHour > 23 {
		s.digestHour = 9
	}
	if s.topFailures <= 0 {
		s.topFailures = 5
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	return s
}

// Start registers both timers and fires one run of each job right away.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cronLogger{}))
	if _, err := c.AddFunc(every(s.statusEvery), func() { s.RunStatus(ctx) }); err != nil {
		return fmt.Errorf("notify: schedule status job: %w", err)
	}
	if _, err := c.AddFunc(every(s.digestEvery), func() { s.RunDigest(ctx) }); err != nil {
		return fmt.Errorf("notify: schedule digest job: %w", err)
	}
	s.cron = c
	c.Start()

	s.wg.Add(2)
	go func() { defer s.wg.Done(); s.RunStatus(ctx) }()
	go func() { defer s.wg.Done(); s.RunDigest(ctx) }()

	logger.Info(ctx, "scheduler", "started",
		slog.String("status", "ok"),
		slog.Duration("status_every", s.statusEvery),
		slog.Duration("digest_every", s.digestEvery),
		slog.Int("digest_hour", s.digestHour),
	)
	return nil
}

// Stop halts the timers and waits for running ticks to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.wg.Wait()
}

// RunStatus runs the status-delta and watch-alert passes under LockStatus.
// It reports whether this replica held the lock.
func (s *Scheduler) RunStatus(ctx context.Context) bool {
	return s.run(ctx, jobStatus, LockStatus, s.statusEvery, func(ctx context.Context) error {
		return errors.Join(s.statusPass(ctx), s.watchPass(ctx))
	})
}

// RunDigest runs the admin digest pass under LockDigest.
func (s *Scheduler) RunDigest(ctx context.Context) bool {
	return s.run(ctx, jobDigest, LockDigest, s.digestEvery, s.digestPass)
}

func (s *Scheduler) run(ctx context.Context, job string, key int64, budget time.Duration, pass func(context.Context) error) (ran bool) {
	ctx = logger.WithRID(ctx, uuid.NewString())
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	release, ok, err := s.locker.TryLock(ctx, key)
	if err != nil {
		logger.Error(ctx, "scheduler", job+".lock",
			slog.String("status", "fail"),
			slog.Int64("lock_key", key),
			slog.String("err", err.Error()),
		)
		return false
	}
	if !ok {
		s.metrics.skipped.WithLabelValues(job).Inc()
		logger.Debug(ctx, "scheduler", job+".skip",
			slog.String("status", "skip"),
			slog.Int64("lock_key", key),
		)
		return false
	}
	defer release()
	s.metrics.runs.WithLabelValues(job).Inc()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			ran = true
			logger.Error(ctx, "scheduler", job+".panic",
				slog.String("status", "fail"),
				slog.Any("err", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	err = pass(ctx)
	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", logger.SanitizeLimit(err.Error(), 512)))
		logger.Warn(ctx, "scheduler", job+".done", attrs...)
		return true
	}
	logger.Debug(ctx, "scheduler", job+".done", attrs...)
	return true
}

// send delivers text and swallows failures; delivery is at most once.
func (s *Scheduler) send(ctx context.Context, kind string, chatID int64, text string) bool {
	sctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()
	if err := s.notifier.Notify(sctx, chatID, text); err != nil {
		s.metrics.failed.WithLabelValues(kind).Inc()
		logger.Warn(ctx, "scheduler", "notify.fail",
			slog.String("status", "fail"),
			slog.String("kind", kind),
			slog.Int64("chat_id", chatID),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		return false
	}
	s.metrics.sent.WithLabelValues(kind).Inc()
	return true
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	logger.SCHED.Debug(msg, append([]any{"event", "cron." + msg}, keysAndValues...)...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logger.SCHED.Error(msg, append([]any{"event", "cron." + msg, "err", err.Error()}, keysAndValues...)...)
}
