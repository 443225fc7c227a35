package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/seerrbot/core/logger"
	"github.com/m3rciful/seerrbot/core/telegram/format"
	"github.com/m3rciful/seerrbot/core/telegram/state"
	"github.com/m3rciful/seerrbot/internal/flows"
	"github.com/m3rciful/seerrbot/internal/models"
	"github.com/m3rciful/seerrbot/internal/seerr"
)

// statusPass compares every tracked request with the last observed state. The
// first observation only records a baseline.
func (s *Scheduler) statusPass(ctx context.Context) error {
	rows, err := s.store.ListTracked(ctx, trackedStatuses)
	if err != nil {
		return fmt.Errorf("status pass: %w", err)
	}
	sent := 0
	for _, row := range rows {
		if s.observe(ctx, row) {
			sent++
		}
	}
	logger.Debug(ctx, "scheduler", "status.pass",
		slog.String("status", "ok"),
		slog.Int("count", len(rows)),
		slog.Int("messages", sent),
	)
	return nil
}

func (s *Scheduler) observe(ctx context.Context, row models.TrackedRequest) (sent bool) {
	prev, err := s.store.GetState(ctx, row.ChatID, row.RequestID)
	baseline := errors.Is(err, models.ErrNotFound)
	if err != nil && !baseline {
		logger.Warn(ctx, "scheduler", "status.load",
			slog.String("status", "fail"),
			slog.Int64("chat_id", row.ChatID),
			slog.Int64("request_id", row.RequestID),
			slog.String("err", err.Error()),
		)
		return false
	}

	if !baseline && changed(prev, row) {
		sent = s.send(ctx, kindStatus, row.ChatID, statusMessage(row))
	}

	next := models.RequestState{
		ChatID:     row.ChatID,
		RequestID:  row.RequestID,
		LastStatus: row.Status,
		LastReason: row.FailureReason,
		UpdatedAt:  s.now(),
	}
	if err := s.store.PutState(ctx, next); err != nil {
		logger.Warn(ctx, "scheduler", "status.save",
			slog.String("status", "fail"),
			slog.Int64("chat_id", row.ChatID),
			slog.Int64("request_id", row.RequestID),
			slog.String("err", err.Error()),
		)
	}
	return sent
}

// changed reports a new status, or a new failure reason while still failed.
func changed(prev models.RequestState, row models.TrackedRequest) bool {
	if prev.LastStatus != row.Status {
		return true
	}
	return row.Status == seerr.StatusFailed &&
		format.Deref(prev.LastReason, "") != format.Deref(row.FailureReason, "")
}

func statusMessage(row models.TrackedRequest) string {
	switch row.Status {
	case seerr.StatusDownloading:
		return "⬇️ " + row.Title + " is downloading."
	case seerr.StatusAvailable:
		return "✅ " + row.Title + " is now available to watch!"
	case seerr.StatusFailed:
		if reason := format.Deref(row.FailureReason, ""); reason != "" {
			return "⚠️ " + row.Title + " failed: " + reason
		}
		return "⚠️ " + row.Title + " could not be downloaded."
	}
	return row.Title + " is now " + row.Status + "."
}

// watchPass fires every due alert once. The alert is switched off even when
// delivery fails.
func (s *Scheduler) watchPass(ctx context.Context) error {
	due, err := s.store.ListDueAlerts(ctx)
	if err != nil {
		return fmt.Errorf("watch pass: %w", err)
	}
	for _, a := range due {
		s.send(ctx, kindWatch, a.ChatID, "🔔 "+a.Title+" is now available. Enjoy!")
		if err := s.store.MarkAlertFired(ctx, a.ID, s.now()); err != nil {
			logger.Warn(ctx, "scheduler", "watch.mark",
				slog.String("status", "fail"),
				slog.Int64("alert_id", a.ID),
				slog.String("err", err.Error()),
			)
		}
	}
	if len(due) > 0 {
		logger.Info(ctx, "scheduler", "watch.pass",
			slog.String("status", "ok"),
			slog.Int("count", len(due)),
		)
	}
	return nil
}

// digestPass sends the daily admin digest during the first minutes of the
// configured hour, once per UTC date.
func (s *Scheduler) digestPass(ctx context.Context) error {
	now := s.now()
	local := now.In(s.loc)
	if local.Hour() != s.digestHour || local.Minute() >= int(digestWindow/time.Minute) {
		return nil
	}
	date := now.UTC().Format("2006-01-02")
	done, err := s.sessions.Marked(ctx, state.KindDigest, date)
	if err != nil {
		return fmt.Errorf("digest pass: marker: %w", err)
	}
	if done {
		return nil
	}

	pending, err := s.store.CountPending(ctx)
	if err != nil {
		return fmt.Errorf("digest pass: pending: %w", err)
	}
	failures, err := s.store.TopFailures(ctx, now.Add(-failureLookback), s.topFailures)
	if err != nil {
		return fmt.Errorf("digest pass: failures: %w", err)
	}
	admins, err := s.store.ListAdmins(ctx)
	if err != nil {
		return fmt.Errorf("digest pass: admins: %w", err)
	}

	header := digestHeader(date, pending, failures)
	for _, admin := range admins {
		s.send(ctx, kindDigest, admin.ChatID, header+"\n\n"+s.healthSection(ctx, admin))
	}

	if _, err := s.sessions.MarkOnce(ctx, state.KindDigest, date, digestMarkerTTL); err != nil {
		return fmt.Errorf("digest pass: mark: %w", err)
	}
	logger.Info(ctx, "scheduler", "digest.sent",
		slog.String("status", "ok"),
		slog.String("date", date),
		slog.Int("count", len(admins)),
		slog.Int("pending_count", pending),
	)
	return nil
}

// healthSection fetches health with the admin's own credential, so a broken
// credential shows up here too.
func (s *Scheduler) healthSection(ctx context.Context, admin models.LinkedAccount) string {
	if s.health == nil {
		return "Service health: not checked."
	}
	h, err := s.health.HealthFor(ctx, admin)
	if err != nil {
		logger.Warn(ctx, "scheduler", "digest.health",
			slog.String("status", "fail"),
			slog.Int64("chat_id", admin.ChatID),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		return "Service health: unavailable with your credential (" + logger.SanitizeLimit(err.Error(), 120) + ")."
	}
	return "Service health:\n" + flows.FormatHealth(h)
}

func digestHeader(date string, pending int, failures []models.FailureGroup) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 Daily digest for %s\n\nPending requests: %d", date, pending)
	if len(failures) == 0 {
		b.WriteString("\nNo job failures in the last 24h.")
		return b.String()
	}
	b.WriteString("\nTop failures (24h):")
	for _, f := range failures {
		fmt.Fprintf(&b, "\n• %s ×%d", f.Reason, f.Count)
	}
	return b.String()
}
