package flows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/m3rciful/seerrbot/core/logger"
	"github.com/m3rciful/seerrbot/core/telegram/keyboard"
	"github.com/m3rciful/seerrbot/internal/seerr"
)

const (
	maxPendingShown = 10
	msgAdminOnly    = "This is only available to admins."
)

// admin re-reads the chat's role and resolves its caller. It runs on every
// admin action so a demotion takes effect on the next tap.
func (s *Service) admin(ctx context.Context, chatID int64, op string, edit bool) (Caller, *Reply) {
	ok, err := s.links.IsAdmin(ctx, chatID)
	if err != nil {
		r := s.fail(ctx, op, err, edit)
		return Caller{}, &r
	}
	if !ok {
		logger.Info(ctx, "flows", op+".denied", slog.String("status", "skip"))
		return Caller{}, &Reply{Text: msgAdminOnly, Edit: edit, Outcome: OutcomeDenied}
	}
	caller, err := s.callers.Resolve(ctx, chatID)
	if err != nil {
		r := s.fail(ctx, op, err, edit)
		return Caller{}, &r
	}
	return caller, nil
}

// Pending lists open requests, each with approve and deny buttons.
func (s *Service) Pending(ctx context.Context, chatID int64) Reply {
	return s.pendingList(ctx, chatID, "", false)
}

func (s *Service) pendingList(ctx context.Context, chatID int64, notice string, edit bool) Reply {
	caller, deny := s.admin(ctx, chatID, "pending", edit)
	if deny != nil {
		return *deny
	}
	reqs, err := caller.API.PendingRequests(ctx)
	if err != nil {
		return s.fail(ctx, "pending", err, edit)
	}

	var b strings.Builder
	if notice != "" {
		b.WriteString(notice + "\n\n")
	}
	if len(reqs) == 0 {
		b.WriteString("No pending requests. 🎉")
		return Reply{Text: b.String(), Edit: edit, Outcome: OutcomeInfo}
	}

	fmt.Fprintf(&b, "Pending requests (%d):\n", len(reqs))
	shown := reqs
	if len(shown) > maxPendingShown {
		shown = shown[:maxPendingShown]
	}
	rows := make([][]keyboard.InlineBtn, 0, len(shown)+1)
	for _, r := range shown {
		id := strconv.FormatInt(r.ID, 10)
		fmt.Fprintf(&b, "#%s %s", id, r.Title)
		if r.RequestedBy != "" {
			fmt.Fprintf(&b, " · by %s", r.RequestedBy)
		}
		b.WriteByte('\n')
		rows = append(rows, []keyboard.InlineBtn{
			{Text: "✅ #" + id, Unique: CBAdmin, Data: "approve:" + id},
			{Text: "❌ #" + id, Unique: CBAdmin, Data: "deny:" + id},
		})
	}
	if len(reqs) > len(shown) {
		fmt.Fprintf(&b, "…and %d more\n", len(reqs)-len(shown))
	}
	rows = append(rows, []keyboard.InlineBtn{{Text: "✅ Approve all", Unique: CBAdmin, Data: "all"}})
	return Reply{Text: strings.TrimRight(b.String(), "\n"), Buttons: rows, Edit: edit, Outcome: OutcomeInfo}
}

// Decide approves or declines one request. A request decided elsewhere in the
// meantime yields a failure reply and leaves it untouched.
func (s *Service) Decide(ctx context.Context, chatID, requestID int64, approve bool) Reply {
	caller, deny := s.admin(ctx, chatID, "pending.decide", true)
	if deny != nil {
		return *deny
	}
	verb, fn := "approved", caller.API.Approve
	if !approve {
		verb, fn = "declined", caller.API.Decline
	}
	err := fn(ctx, requestID)
	switch {
	case errors.Is(err, seerr.ErrAlreadyDecided):
		return Reply{
			Text:    fmt.Sprintf("Request #%d was already decided.", requestID),
			Edit:    true,
			Outcome: OutcomeDecideFailed,
		}
	case err != nil:
		return s.fail(ctx, "pending.decide", err, true)
	}
	logger.Info(ctx, "flows", "pending.decided",
		slog.String("status", "ok"),
		slog.Int64("request_id", requestID),
		slog.Bool("approve", approve),
	)
	r := s.pendingList(ctx, chatID, fmt.Sprintf("Request #%d %s.", requestID, verb), true)
	if r.Outcome == OutcomeInfo {
		r.Outcome = OutcomeDecided
	}
	return r
}

// ApproveAll approves every pending request and reports how many went through.
func (s *Service) ApproveAll(ctx context.Context, chatID int64) Reply {
	caller, deny := s.admin(ctx, chatID, "pending.all", true)
	if deny != nil {
		return *deny
	}
	reqs, err := caller.API.PendingRequests(ctx)
	if err != nil {
		return s.fail(ctx, "pending.all", err, true)
	}
	approved, failed := 0, 0
	for _, r := range reqs {
		if err := caller.API.Approve(ctx, r.ID); err != nil {
			failed++
			logger.Warn(ctx, "flows", "pending.approve",
				slog.String("status", "fail"),
				slog.Int64("request_id", r.ID),
				slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			)
			continue
		}
		approved++
	}
	text := fmt.Sprintf("Approved %d request(s).", approved)
	if failed > 0 {
		text += fmt.Sprintf(" %d could not be approved.", failed)
	}
	return Reply{Text: text, Edit: true, Outcome: OutcomeDecided}
}

// Health shows the service-health snapshot to admins.
func (s *Service) Health(ctx context.Context, chatID int64) Reply {
	caller, deny := s.admin(ctx, chatID, "health", false)
	if deny != nil {
		return *deny
	}
	h, err := caller.API.ServiceHealth(ctx)
	if err != nil {
		return s.fail(ctx, "health", err, false)
	}
	return Reply{Text: FormatHealth(h), Outcome: OutcomeInfo}
}

// FormatHealth renders a health snapshot, one service per line.
func FormatHealth(h seerr.Health) string {
	if len(h.Services) == 0 {
		return "No services reported."
	}
	var b strings.Builder
	if h.Healthy() {
		b.WriteString("All services are up.\n")
	} else {
		b.WriteString("Some services need attention.\n")
	}
	for _, svc := range h.Services {
		mark := "✅"
		if !svc.Healthy {
			mark = "❌"
		}
		fmt.Fprintf(&b, "%s %s", mark, svc.Name)
		if svc.LatencyMS > 0 {
			fmt.Fprintf(&b, " %dms", svc.LatencyMS)
		}
		if svc.Message != "" {
			fmt.Fprintf(&b, ": %s", svc.Message)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
