package flows

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/m3rciful/seerrbot/core/logger"
	"github.com/m3rciful/seerrbot/core/telegram/format"
	"github.com/m3rciful/seerrbot/core/telegram/state"
	"github.com/m3rciful/seerrbot/internal/seerr"
)

const maxListed = 10

var statusIcons = map[string]string{
	seerr.StatusPending:     "🕒",
	seerr.StatusApproved:    "👍",
	seerr.StatusDeclined:    "🚫",
	seerr.StatusDownloading: "⬇️",
	seerr.StatusAvailable:   "✅",
	seerr.StatusFailed:      "⚠️",
}

// MyRequests lists the chat's own requests, newest first.
func (s *Service) MyRequests(ctx context.Context, chatID int64) Reply {
	caller, err := s.callers.Resolve(ctx, chatID)
	if err != nil {
		return s.fail(ctx, "requests", err, false)
	}
	reqs, err := caller.API.MyRequests(ctx)
	if err != nil {
		return s.fail(ctx, "requests", err, false)
	}
	if len(reqs) == 0 {
		return Reply{Text: "You have no requests yet. Try /search.", Outcome: OutcomeInfo}
	}
	var b strings.Builder
	b.WriteString("Your requests:\n")
	for i, r := range reqs {
		if i == maxListed {
			fmt.Fprintf(&b, "…and %d more", len(reqs)-maxListed)
			break
		}
		icon := statusIcons[r.Status]
		if icon == "" {
			icon = "•"
		}
		fmt.Fprintf(&b, "%s %s · %s", icon, r.Title, r.Status)
		if r.Status == seerr.StatusFailed {
			if reason := format.Deref(r.FailureReason, ""); reason != "" {
				fmt.Fprintf(&b, " (%s)", reason)
			}
		}
		b.WriteByte('\n')
	}
	return Reply{Text: strings.TrimRight(b.String(), "\n"), Outcome: OutcomeInfo}
}

// Recent lists the newest library additions and remembers the first one so
// "/watch this" has something to point at.
func (s *Service) Recent(ctx context.Context, chatID int64) Reply {
	caller, err := s.callers.Resolve(ctx, chatID)
	if err != nil {
		return s.fail(ctx, "recent", err, false)
	}
	items, err := caller.API.RecentlyAdded(ctx)
	if err != nil {
		return s.fail(ctx, "recent", err, false)
	}
	if len(items) == 0 {
		return Reply{Text: "Nothing new in the library yet.", Outcome: OutcomeInfo}
	}
	if len(items) > maxListed {
		items = items[:maxListed]
	}
	return Reply{Text: "Recently added:\n\n" + listItems(items), Outcome: OutcomeInfo}
}

// Link issues a one-time code for the web application.
func (s *Service) Link(ctx context.Context, chatID int64, username string) Reply {
	code, err := s.links.IssueCode(ctx, chatID, username)
	if err != nil {
		return s.fail(ctx, "link", err, false)
	}
	mins := int(s.linkTTL.Minutes())
	return Reply{
		Text: fmt.Sprintf("Your link code is %s\n\nEnter it in the web app under Settings → Telegram within %d minutes. "+
			"Requesting a new code cancels this one.", code, mins),
		Outcome: OutcomeInfo,
	}
}

// Unlink forgets the chat's account and any conversation in progress.
func (s *Service) Unlink(ctx context.Context, chatID int64) Reply {
	if err := s.links.Unlink(ctx, chatID); err != nil {
		return s.fail(ctx, "unlink", err, false)
	}
	s.Reset(ctx, chatID)
	logger.Info(ctx, "flows", "unlink", slog.String("status", "ok"))
	return Reply{Text: "Unlinked. Send /link whenever you want to connect again.", Outcome: OutcomeInfo}
}

// Reset clears every session entry of the chat.
func (s *Service) Reset(ctx context.Context, chatID int64) {
	key := chatKey(chatID)
	for _, kind := range []state.Kind{state.KindAwaitSearch, state.KindAwaitWatch} {
		_ = s.sessions.ClearAwaiting(ctx, kind, chatID)
	}
	for _, kind := range []state.Kind{state.KindPendingSearch, state.KindPendingTrending, state.KindPendingWatch, state.KindLastMedia} {
		_ = s.sessions.ClearPending(ctx, kind, key)
	}
}
