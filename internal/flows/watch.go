package flows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/m3rciful/seerrbot/core/logger"
	"github.com/m3rciful/seerrbot/core/telegram/keyboard"
	"github.com/m3rciful/seerrbot/core/telegram/state"
	"github.com/m3rciful/seerrbot/internal/models"
	"github.com/m3rciful/seerrbot/internal/seerr"
)

var lastMediaRef = regexp.MustCompile(`(?i)^\s*(?:(?:this|that|it)(?:\s+one)?|(?:please\s+)?(?:alert|notify|tell|ping)\s+me\s+when\s+(?:it(?:'s|\s+is)\s+|this\s+is\s+|that\s+is\s+)?(?:available|ready|out))\s*[.!]*\s*$`)

// RefersToLastMedia reports whether text points at the last title the chat
// touched rather than naming a new one.
func RefersToLastMedia(text string) bool {
	return lastMediaRef.MatchString(text)
}

// Watch arms an alert. A reference like "this" uses the last picked title; an
// empty text asks for one; anything else is searched.
func (s *Service) Watch(ctx context.Context, chatID int64, text string) Reply {
	text = strings.TrimSpace(text)
	caller, err := s.callers.Resolve(ctx, chatID)
	if err != nil {
		return s.fail(ctx, "watch", err, false)
	}

	if RefersToLastMedia(text) {
		var item seerr.MediaItem
		ok, err := s.sessions.GetPending(ctx, state.KindLastMedia, chatKey(chatID), &item)
		if err != nil {
			return s.fail(ctx, "watch", err, false)
		}
		if ok {
			return s.arm(ctx, caller, item, false)
		}
		text = ""
	}

	if text == "" {
		if err := s.sessions.SetAwaiting(ctx, state.KindAwaitWatch, chatID); err != nil {
			return s.fail(ctx, "watch", err, false)
		}
		return Reply{Text: "Which title should I watch for? Send me its name.", Outcome: OutcomeAwaitingTitle}
	}

	items, err := caller.API.Search(ctx, text)
	if err != nil {
		return s.fail(ctx, "watch", err, false)
	}
	items = s.trim(items)
	if len(items) == 0 {
		return Reply{Text: fmt.Sprintf("Nothing found for %q.", text), Outcome: OutcomeNoResults}
	}
	if err := s.sessions.SetPending(ctx, state.KindPendingWatch, chatKey(chatID), items); err != nil {
		return s.fail(ctx, "watch", err, false)
	}
	return Reply{
		Text:    "Which one should I watch for?\n\n" + listItems(items),
		Buttons: itemButtons(CBWatch, "", items),
		Outcome: OutcomeResults,
	}
}

// PickWatch arms an alert for the idx-th cached watch candidate.
func (s *Service) PickWatch(ctx context.Context, chatID int64, idx int) Reply {
	item, err := s.pick(ctx, chatID, state.KindPendingWatch, idx)
	if err != nil {
		return s.fail(ctx, "watch.pick", err, true)
	}
	caller, err := s.callers.Resolve(ctx, chatID)
	if err != nil {
		return s.fail(ctx, "watch.pick", err, true)
	}
	_ = s.sessions.ClearPending(ctx, state.KindPendingWatch, chatKey(chatID))
	return s.arm(ctx, caller, item, true)
}

// CancelWatch drops the cached watch candidates.
func (s *Service) CancelWatch(ctx context.Context, chatID int64) Reply {
	return s.cancel(ctx, chatID, state.KindPendingWatch)
}

// arm stores the alert and makes sure someone asked for the title, since an
// alert on an unrequested title would never fire.
func (s *Service) arm(ctx context.Context, caller Caller, item seerr.MediaItem, edit bool) Reply {
	s.rememberMedia(ctx, caller.ChatID, item)
	name := itemLabel(item)
	if item.Available() {
		return Reply{Text: name + " is already available to watch.", Edit: edit, Outcome: OutcomeAlreadyAvailable}
	}

	alert, created, err := s.alerts.CreateAlert(ctx, models.WatchAlert{
		ChatID:    caller.ChatID,
		UserID:    caller.UserID,
		MediaType: string(item.MediaType),
		TMDBID:    item.ID,
		Title:     item.Title,
	})
	if err != nil {
		return s.fail(ctx, "watch.arm", err, edit)
	}

	unrequested := false
	if !item.InFlight() {
		_, err := caller.API.SubmitRequest(ctx, item.MediaType, item.ID)
		if err != nil && !errors.Is(err, seerr.ErrDuplicateRequest) {
			unrequested = true
			logger.Warn(ctx, "flows", "watch.request",
				slog.String("status", "fail"),
				slog.Int64("media_id", item.ID),
				slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			)
		}
	}

	logger.Info(ctx, "flows", "watch.armed",
		slog.String("status", "ok"),
		slog.Int64("alert_id", alert.ID),
		slog.Bool("created", created),
	)
	text := "🔔 I will message you when " + name + " is available."
	if !created {
		text = "🔔 Watching " + name + " again. I will message you when it is available."
	}
	if unrequested {
		text = "🔔 Alert armed for " + name + ", but the request could not be submitted. Try requesting it again later."
	}
	return Reply{Text: text, Edit: edit, Outcome: OutcomeAlertArmed}
}

// Alerts lists the chat's active alerts with a button to switch each off.
func (s *Service) Alerts(ctx context.Context, chatID int64) Reply {
	return s.alertList(ctx, chatID, "", false)
}

// Disarm switches off one alert and re-renders the list.
func (s *Service) Disarm(ctx context.Context, chatID, alertID int64) Reply {
	if _, err := s.callers.Resolve(ctx, chatID); err != nil {
		return s.fail(ctx, "alerts.off", err, true)
	}
	notice := "Alert switched off."
	err := s.alerts.DeactivateAlert(ctx, chatID, alertID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		notice = "That alert was already off."
	case err != nil:
		return s.fail(ctx, "alerts.off", err, true)
	}
	return s.alertList(ctx, chatID, notice, true)
}

func (s *Service) alertList(ctx context.Context, chatID int64, notice string, edit bool) Reply {
	if _, err := s.callers.Resolve(ctx, chatID); err != nil {
		return s.fail(ctx, "alerts", err, edit)
	}
	list, err := s.alerts.ListActiveAlerts(ctx, chatID)
	if err != nil {
		return s.fail(ctx, "alerts", err, edit)
	}
	var b strings.Builder
	if notice != "" {
		b.WriteString(notice + "\n\n")
	}
	if len(list) == 0 {
		b.WriteString("You have no active alerts. Use /watch to add one.")
		return Reply{Text: b.String(), Edit: edit, Outcome: OutcomeInfo}
	}
	b.WriteString("Active alerts:\n")
	rows := make([][]keyboard.InlineBtn, 0, len(list))
	for i, a := range list {
		fmt.Fprintf(&b, "%d. %s\n", i+1, a.Title)
		rows = append(rows, []keyboard.InlineBtn{{
			Text:   "🔕 " + a.Title,
			Unique: CBAlert,
			Data:   "off:" + strconv.FormatInt(a.ID, 10),
		}})
	}
	return Reply{Text: strings.TrimRight(b.String(), "\n"), Buttons: rows, Edit: edit, Outcome: OutcomeInfo}
}
