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
	"github.com/m3rciful/seerrbot/core/telegram/state"
	"github.com/m3rciful/seerrbot/internal/seerr"
)

// Search runs a title search for the chat. An empty query asks for a title and
// arms the awaiting-search flag so the next plain message is taken as the query.
func (s *Service) Search(ctx context.Context, chatID int64, query string) Reply {
	return s.search(ctx, chatID, query, false)
}

func (s *Service) search(ctx context.Context, chatID int64, query string, edit bool) Reply {
	query = strings.TrimSpace(query)
	if query == "" {
		if _, err := s.callers.Resolve(ctx, chatID); err != nil {
			return s.fail(ctx, "search", err, edit)
		}
		if err := s.sessions.SetAwaiting(ctx, state.KindAwaitSearch, chatID); err != nil {
			return s.fail(ctx, "search", err, edit)
		}
		return Reply{Text: "What should I look for? Send me a title.", Edit: edit, Outcome: OutcomeAwaitingTitle}
	}

	caller, err := s.callers.Resolve(ctx, chatID)
	if err != nil {
		return s.fail(ctx, "search", err, edit)
	}
	items, err := caller.API.Search(ctx, query)
	if err != nil {
		return s.fail(ctx, "search", err, edit)
	}
	items = s.trim(items)
	logger.Info(ctx, "flows", "search.results",
		slog.String("status", "ok"),
		slog.Int("count", len(items)),
	)
	if len(items) == 0 {
		return Reply{Text: fmt.Sprintf("Nothing found for %q.", query), Edit: edit, Outcome: OutcomeNoResults}
	}
	if err := s.sessions.SetPending(ctx, state.KindPendingSearch, chatKey(chatID), items); err != nil {
		return s.fail(ctx, "search", err, edit)
	}
	return Reply{
		Text:    "Pick a title to request:\n\n" + listItems(items),
		Buttons: itemButtons(CBSearch, "", items),
		Edit:    edit,
		Outcome: OutcomeResults,
	}
}

// PickSearch requests the idx-th cached search result.
func (s *Service) PickSearch(ctx context.Context, chatID int64, idx int) Reply {
	item, err := s.pick(ctx, chatID, state.KindPendingSearch, idx)
	if err != nil {
		return s.fail(ctx, "search.pick", err, true)
	}
	caller, err := s.callers.Resolve(ctx, chatID)
	if err != nil {
		return s.fail(ctx, "search.pick", err, true)
	}
	_ = s.sessions.ClearPending(ctx, state.KindPendingSearch, chatKey(chatID))
	s.rememberMedia(ctx, chatID, item)

	name := itemLabel(item)
	watchHint := "\nSend /watch this to get a message when it is ready."
	switch {
	case item.Available():
		return Reply{Text: name + " is already available to watch.", Edit: true, Outcome: OutcomeAlreadyAvailable}
	case item.InFlight():
		return Reply{Text: name + " has already been requested." + watchHint, Edit: true, Outcome: OutcomeAlreadyRequested}
	}

	_, err = caller.API.SubmitRequest(ctx, item.MediaType, item.ID)
	switch {
	case errors.Is(err, seerr.ErrDuplicateRequest):
		return Reply{Text: name + " has already been requested." + watchHint, Edit: true, Outcome: OutcomeAlreadyRequested}
	case err != nil:
		logger.Warn(ctx, "flows", "request.submit",
			slog.String("status", "fail"),
			slog.Int64("media_id", item.ID),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		return Reply{Text: "Could not request " + name + ". Please try again later.", Edit: true, Outcome: OutcomeRequestFailed}
	}
	logger.Info(ctx, "flows", "request.submit",
		slog.String("status", "ok"),
		slog.Int64("media_id", item.ID),
		slog.String("media_type", string(item.MediaType)),
	)
	return Reply{Text: "Requested " + name + "." + watchHint, Edit: true, Outcome: OutcomeRequested}
}

// CancelSearch drops the cached search results.
func (s *Service) CancelSearch(ctx context.Context, chatID int64) Reply {
	return s.cancel(ctx, chatID, state.KindPendingSearch)
}

// TrendingCategories offers the media types to browse.
func (s *Service) TrendingCategories() Reply {
	return Reply{
		Text: "What is trending in...",
		Buttons: [][]keyboard.InlineBtn{
			{
				{Text: "🎬 Movies", Unique: CBTrend, Data: string(seerr.Movie)},
				{Text: "📺 TV", Unique: CBTrend, Data: string(seerr.TV)},
			},
			cancelRow(CBTrend),
		},
		Outcome: OutcomeInfo,
	}
}

// ChooseTrending lists trending titles of mediaType.
func (s *Service) ChooseTrending(ctx context.Context, chatID int64, mediaType seerr.MediaType) Reply {
	if !mediaType.Valid() {
		return s.fail(ctx, "trending", ErrSessionExpired, true)
	}
	caller, err := s.callers.Resolve(ctx, chatID)
	if err != nil {
		return s.fail(ctx, "trending", err, true)
	}
	items, err := caller.API.Trending(ctx, mediaType)
	if err != nil {
		return s.fail(ctx, "trending", err, true)
	}
	items = s.trim(items)
	if len(items) == 0 {
		return Reply{Text: "Nothing is trending right now.", Edit: true, Outcome: OutcomeNoResults}
	}
	if err := s.sessions.SetPending(ctx, state.KindPendingTrending, chatKey(chatID), items); err != nil {
		return s.fail(ctx, "trending", err, true)
	}
	return Reply{
		Text:    "Trending now:\n\n" + listItems(items),
		Buttons: itemButtons(CBTrend, "idx:", items),
		Edit:    true,
		Outcome: OutcomeResults,
	}
}

// PickTrending re-runs the search by the picked title, never by id.
func (s *Service) PickTrending(ctx context.Context, chatID int64, idx int) Reply {
	item, err := s.pick(ctx, chatID, state.KindPendingTrending, idx)
	if err != nil {
		return s.fail(ctx, "trending.pick", err, true)
	}
	_ = s.sessions.ClearPending(ctx, state.KindPendingTrending, chatKey(chatID))
	return s.search(ctx, chatID, item.Title, true)
}

// CancelTrending drops the cached trending list.
func (s *Service) CancelTrending(ctx context.Context, chatID int64) Reply {
	return s.cancel(ctx, chatID, state.KindPendingTrending)
}

// Resume feeds text to a flow that is waiting for it. It reports false when
// no flow was waiting, consuming the flag either way. Slash commands are
// never taken as input and leave the flag armed.
func (s *Service) Resume(ctx context.Context, chatID int64, text string) (Reply, bool) {
	if strings.HasPrefix(strings.TrimSpace(text), "/") {
		return Reply{}, false
	}
	waiting, err := s.sessions.ConsumeAwaiting(ctx, state.KindAwaitSearch, chatID)
	if err != nil {
		return s.fail(ctx, "resume", err, false), true
	}
	if waiting {
		return s.Search(ctx, chatID, text), true
	}
	waiting, err = s.sessions.ConsumeAwaiting(ctx, state.KindAwaitWatch, chatID)
	if err != nil {
		return s.fail(ctx, "resume", err, false), true
	}
	if waiting {
		return s.Watch(ctx, chatID, text), true
	}
	return Reply{}, false
}

func (s *Service) trim(items []seerr.MediaItem) []seerr.MediaItem {
	if len(items) > s.maxResults {
		return items[:s.maxResults]
	}
	return items
}

func itemLabel(it seerr.MediaItem) string {
	if it.Year > 0 {
		return fmt.Sprintf("%s (%d)", it.Title, it.Year)
	}
	return it.Title
}

func listItems(items []seerr.MediaItem) string {
	var b strings.Builder
	for i, it := range items {
		fmt.Fprintf(&b, "%d. %s", i+1, itemLabel(it))
		if it.MediaType == seerr.TV {
			b.WriteString(" · TV")
		}
		switch {
		case it.Available():
			b.WriteString(" ✅")
		case it.InFlight():
			b.WriteString(" ⏳")
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// itemButtons puts one numbered button per result, then a cancel row.
func itemButtons(namespace, prefix string, items []seerr.MediaItem) [][]keyboard.InlineBtn {
	row := make([]keyboard.InlineBtn, 0, len(items))
	for i := range items {
		row = append(row, keyboard.InlineBtn{
			Text:   strconv.Itoa(i + 1),
			Unique: namespace,
			Data:   prefix + strconv.Itoa(i),
		})
	}
	return [][]keyboard.InlineBtn{row, cancelRow(namespace)}
}
