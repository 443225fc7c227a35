package bot

import (
	"context"
	"errors"
	"log/slog"

	"github.com/m3rciful/seerrbot/core/logger"
	tghelpers "github.com/m3rciful/seerrbot/core/telegram/helpers"
	"github.com/m3rciful/seerrbot/core/telegram/keyboard"
	"github.com/m3rciful/seerrbot/internal/flows"

	tele "gopkg.in/telebot.v4"
)

func ctxOf(c tele.Context) context.Context { return tghelpers.BuildContext(c) }

// sendOptions renders the reply's buttons. Replies are plain text.
func sendOptions(r flows.Reply) *tele.SendOptions {
	opts := &tele.SendOptions{DisableWebPagePreview: true}
	if len(r.Buttons) > 0 {
		opts.ReplyMarkup = keyboard.InlineButtonsRows(r.Buttons...)
	}
	return opts
}

// render shows r. A reply to a button press edits the message carrying the
// button; if that edit fails the reply is sent as a new message.
func render(c tele.Context, r flows.Reply) error {
	if r.Text == "" {
		return nil
	}
	opts := sendOptions(r)
	if r.Edit && c.Callback() != nil {
		err := c.Edit(r.Text, opts)
		if err == nil || errors.Is(err, tele.ErrSameMessageContent) {
			return nil
		}
		logger.Debug(ctxOf(c), "tg", "edit.fallback",
			slog.String("outcome", string(r.Outcome)),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
	}
	return tghelpers.SendText(c, r.Text, opts)
}
