package notify

import (
	"context"
	"fmt"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/seerrbot/core/telegram"
)

// TelegramNotifier sends plain messages through the Bot API. It owns its own
// offline bot with a single-shot HTTP client: a send that times out is
// dropped, never repeated.
type TelegramNotifier struct {
	bot *tele.Bot
}

// NewTelegramNotifier builds a notifier for token. apiURL may be empty.
func NewTelegramNotifier(token, apiURL string, timeout time.Duration) (*TelegramNotifier, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:   token,
		URL:     apiURL,
		Client:  telegram.BuildSingleShotClient(timeout),
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("notify: telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: bot}, nil
}

// Notify implements Notifier.
func (n *TelegramNotifier) Notify(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := n.bot.Send(tele.ChatID(chatID), text); err != nil {
		return fmt.Errorf("notify: send to %d: %w", chatID, err)
	}
	return nil
}
