package helpers

import (
	"context"

	tele "gopkg.in/telebot.v4"
)

// AccountSource maps a chat to the account it is linked to.
type AccountSource[T any] interface {
	Lookup(ctx context.Context, chatID int64) (T, error)
}

// CurrentAccount looks up the account linked to the chat of c. Updates
// without a chat, or a nil source, yield the zero T.
func CurrentAccount[T any](c tele.Context, src AccountSource[T]) (T, error) {
	var zero T
	chat := c.Chat()
	if src == nil || chat == nil {
		return zero, nil
	}
	return src.Lookup(BuildContext(c), chat.ID)
}
