// Package keyboard builds inline keyboards from plain button descriptions.
package keyboard

import tele "gopkg.in/telebot.v4"

// MaxCallbackData is Telegram's limit on callback data, "\f" and "|" included.
const MaxCallbackData = 64

// InlineBtn is one inline button. A press arrives as "\f<Unique>|<Data>".
type InlineBtn struct {
	Text   string
	Unique string
	Data   string
}

// Fits reports whether the encoded callback data stays within MaxCallbackData.
func (b InlineBtn) Fits() bool {
	return len(b.Unique)+len(b.Data)+2 <= MaxCallbackData
}

// InlineButtonsRows lays rows out as an inline keyboard. Telegram rejects
// empty rows, so they are dropped.
func InlineButtonsRows(rows ...[]InlineBtn) *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		line := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			line = append(line, *m.Data(b.Text, b.Unique, b.Data).Inline())
		}
		m.InlineKeyboard = append(m.InlineKeyboard, line)
	}
	return m
}
