package middleware

import tele "gopkg.in/telebot.v4"

// Update kinds as used by rate limit exclusions and metric labels.
const (
	KindCallback    = "callback"
	KindMessage     = "message"
	KindInlineQuery = "inline_query"
	KindOther       = "other"
)

// UpdateKind classifies upd by the part of it that carries the payload.
func UpdateKind(upd tele.Update) string {
	switch {
	case upd.Callback != nil:
		return KindCallback
	case upd.Message != nil:
		return KindMessage
	case upd.Query != nil:
		return KindInlineQuery
	default:
		return KindOther
	}
}
