// Package ui holds the contracts between the routers and the bot's replies.
package ui

import tele "gopkg.in/telebot.v4"

// FallbackProvider answers updates no route claimed: free text with no
// intent and no pending prompt, stray files, and stale or foreign buttons.
type FallbackProvider interface {
	UnknownText() tele.HandlerFunc
	UnknownDocument() tele.HandlerFunc
	UnknownCallback() tele.HandlerFunc
}
