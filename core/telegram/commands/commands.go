// Package commands defines the slash command table entries.
package commands

import (
	tele "gopkg.in/telebot.v4"
)

// Command is one slash command. Aliases share the handler; AdminOnly
// commands are checked against the linked account's role on every call.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	AdminOnly   bool
	Hidden      bool
	Aliases     []string
}

// InMenu reports whether the command belongs in the public Telegram menu.
func (c Command) InMenu() bool {
	return !c.Hidden && !c.AdminOnly && c.Description != ""
}
