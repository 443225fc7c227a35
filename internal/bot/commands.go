package bot

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/m3rciful/seerrbot/core/logger"
	"github.com/m3rciful/seerrbot/core/telegram/commands"
	"github.com/m3rciful/seerrbot/core/telegram/format"
	tghelpers "github.com/m3rciful/seerrbot/core/telegram/helpers"
	"github.com/m3rciful/seerrbot/internal/flows"
	"github.com/m3rciful/seerrbot/internal/link"
	"github.com/m3rciful/seerrbot/internal/models"

	tele "gopkg.in/telebot.v4"
)

// chatCmd adapts a flows call that only needs the chat and the command payload.
func (b *Bot) chatCmd(fn func(c tele.Context, chatID int64, payload string) flows.Reply) tele.HandlerFunc {
	return func(c tele.Context) error {
		chat := c.Chat()
		if chat == nil {
			return nil
		}
		return render(c, fn(c, chat.ID, strings.TrimSpace(c.Message().Payload)))
	}
}

func (b *Bot) commands() map[string]commands.Command {
	return map[string]commands.Command{
		"/start": {Handler: b.start, Description: "Welcome and account status", Hidden: true},
		"/help":  {Handler: b.help, Description: "What I can do"},
		"/link": {Description: "Link your media server account", Handler: b.chatCmd(func(c tele.Context, id int64, _ string) flows.Reply {
			username := ""
			if s := c.Sender(); s != nil {
				username = s.Username
			}
			return b.flows.Link(ctxOf(c), id, username)
		})},
		"/unlink": {Description: "Forget the linked account", Handler: b.chatCmd(func(c tele.Context, id int64, _ string) flows.Reply {
			return b.flows.Unlink(ctxOf(c), id)
		})},
		"/search": {Description: "Find and request a title", Aliases: []string{"find"}, Handler: b.chatCmd(func(c tele.Context, id int64, q string) flows.Reply {
			return b.flows.Search(ctxOf(c), id, q)
		})},
		"/trending": {Description: "Browse trending movies and shows", Handler: b.chatCmd(func(tele.Context, int64, string) flows.Reply {
			return b.flows.TrendingCategories()
		})},
		"/watch": {Description: "Get notified when a title is available", Handler: b.chatCmd(func(c tele.Context, id int64, q string) flows.Reply {
			return b.flows.Watch(ctxOf(c), id, q)
		})},
		"/alerts": {Description: "Your active alerts", Handler: b.chatCmd(func(c tele.Context, id int64, _ string) flows.Reply {
			return b.flows.Alerts(ctxOf(c), id)
		})},
		"/requests": {Description: "Your requests and their status", Handler: b.chatCmd(func(c tele.Context, id int64, _ string) flows.Reply {
			return b.flows.MyRequests(ctxOf(c), id)
		})},
		"/recent": {Description: "Recently added to the library", Handler: b.chatCmd(func(c tele.Context, id int64, _ string) flows.Reply {
			return b.flows.Recent(ctxOf(c), id)
		})},
		"/health": {Description: "Service health", AdminOnly: true, Handler: b.chatCmd(func(c tele.Context, id int64, _ string) flows.Reply {
			return b.flows.Health(ctxOf(c), id)
		})},
		"/pending": {Description: "Requests waiting for approval", AdminOnly: true, Handler: b.chatCmd(func(c tele.Context, id int64, _ string) flows.Reply {
			return b.flows.Pending(ctxOf(c), id)
		})},
		"/cancel": {Description: "Stop what we are doing", Handler: b.chatCmd(func(c tele.Context, id int64, _ string) flows.Reply {
			b.flows.Reset(ctxOf(c), id)
			return flows.Reply{Text: "Cancelled.", Outcome: flows.OutcomeCancelled}
		})},
	}
}

func (b *Bot) start(c tele.Context) error {
	ctx := ctxOf(c)
	name := "there"
	if s := c.Sender(); s != nil && s.FirstName != "" {
		name = s.FirstName
	}
	escaped, err := format.EscapeMarkdown(name, format.MarkdownV2)
	if err != nil {
		return err
	}
	greeting := fmt.Sprintf("Hi %s\\!", escaped)

	acct, err := tghelpers.CurrentAccount[models.LinkedAccount](c, b.accounts)
	switch {
	case err == nil && acct.ChatID != 0:
		greeting += " Your account is linked\\. Send a title or use /search to request something\\."
	case err == nil || errors.Is(err, link.ErrNotLinked):
		greeting += " Send /link to connect your media server account first\\."
	default:
		logger.Warn(ctx, "tg", "start.lookup",
			slog.String("status", logger.Status(err)),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		greeting += " Send /help to see what I can do\\."
	}
	return tghelpers.SendMDV2(c, greeting)
}

func (b *Bot) help(c tele.Context) error {
	var cmds []tele.Command
	admin := b.isAdmin(c)
	for name, cmd := range b.commands() {
		if cmd.Hidden || (cmd.AdminOnly && !admin) {
			continue
		}
		cmds = append(cmds, tele.Command{Text: name, Description: cmd.Description})
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Text < cmds[j].Text })
	return render(c, flows.Reply{Text: helpText(cmds), Outcome: flows.OutcomeInfo})
}

func helpText(cmds []tele.Command) string {
	var sb strings.Builder
	sb.WriteString("You can write to me in plain words, like \"I want to watch Dune\" or \"is plex down?\".\n\nCommands:")
	for _, cmd := range cmds {
		fmt.Fprintf(&sb, "\n%s - %s", cmd.Text, cmd.Description)
	}
	return sb.String()
}
