package helpers

import (
	"context"
	"errors"
	"testing"

	"github.com/m3rciful/seerrbot/core/logger"

	tele "gopkg.in/telebot.v4"
)

type fakeCtx struct {
	tele.Context
	upd   tele.Update
	chat  *tele.Chat
	store map[string]any
	sent  []any
}

func newFakeCtx(updateID int, chatID int64) *fakeCtx {
	c := &fakeCtx{upd: tele.Update{ID: updateID}, store: map[string]any{}}
	if chatID != 0 {
		c.chat = &tele.Chat{ID: chatID}
	}
	return c
}

func (c *fakeCtx) Update() tele.Update       { return c.upd }
func (c *fakeCtx) Chat() *tele.Chat          { return c.chat }
func (c *fakeCtx) Sender() *tele.User        { return &tele.User{ID: 42} }
func (c *fakeCtx) Get(key string) any        { return c.store[key] }
func (c *fakeCtx) Set(key string, v any)     { c.store[key] = v }
func (c *fakeCtx) Send(what any, opts ...any) error {
	c.sent = append(c.sent, what)
	c.sent = append(c.sent, opts...)
	return nil
}

type accounts map[int64]string

func (a accounts) Lookup(_ context.Context, chatID int64) (string, error) {
	name, ok := a[chatID]
	if !ok {
		return "", errors.New("not linked")
	}
	return name, nil
}

func TestCurrentAccount(t *testing.T) {
	src := accounts{7: "alice"}
	got, err := CurrentAccount[string](newFakeCtx(1, 7), src)
	if err != nil || got != "alice" {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := CurrentAccount[string](newFakeCtx(1, 8), src); err == nil {
		t.Fatalf("unlinked chat should fail")
	}
	got, err = CurrentAccount[string](newFakeCtx(1, 0), src)
	if err != nil || got != "" {
		t.Fatalf("chatless update: %q, %v", got, err)
	}
}

func TestBuildContextIsCached(t *testing.T) {
	c := newFakeCtx(5, 9)
	first := BuildContext(c)
	if logger.RIDFrom(first) != "5:9:42" {
		t.Fatalf("rid = %q", logger.RIDFrom(first))
	}
	tagged := WithHandler(c, "cmd.start")
	if BuildContext(c) != tagged {
		t.Fatalf("handler context not stored")
	}
	if logger.HandlerFrom(BuildContext(c)) != "cmd.start" {
		t.Fatalf("handler = %q", logger.HandlerFrom(BuildContext(c)))
	}
}

func TestSendTextWithoutDispatcherIsInline(t *testing.T) {
	SetDispatcher(nil)
	c := newFakeCtx(1, 1)
	if err := SendMDV2(c, "hi\\!"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(c.sent) != 2 || c.sent[0] != "hi\\!" {
		t.Fatalf("sent = %v", c.sent)
	}
	opts, ok := c.sent[1].(*tele.SendOptions)
	if !ok || opts.ParseMode != tele.ModeMarkdownV2 {
		t.Fatalf("options = %#v", c.sent[1])
	}
}
