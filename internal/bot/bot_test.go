package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	tg "github.com/m3rciful/seerrbot/core/telegram"
	"github.com/m3rciful/seerrbot/core/telegram/keyboard"
	"github.com/m3rciful/seerrbot/internal/flows"
	"github.com/m3rciful/seerrbot/internal/link"
	"github.com/m3rciful/seerrbot/internal/models"
	"github.com/m3rciful/seerrbot/internal/seerr"

	tele "gopkg.in/telebot.v4"
)

// fakeFlows records every call as "Method(args)".
type fakeFlows struct {
	calls   []string
	waiting bool
}

func (f *fakeFlows) rec(format string, args ...any) flows.Reply {
	call := fmt.Sprintf(format, args...)
	f.calls = append(f.calls, call)
	return flows.Reply{Text: call}
}

func (f *fakeFlows) last() string {
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeFlows) Search(_ context.Context, id int64, q string) flows.Reply {
	return f.rec("Search(%d,%s)", id, q)
}
func (f *fakeFlows) PickSearch(_ context.Context, id int64, i int) flows.Reply {
	return f.rec("PickSearch(%d,%d)", id, i)
}
func (f *fakeFlows) CancelSearch(_ context.Context, id int64) flows.Reply {
	return f.rec("CancelSearch(%d)", id)
}
func (f *fakeFlows) TrendingCategories() flows.Reply { return f.rec("TrendingCategories()") }
func (f *fakeFlows) ChooseTrending(_ context.Context, id int64, mt seerr.MediaType) flows.Reply {
	return f.rec("ChooseTrending(%d,%s)", id, mt)
}
func (f *fakeFlows) PickTrending(_ context.Context, id int64, i int) flows.Reply {
	return f.rec("PickTrending(%d,%d)", id, i)
}
func (f *fakeFlows) CancelTrending(_ context.Context, id int64) flows.Reply {
	return f.rec("CancelTrending(%d)", id)
}
func (f *fakeFlows) Resume(_ context.Context, id int64, text string) (flows.Reply, bool) {
	if !f.waiting {
		return flows.Reply{}, false
	}
	f.waiting = false
	return f.rec("Resume(%d,%s)", id, text), true
}
func (f *fakeFlows) Watch(_ context.Context, id int64, text string) flows.Reply {
	return f.rec("Watch(%d,%s)", id, text)
}
func (f *fakeFlows) PickWatch(_ context.Context, id int64, i int) flows.Reply {
	return f.rec("PickWatch(%d,%d)", id, i)
}
func (f *fakeFlows) CancelWatch(_ context.Context, id int64) flows.Reply {
	return f.rec("CancelWatch(%d)", id)
}
func (f *fakeFlows) Alerts(_ context.Context, id int64) flows.Reply { return f.rec("Alerts(%d)", id) }
func (f *fakeFlows) Disarm(_ context.Context, id, alert int64) flows.Reply {
	return f.rec("Disarm(%d,%d)", id, alert)
}
func (f *fakeFlows) Pending(_ context.Context, id int64) flows.Reply { return f.rec("Pending(%d)", id) }
func (f *fakeFlows) Decide(_ context.Context, id, req int64, approve bool) flows.Reply {
	return f.rec("Decide(%d,%d,%t)", id, req, approve)
}
func (f *fakeFlows) ApproveAll(_ context.Context, id int64) flows.Reply {
	return f.rec("ApproveAll(%d)", id)
}
func (f *fakeFlows) Health(_ context.Context, id int64) flows.Reply { return f.rec("Health(%d)", id) }
func (f *fakeFlows) MyRequests(_ context.Context, id int64) flows.Reply {
	return f.rec("MyRequests(%d)", id)
}
func (f *fakeFlows) Recent(_ context.Context, id int64) flows.Reply { return f.rec("Recent(%d)", id) }
func (f *fakeFlows) Link(_ context.Context, id int64, user string) flows.Reply {
	return f.rec("Link(%d,%s)", id, user)
}
func (f *fakeFlows) Unlink(_ context.Context, id int64) flows.Reply { return f.rec("Unlink(%d)", id) }
func (f *fakeFlows) Reset(_ context.Context, id int64)              { f.rec("Reset(%d)", id) }

type fakeAccounts struct {
	admins map[int64]bool
	linked map[int64]bool
	err    error
}

func (a fakeAccounts) Lookup(_ context.Context, id int64) (models.LinkedAccount, error) {
	if a.err != nil {
		return models.LinkedAccount{}, a.err
	}
	if !a.linked[id] {
		return models.LinkedAccount{}, link.ErrNotLinked
	}
	return models.LinkedAccount{ChatID: id, UserID: 7}, nil
}

func (a fakeAccounts) IsAdmin(_ context.Context, id int64) (bool, error) {
	if a.err != nil {
		return false, a.err
	}
	return a.admins[id], nil
}

// fakeCtx captures what handlers send or edit.
type fakeCtx struct {
	tele.Context
	chat    *tele.Chat
	sender  *tele.User
	msg     *tele.Message
	cb      *tele.Callback
	store   map[string]any
	sent    []string
	opts    []*tele.SendOptions
	edited  []string
	editErr error
}

func newCtx(chatID int64, text string) *fakeCtx {
	return &fakeCtx{
		chat:   &tele.Chat{ID: chatID},
		sender: &tele.User{ID: chatID, FirstName: "Ann_B", Username: "annb"},
		msg:    &tele.Message{Text: text},
		store:  map[string]any{},
	}
}

func (f *fakeCtx) Chat() *tele.Chat         { return f.chat }
func (f *fakeCtx) Sender() *tele.User       { return f.sender }
func (f *fakeCtx) Message() *tele.Message   { return f.msg }
func (f *fakeCtx) Callback() *tele.Callback { return f.cb }
func (f *fakeCtx) Text() string             { return f.msg.Text }
func (f *fakeCtx) Update() tele.Update      { return tele.Update{ID: 1, Message: f.msg, Callback: f.cb} }
func (f *fakeCtx) Get(key string) any       { return f.store[key] }
func (f *fakeCtx) Set(key string, v any)    { f.store[key] = v }

func (f *fakeCtx) Respond(...*tele.CallbackResponse) error { return nil }

func (f *fakeCtx) Send(what any, opts ...any) error {
	f.sent = append(f.sent, fmt.Sprint(what))
	for _, o := range opts {
		if so, ok := o.(*tele.SendOptions); ok {
			f.opts = append(f.opts, so)
		}
	}
	return nil
}

func (f *fakeCtx) Edit(what any, _ ...any) error {
	if f.editErr != nil {
		return f.editErr
	}
	f.edited = append(f.edited, fmt.Sprint(what))
	return nil
}

func TestCallbackDecoding(t *testing.T) {
	cases := []struct {
		ns, payload, want string
	}{
		{flows.CBSearch, "2", "PickSearch(5,2)"},
		{flows.CBSearch, "cancel", "CancelSearch(5)"},
		{flows.CBTrend, "movie", "ChooseTrending(5,movie)"},
		{flows.CBTrend, "tv", "ChooseTrending(5,tv)"},
		{flows.CBTrend, "idx:1", "PickTrending(5,1)"},
		{flows.CBTrend, "cancel", "CancelTrending(5)"},
		{flows.CBWatch, "0", "PickWatch(5,0)"},
		{flows.CBWatch, "cancel", "CancelWatch(5)"},
		{flows.CBAlert, "off:9", "Disarm(5,9)"},
		{flows.CBAdmin, "approve:41", "Decide(5,41,true)"},
		{flows.CBAdmin, "deny:41", "Decide(5,41,false)"},
		{flows.CBAdmin, "all", "ApproveAll(5)"},
	}
	for _, tc := range cases {
		f := &fakeFlows{}
		b := New(f, fakeAccounts{}, nil)
		if _, ok := b.Callback(context.Background(), 5, tc.ns, tc.payload); !ok {
			t.Fatalf("%s|%s rejected", tc.ns, tc.payload)
		}
		if f.last() != tc.want {
			t.Fatalf("%s|%s called %q, want %q", tc.ns, tc.payload, f.last(), tc.want)
		}
	}
}

func TestCallbackRejectsMalformed(t *testing.T) {
	bad := [][2]string{
		{flows.CBSearch, "-1"},
		{flows.CBSearch, "x"},
		{flows.CBTrend, "anime"},
		{flows.CBTrend, "idx:"},
		{flows.CBAlert, "on:3"},
		{flows.CBAdmin, "approve:abc"},
		{flows.CBAdmin, "ban:3"},
		{"unknown", "1"},
	}
	for _, in := range bad {
		f := &fakeFlows{}
		b := New(f, fakeAccounts{}, nil)
		if _, ok := b.Callback(context.Background(), 5, in[0], in[1]); ok {
			t.Fatalf("%s|%s accepted", in[0], in[1])
		}
		if len(f.calls) != 0 {
			t.Fatalf("%s|%s reached flows: %v", in[0], in[1], f.calls)
		}
	}
}

func TestConverseRouting(t *testing.T) {
	cases := map[string]string{
		"is plex down?":                "Health(3)",
		"I want to watch Dune please":  "Search(3,Dune)",
		"alert me when it's available": "Watch(3,alert me when it's available)",
		"this one":                     "Watch(3,this one)",
	}
	for text, want := range cases {
		f := &fakeFlows{}
		b := New(f, fakeAccounts{}, nil)
		b.Converse(context.Background(), 3, text)
		if f.last() != want {
			t.Fatalf("%q called %q, want %q", text, f.last(), want)
		}
	}
}

func TestConverseUnrecognized(t *testing.T) {
	f := &fakeFlows{}
	b := New(f, fakeAccounts{}, nil)
	r := b.Converse(context.Background(), 3, "good morning")
	if len(f.calls) != 0 || r.Text != msgUnrecognized {
		t.Fatalf("calls %v reply %q", f.calls, r.Text)
	}
}

func TestResumeConsumesOnlyWhenWaiting(t *testing.T) {
	f := &fakeFlows{}
	b := New(f, fakeAccounts{}, nil)

	c := newCtx(8, "Arrival")
	if consumed, err := b.Resume(c); consumed || err != nil {
		t.Fatalf("consumed %v err %v with nothing waiting", consumed, err)
	}

	f.waiting = true
	consumed, err := b.Resume(c)
	if !consumed || err != nil {
		t.Fatalf("consumed %v err %v", consumed, err)
	}
	if len(c.sent) != 1 || c.sent[0] != "Resume(8,Arrival)" {
		t.Fatalf("sent %v", c.sent)
	}
}

func TestRenderEditsOnCallback(t *testing.T) {
	c := newCtx(1, "")
	c.cb = &tele.Callback{Data: "\fsearch|0"}
	if err := render(c, flows.Reply{Text: "done", Edit: true}); err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(c.edited) != 1 || len(c.sent) != 0 {
		t.Fatalf("edited %v sent %v", c.edited, c.sent)
	}
}

func TestRenderFallsBackToSend(t *testing.T) {
	c := newCtx(1, "")
	c.cb = &tele.Callback{Data: "\fsearch|0"}
	c.editErr = errors.New("message to edit not found")
	buttons := [][]keyboard.InlineBtn{{{Text: "A", Unique: flows.CBSearch, Data: "0"}}}
	if err := render(c, flows.Reply{Text: "list", Edit: true, Buttons: buttons}); err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(c.sent) != 1 || c.sent[0] != "list" {
		t.Fatalf("sent %v", c.sent)
	}
	if c.opts[0].ReplyMarkup == nil || len(c.opts[0].ReplyMarkup.InlineKeyboard) != 1 {
		t.Fatalf("buttons not rendered: %+v", c.opts[0])
	}
}

func TestRenderWithoutCallbackSends(t *testing.T) {
	c := newCtx(1, "hi")
	if err := render(c, flows.Reply{Text: "x", Edit: true}); err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(c.sent) != 1 || len(c.edited) != 0 {
		t.Fatalf("edited %v sent %v", c.edited, c.sent)
	}
}

func TestRegisterWiresNamespacesAndCommands(t *testing.T) {
	reg := tg.NewRegistry()
	b := New(&fakeFlows{}, fakeAccounts{}, nil)
	if err := b.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, ns := range []string{flows.CBSearch, flows.CBTrend, flows.CBWatch, flows.CBAlert, flows.CBAdmin} {
		if _, ok := reg.GetCallback(ns); !ok {
			t.Fatalf("callback %s not registered", ns)
		}
	}
	for _, name := range []string{"/health", "/pending"} {
		if _, cmd, ok := reg.LookupCommand(name); !ok || !cmd.AdminOnly {
			t.Fatalf("%s missing or not admin-only", name)
		}
	}
	if reg.TextFallback() == nil {
		t.Fatalf("text fallback not set")
	}
	for _, cmd := range reg.ListCommands(true) {
		if cmd.Text == "/health" || cmd.Text == "/start" {
			t.Fatalf("%s should not be in the public menu", cmd.Text)
		}
	}
}

func TestCallbackHandlerStaleButton(t *testing.T) {
	f := &fakeFlows{}
	b := New(f, fakeAccounts{}, nil)
	c := newCtx(4, "")
	c.cb = &tele.Callback{Data: "\fadm|ban:1"}
	if err := b.onCallback(flows.CBAdmin)(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(f.calls) != 0 || len(c.edited) != 1 || c.edited[0] != msgStaleButton {
		t.Fatalf("calls %v edited %v", f.calls, c.edited)
	}
}

func TestHelpHidesAdminCommands(t *testing.T) {
	b := New(&fakeFlows{}, fakeAccounts{admins: map[int64]bool{2: true}}, nil)

	user := newCtx(1, "/help")
	_ = b.help(user)
	if strings.Contains(user.sent[0], "/pending") {
		t.Fatalf("non-admin sees admin commands: %s", user.sent[0])
	}

	admin := newCtx(2, "/help")
	_ = b.help(admin)
	if !strings.Contains(admin.sent[0], "/pending") || !strings.Contains(admin.sent[0], "/health") {
		t.Fatalf("admin misses admin commands: %s", admin.sent[0])
	}
}

func TestStartGreetingEscapesName(t *testing.T) {
	b := New(&fakeFlows{}, fakeAccounts{linked: map[int64]bool{1: true}}, nil)
	c := newCtx(1, "/start")
	if err := b.start(c); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !strings.HasPrefix(c.sent[0], `Hi Ann\_B\!`) || !strings.Contains(c.sent[0], "linked") {
		t.Fatalf("greeting = %q", c.sent[0])
	}
	if c.opts[0].ParseMode != tele.ModeMarkdownV2 {
		t.Fatalf("parse mode = %q", c.opts[0].ParseMode)
	}

	unlinked := newCtx(9, "/start")
	_ = b.start(unlinked)
	if !strings.Contains(unlinked.sent[0], "/link") {
		t.Fatalf("unlinked greeting = %q", unlinked.sent[0])
	}
}

func TestAdminCheckFailsClosed(t *testing.T) {
	b := New(&fakeFlows{}, fakeAccounts{err: errors.New("db down")}, nil)
	if b.isAdmin(newCtx(2, "")) {
		t.Fatalf("lookup error treated as admin")
	}
}
