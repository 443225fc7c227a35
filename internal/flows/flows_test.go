package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m3rciful/seerrbot/core/telegram/state"
	"github.com/m3rciful/seerrbot/internal/intent"
	"github.com/m3rciful/seerrbot/internal/link"
	"github.com/m3rciful/seerrbot/internal/models"
	"github.com/m3rciful/seerrbot/internal/seerr"
	"github.com/m3rciful/seerrbot/internal/store"
	"github.com/m3rciful/seerrbot/internal/vault"
)

type fakeAPI struct {
	mu        sync.Mutex
	results   map[string][]seerr.MediaItem
	searches  []string
	submitted []int64
	submitErr error
	trending  []seerr.MediaItem
	pending   []seerr.Request
	decideErr error
	decided   []int64
	health    seerr.Health
	err       error
}

func (f *fakeAPI) Search(_ context.Context, q string) ([]seerr.MediaItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, q)
	if f.err != nil {
		return nil, f.err
	}
	return f.results[q], nil
}

func (f *fakeAPI) SubmitRequest(_ context.Context, _ seerr.MediaType, id int64) (seerr.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, id)
	if f.submitErr != nil {
		return seerr.Request{}, f.submitErr
	}
	return seerr.Request{ID: 1, TMDBID: id, Status: seerr.StatusPending}, nil
}

func (f *fakeAPI) MyRequests(context.Context) ([]seerr.Request, error) { return nil, f.err }

func (f *fakeAPI) PendingRequests(context.Context) ([]seerr.Request, error) {
	return f.pending, f.err
}

func (f *fakeAPI) Approve(_ context.Context, id int64) error { return f.decide(id) }
func (f *fakeAPI) Decline(_ context.Context, id int64) error { return f.decide(id) }

func (f *fakeAPI) decide(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decideErr != nil {
		return f.decideErr
	}
	f.decided = append(f.decided, id)
	return nil
}

func (f *fakeAPI) ServiceHealth(context.Context) (seerr.Health, error) { return f.health, f.err }

func (f *fakeAPI) Trending(context.Context, seerr.MediaType) ([]seerr.MediaItem, error) {
	return f.trending, f.err
}

func (f *fakeAPI) RecentlyAdded(context.Context) ([]seerr.MediaItem, error) { return nil, f.err }

type fakeResolver struct {
	api *fakeAPI
	mem *store.Memory
	err error
}

func (r *fakeResolver) Resolve(ctx context.Context, chatID int64) (Caller, error) {
	if r.err != nil {
		return Caller{}, r.err
	}
	acct, err := r.mem.GetAccount(ctx, chatID)
	if errors.Is(err, models.ErrNotFound) {
		return Caller{}, link.ErrNotLinked
	}
	if err != nil {
		return Caller{}, err
	}
	return Caller{ChatID: chatID, UserID: acct.UserID, API: r.api}, nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	svc      *Service
	api      *fakeAPI
	mem      *store.Memory
	sessions *state.Store
	resolver *fakeResolver
	clock    *testClock
}

const chat = int64(500)

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := &testClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	mem := store.NewMemory(clk.now)
	_ = mem.UpsertAccount(context.Background(), models.LinkedAccount{ChatID: chat, UserID: 50})
	mem.PutUser(50, models.RoleUser)
	api := &fakeAPI{results: map[string][]seerr.MediaItem{}}
	res := &fakeResolver{api: api, mem: mem}
	sessions := state.NewStore(state.NewMemoryKV(clk.now), state.Options{})
	svc := New(Options{
		Sessions: sessions,
		Callers:  res,
		Links:    link.NewService(mem, clk.now),
		Alerts:   mem,
	})
	return &harness{svc: svc, api: api, mem: mem, sessions: sessions, resolver: res, clock: clk}
}

var (
	dune    = seerr.MediaItem{ID: 438631, MediaType: seerr.Movie, Title: "Dune", Year: 2021}
	matrix  = seerr.MediaItem{ID: 603, MediaType: seerr.Movie, Title: "The Matrix", Year: 1999, Availability: seerr.AvailabilityAvailable}
	severed = seerr.MediaItem{ID: 95396, MediaType: seerr.TV, Title: "Severance", Requested: true}
)

func TestRequestIntentToSearchCachesOneResultSet(t *testing.T) {
	h := newHarness(t)
	h.api.results["Dune"] = []seerr.MediaItem{dune}

	res := intent.Default().Classify("I want to watch Dune please")
	if res.Kind != intent.Request || res.Title != "Dune" {
		t.Fatalf("classify = %+v", res)
	}
	r := h.svc.Search(context.Background(), chat, res.Title)
	if r.Outcome != OutcomeResults {
		t.Fatalf("outcome = %s (%s)", r.Outcome, r.Text)
	}
	if len(h.api.searches) != 1 || h.api.searches[0] != "Dune" {
		t.Fatalf("searches = %v", h.api.searches)
	}
	var cached []seerr.MediaItem
	ok, err := h.sessions.GetPending(context.Background(), state.KindPendingSearch, state.IDKey(chat), &cached)
	if err != nil || !ok || len(cached) != 1 || cached[0].ID != dune.ID {
		t.Fatalf("cached = %+v ok=%v err=%v", cached, ok, err)
	}
}

func TestPickAfterTTLIsExpired(t *testing.T) {
	h := newHarness(t)
	h.api.results["Dune"] = []seerr.MediaItem{dune}
	ctx := context.Background()

	h.svc.Search(ctx, chat, "Dune")
	h.clock.advance(state.DefaultTTL + time.Second)

	r := h.svc.PickSearch(ctx, chat, 0)
	if r.Outcome != OutcomeExpired || !r.Edit {
		t.Fatalf("reply = %+v", r)
	}
	if len(h.api.submitted) != 0 {
		t.Fatalf("submitted after expiry: %v", h.api.submitted)
	}
}

func TestPickOutOfBoundsIsExpired(t *testing.T) {
	h := newHarness(t)
	h.api.results["Dune"] = []seerr.MediaItem{dune}
	ctx := context.Background()
	h.svc.Search(ctx, chat, "Dune")

	for _, idx := range []int{-1, 1, 7} {
		if r := h.svc.PickSearch(ctx, chat, idx); r.Outcome != OutcomeExpired {
			t.Fatalf("idx %d: outcome = %s", idx, r.Outcome)
		}
	}
}

func TestPickOutcomes(t *testing.T) {
	cases := []struct {
		name      string
		item      seerr.MediaItem
		submitErr error
		want      Outcome
		submits   int
	}{
		{"available", matrix, nil, OutcomeAlreadyAvailable, 0},
		{"in flight", severed, nil, OutcomeAlreadyRequested, 0},
		{"submitted", dune, nil, OutcomeRequested, 1},
		{"duplicate", dune, seerr.ErrDuplicateRequest, OutcomeAlreadyRequested, 1},
		{"failed", dune, fmt.Errorf("%w: boom", seerr.ErrUpstream), OutcomeRequestFailed, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			h.api.results["q"] = []seerr.MediaItem{tc.item}
			h.api.submitErr = tc.submitErr
			h.svc.Search(ctx, chat, "q")

			r := h.svc.PickSearch(ctx, chat, 0)
			if r.Outcome != tc.want {
				t.Fatalf("outcome = %s, want %s (%s)", r.Outcome, tc.want, r.Text)
			}
			if len(h.api.submitted) != tc.submits {
				t.Fatalf("submits = %d, want %d", len(h.api.submitted), tc.submits)
			}
			if again := h.svc.PickSearch(ctx, chat, 0); again.Outcome != OutcomeExpired {
				t.Fatalf("second pick = %s", again.Outcome)
			}
		})
	}
}

func TestEmptyQueryAwaitsTitleOnce(t *testing.T) {
	h := newHarness(t)
	h.api.results["Dune"] = []seerr.MediaItem{dune}
	ctx := context.Background()

	if r := h.svc.Search(ctx, chat, "  "); r.Outcome != OutcomeAwaitingTitle {
		t.Fatalf("outcome = %s", r.Outcome)
	}
	r, handled := h.svc.Resume(ctx, chat, "Dune")
	if !handled || r.Outcome != OutcomeResults {
		t.Fatalf("resume: handled=%v reply=%+v", handled, r)
	}
	if _, handled := h.svc.Resume(ctx, chat, "Dune"); handled {
		t.Fatal("awaiting flag must be consumed once")
	}
}

func TestResumeIgnoresSlashCommands(t *testing.T) {
	h := newHarness(t)
	h.api.results["Dune"] = []seerr.MediaItem{dune}
	ctx := context.Background()

	h.svc.Search(ctx, chat, "")
	for _, text := range []string{"/find Dune", "  /unknown"} {
		if _, handled := h.svc.Resume(ctx, chat, text); handled {
			t.Fatalf("%q consumed the awaiting flag", text)
		}
	}
	if len(h.api.searches) != 0 {
		t.Fatalf("commands searched as titles: %v", h.api.searches)
	}
	r, handled := h.svc.Resume(ctx, chat, "Dune")
	if !handled || r.Outcome != OutcomeResults {
		t.Fatalf("flag should still be armed: handled=%v reply=%+v", handled, r)
	}
}

func TestConcurrentResumeHasOneOwner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.svc.Search(ctx, chat, "")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := h.svc.Resume(ctx, chat, "Dune"); ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("winners = %d", winners)
	}
}

func TestTrendingPickSearchesByTitle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.api.trending = []seerr.MediaItem{{ID: 1, MediaType: seerr.Movie, Title: "Oppenheimer"}}
	h.api.results["Oppenheimer"] = []seerr.MediaItem{{ID: 872585, MediaType: seerr.Movie, Title: "Oppenheimer", Year: 2023}}

	if r := h.svc.ChooseTrending(ctx, chat, seerr.Movie); r.Outcome != OutcomeResults {
		t.Fatalf("choose = %s", r.Outcome)
	}
	r := h.svc.PickTrending(ctx, chat, 0)
	if r.Outcome != OutcomeResults || !r.Edit {
		t.Fatalf("pick = %+v", r)
	}
	if len(h.api.searches) != 1 || h.api.searches[0] != "Oppenheimer" {
		t.Fatalf("searches = %v", h.api.searches)
	}
	if len(h.api.submitted) != 0 {
		t.Fatal("trending pick must not request directly")
	}
	if again := h.svc.PickTrending(ctx, chat, 0); again.Outcome != OutcomeExpired {
		t.Fatalf("second pick = %s", again.Outcome)
	}
}

func TestWatchThisUsesLastMedia(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.api.results["Dune"] = []seerr.MediaItem{dune}
	h.api.submitErr = seerr.ErrDuplicateRequest

	h.svc.Search(ctx, chat, "Dune")
	h.svc.PickSearch(ctx, chat, 0)
	searches := len(h.api.searches)

	r := h.svc.Watch(ctx, chat, "alert me when it's available")
	if r.Outcome != OutcomeAlertArmed {
		t.Fatalf("watch = %s (%s)", r.Outcome, r.Text)
	}
	if len(h.api.searches) != searches {
		t.Fatal("reference to last media must not search again")
	}
	a, ok := h.mem.Alert(chat, "movie", dune.ID)
	if !ok || !a.Active || a.UserID != 50 {
		t.Fatalf("alert = %+v ok=%v", a, ok)
	}
}

func TestWatchThisWithoutLastMediaAsksForTitle(t *testing.T) {
	h := newHarness(t)
	if r := h.svc.Watch(context.Background(), chat, "this"); r.Outcome != OutcomeAwaitingTitle {
		t.Fatalf("outcome = %s", r.Outcome)
	}
}

func TestWatchPickArmsAndRequests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.api.results["Dune"] = []seerr.MediaItem{dune}

	if r := h.svc.Watch(ctx, chat, "Dune"); r.Outcome != OutcomeResults {
		t.Fatalf("watch = %s", r.Outcome)
	}
	r := h.svc.PickWatch(ctx, chat, 0)
	if r.Outcome != OutcomeAlertArmed || !r.Edit {
		t.Fatalf("pick = %+v", r)
	}
	if len(h.api.submitted) != 1 || h.api.submitted[0] != dune.ID {
		t.Fatalf("arming must request an unrequested title: %v", h.api.submitted)
	}

	h.svc.Watch(ctx, chat, "Dune")
	h.svc.PickWatch(ctx, chat, 0)
	list, _ := h.mem.ListActiveAlerts(ctx, chat)
	if len(list) != 1 {
		t.Fatalf("alerts = %+v", list)
	}
}

func TestWatchArmReportsFailedRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.api.results["Dune"] = []seerr.MediaItem{dune}
	h.api.submitErr = errors.New("upstream down")

	h.svc.Watch(ctx, chat, "Dune")
	r := h.svc.PickWatch(ctx, chat, 0)
	if r.Outcome != OutcomeAlertArmed {
		t.Fatalf("pick = %+v", r)
	}
	if !strings.Contains(r.Text, "could not be submitted") {
		t.Fatalf("reply hides the failed request: %q", r.Text)
	}

	h.api.submitErr = seerr.ErrDuplicateRequest
	h.svc.Watch(ctx, chat, "Dune")
	r = h.svc.PickWatch(ctx, chat, 0)
	if strings.Contains(r.Text, "could not be submitted") {
		t.Fatalf("duplicate request reported as failure: %q", r.Text)
	}
}

func TestWatchAvailableDoesNotArm(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.api.results["Matrix"] = []seerr.MediaItem{matrix}
	h.svc.Watch(ctx, chat, "Matrix")

	if r := h.svc.PickWatch(ctx, chat, 0); r.Outcome != OutcomeAlreadyAvailable {
		t.Fatalf("outcome = %s", r.Outcome)
	}
	if _, ok := h.mem.Alert(chat, "movie", matrix.ID); ok {
		t.Fatal("no alert expected for an available title")
	}
}

func TestDisarm(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, _, _ := h.mem.CreateAlert(ctx, models.WatchAlert{ChatID: chat, UserID: 50, MediaType: "movie", TMDBID: 1, Title: "A"})

	r := h.svc.Disarm(ctx, chat, a.ID)
	if !r.Edit || len(r.Buttons) != 0 {
		t.Fatalf("reply = %+v", r)
	}
	if list, _ := h.mem.ListActiveAlerts(ctx, chat); len(list) != 0 {
		t.Fatalf("still active: %+v", list)
	}
}

func TestAdminChecksEveryAction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.api.pending = []seerr.Request{{ID: 12, Title: "Dune"}}

	if r := h.svc.Pending(ctx, chat); r.Outcome != OutcomeDenied {
		t.Fatalf("non-admin list = %s", r.Outcome)
	}

	h.mem.PutUser(50, models.RoleAdmin)
	r := h.svc.Pending(ctx, chat)
	if r.Outcome != OutcomeInfo || len(r.Buttons) != 2 {
		t.Fatalf("admin list = %+v", r)
	}

	h.mem.PutUser(50, models.RoleUser)
	if r := h.svc.Decide(ctx, chat, 12, true); r.Outcome != OutcomeDenied {
		t.Fatalf("demoted decide = %s", r.Outcome)
	}
	if len(h.api.decided) != 0 {
		t.Fatal("demoted admin must not decide")
	}
}

func TestDecideAlreadyDecided(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mem.PutUser(50, models.RoleAdmin)
	h.api.decideErr = seerr.ErrAlreadyDecided

	if r := h.svc.Decide(ctx, chat, 12, false); r.Outcome != OutcomeDecideFailed || !r.Edit {
		t.Fatalf("reply = %+v", r)
	}
}

func TestDecideRerendersList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mem.PutUser(50, models.RoleAdmin)

	r := h.svc.Decide(ctx, chat, 12, true)
	if r.Outcome != OutcomeDecided || len(h.api.decided) != 1 {
		t.Fatalf("reply = %+v decided=%v", r, h.api.decided)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Outcome
	}{
		{"not linked", link.ErrNotLinked, OutcomeNotLinked},
		{"integrity", fmt.Errorf("reveal: %w", &vault.IntegrityError{Reason: "tag"}), OutcomeRelink},
		{"upstream", fmt.Errorf("%w: 502", seerr.ErrUpstream), OutcomeUpstream},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.resolver.err = tc.err
			if r := h.svc.Search(context.Background(), chat, "Dune"); r.Outcome != tc.want {
				t.Fatalf("outcome = %s, want %s", r.Outcome, tc.want)
			}
		})
	}
}

func TestUpstreamSearchFailureIsApology(t *testing.T) {
	h := newHarness(t)
	h.api.err = fmt.Errorf("%w: 503", seerr.ErrUpstream)
	if r := h.svc.Search(context.Background(), chat, "Dune"); r.Outcome != OutcomeUpstream {
		t.Fatalf("outcome = %s", r.Outcome)
	}
}

func TestRefersToLastMedia(t *testing.T) {
	yes := []string{"this", "That one", "it", "alert me when available", "notify me when it's ready!", "please tell me when it is out"}
	no := []string{"Dune", "this is us", "alert me", "that 70s show"}
	for _, s := range yes {
		if !RefersToLastMedia(s) {
			t.Fatalf("%q should refer to last media", s)
		}
	}
	for _, s := range no {
		if RefersToLastMedia(s) {
			t.Fatalf("%q should not refer to last media", s)
		}
	}
}

func TestFormatHealth(t *testing.T) {
	got := FormatHealth(seerr.Health{Services: []seerr.ServiceStatus{
		{Name: "plex", Healthy: true, LatencyMS: 12},
		{Name: "radarr", Healthy: false, Message: "timeout"},
	}})
	want := "Some services need attention.\n✅ plex 12ms\n❌ radarr: timeout"
	if got != want {
		t.Fatalf("got %q", got)
	}
}
