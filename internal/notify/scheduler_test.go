package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/m3rciful/seerrbot/core/telegram/state"
	"github.com/m3rciful/seerrbot/internal/models"
	"github.com/m3rciful/seerrbot/internal/seerr"
	"github.com/m3rciful/seerrbot/internal/store"
)

type sentMsg struct {
	chatID int64
	text   string
}

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []sentMsg
	calls   int
	failAll bool
	failFor map[int64]bool
}

func (f *fakeNotifier) Notify(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAll || f.failFor[chatID] {
		return errors.New("telegram: bad gateway")
	}
	f.sent = append(f.sent, sentMsg{chatID: chatID, text: text})
	return nil
}

func (f *fakeNotifier) messages() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.sent...)
}

type fakeHealth struct {
	mu    sync.Mutex
	asked []int64
	fail  map[int64]bool
}

func (f *fakeHealth) HealthFor(_ context.Context, acct models.LinkedAccount) (seerr.Health, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, acct.ChatID)
	if f.fail[acct.ChatID] {
		return seerr.Health{}, errors.New("unauthorized")
	}
	return seerr.Health{Services: []seerr.ServiceStatus{{Name: "radarr", Healthy: true}}}, nil
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

func (c *testClock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	clock    *testClock
	mem      *store.Memory
	locker   *store.MemoryLocker
	sessions *state.Store
	notifier *fakeNotifier
	health   *fakeHealth
	metrics  *Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := &testClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	return &fixture{
		clock:    clk,
		mem:      store.NewMemory(clk.now),
		locker:   store.NewMemoryLocker(),
		sessions: state.NewStore(state.NewMemoryKV(clk.now), state.Options{}),
		notifier: &fakeNotifier{failFor: map[int64]bool{}},
		health:   &fakeHealth{fail: map[int64]bool{}},
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
}

func (f *fixture) scheduler() *Scheduler {
	return New(Options{
		Store:      f.mem,
		Locker:     f.locker,
		Notifier:   f.notifier,
		Health:     f.health,
		Sessions:   f.sessions,
		Metrics:    f.metrics,
		DigestHour: 9,
		Now:        f.clock.now,
	})
}

func (f *fixture) link(t *testing.T, chatID, userID int64, role string) {
	t.Helper()
	if err := f.mem.UpsertAccount(context.Background(), models.LinkedAccount{ChatID: chatID, UserID: userID}); err != nil {
		t.Fatalf("link: %v", err)
	}
	f.mem.PutUser(userID, role)
}

func (f *fixture) request(id, userID, tmdbID int64, status, reason string) {
	f.mem.PutMediaRequest(models.MediaRequest{
		ID:            id,
		UserID:        userID,
		MediaType:     "movie",
		TMDBID:        tmdbID,
		Title:         "Dune",
		Status:        status,
		FailureReason: models.StringPtr(reason),
		UpdatedAt:     f.clock.now(),
	})
}

func TestStatusFirstObservationOnlyRecordsBaseline(t *testing.T) {
	f := newFixture(t)
	f.link(t, 1, 10, models.RoleUser)
	f.request(100, 10, 438631, seerr.StatusDownloading, "")
	s := f.scheduler()
	ctx := context.Background()

	if !s.RunStatus(ctx) {
		t.Fatalf("expected status run to take the lock")
	}
	if got := f.notifier.messages(); len(got) != 0 {
		t.Fatalf("first observation sent %d messages", len(got))
	}
	st, err := f.mem.GetState(ctx, 1, 100)
	if err != nil {
		t.Fatalf("baseline not persisted: %v", err)
	}
	if st.LastStatus != seerr.StatusDownloading {
		t.Fatalf("baseline status = %q", st.LastStatus)
	}

	s.RunStatus(ctx)
	if got := f.notifier.messages(); len(got) != 0 {
		t.Fatalf("unchanged status sent %d messages", len(got))
	}

	f.request(100, 10, 438631, seerr.StatusAvailable, "")
	s.RunStatus(ctx)
	got := f.notifier.messages()
	if len(got) != 1 {
		t.Fatalf("status change sent %d messages, want 1", len(got))
	}
	if got[0].chatID != 1 || !strings.Contains(got[0].text, "available") {
		t.Fatalf("unexpected message %+v", got[0])
	}
}

func TestStatusFailedReasonChangeNotifies(t *testing.T) {
	f := newFixture(t)
	f.link(t, 1, 10, models.RoleUser)
	f.request(100, 10, 1, seerr.StatusFailed, "no seeders")
	s := f.scheduler()
	ctx := context.Background()

	s.RunStatus(ctx)
	s.RunStatus(ctx)
	if n := len(f.notifier.messages()); n != 0 {
		t.Fatalf("same failure reason sent %d messages", n)
	}

	f.request(100, 10, 1, seerr.StatusFailed, "disk full")
	s.RunStatus(ctx)
	got := f.notifier.messages()
	if len(got) != 1 || !strings.Contains(got[0].text, "disk full") {
		t.Fatalf("reason change messages = %+v", got)
	}

	s.RunStatus(ctx)
	if n := len(f.notifier.messages()); n != 1 {
		t.Fatalf("repeat of new reason sent again, total %d", n)
	}
}

func TestStatusSendFailureDoesNotAbortPass(t *testing.T) {
	f := newFixture(t)
	f.link(t, 1, 10, models.RoleUser)
	f.link(t, 2, 20, models.RoleUser)
	f.request(100, 10, 1, seerr.StatusDownloading, "")
	f.request(200, 20, 2, seerr.StatusDownloading, "")
	s := f.scheduler()
	ctx := context.Background()
	s.RunStatus(ctx)

	f.request(100, 10, 1, seerr.StatusAvailable, "")
	f.request(200, 20, 2, seerr.StatusAvailable, "")
	f.notifier.failFor[1] = true
	s.RunStatus(ctx)

	got := f.notifier.messages()
	if len(got) != 1 || got[0].chatID != 2 {
		t.Fatalf("messages = %+v, want one for chat 2", got)
	}
	st, err := f.mem.GetState(ctx, 1, 100)
	if err != nil || st.LastStatus != seerr.StatusAvailable {
		t.Fatalf("state for failed send = %+v, %v", st, err)
	}

	f.notifier.failFor[1] = false
	s.RunStatus(ctx)
	if n := len(f.notifier.messages()); n != 1 {
		t.Fatalf("dropped message was retried, total %d", n)
	}
	if v := testutil.ToFloat64(f.metrics.failed.WithLabelValues(kindStatus)); v != 1 {
		t.Fatalf("failed counter = %v, want 1", v)
	}
}

func TestWatchAlertFiresOnceEvenWhenSendFails(t *testing.T) {
	f := newFixture(t)
	f.link(t, 1, 10, models.RoleUser)
	ctx := context.Background()
	if _, _, err := f.mem.CreateAlert(ctx, models.WatchAlert{ChatID: 1, UserID: 10, MediaType: "movie", TMDBID: 7, Title: "Dune", Active: true}); err != nil {
		t.Fatalf("create alert: %v", err)
	}
	f.request(100, 10, 7, seerr.StatusAvailable, "")
	f.notifier.failAll = true
	s := f.scheduler()

	s.RunStatus(ctx)
	s.RunStatus(ctx)

	if f.notifier.calls != 1 {
		t.Fatalf("notify calls = %d, want 1", f.notifier.calls)
	}
	a, ok := f.mem.Alert(1, "movie", 7)
	if !ok || a.Active || a.NotifiedAt == nil {
		t.Fatalf("alert after firing = %+v (found %v)", a, ok)
	}
}

func TestWatchAlertWaitsForAvailability(t *testing.T) {
	f := newFixture(t)
	f.link(t, 1, 10, models.RoleUser)
	ctx := context.Background()
	_, _, _ = f.mem.CreateAlert(ctx, models.WatchAlert{ChatID: 1, UserID: 10, MediaType: "movie", TMDBID: 7, Title: "Dune", Active: true})
	f.request(100, 10, 7, seerr.StatusDownloading, "")
	s := f.scheduler()

	s.RunStatus(ctx)
	if n := len(f.notifier.messages()); n != 0 {
		t.Fatalf("alert fired early, %d messages", n)
	}

	f.request(100, 10, 7, seerr.StatusAvailable, "")
	s.RunStatus(ctx)
	var watch int
	for _, m := range f.notifier.messages() {
		if strings.HasPrefix(m.text, "🔔") {
			watch++
		}
	}
	if watch != 1 {
		t.Fatalf("watch messages = %d, want 1", watch)
	}
}

func TestDigestSentOncePerDay(t *testing.T) {
	f := newFixture(t)
	f.link(t, 1, 10, models.RoleAdmin)
	f.link(t, 2, 20, models.RoleAdmin)
	f.link(t, 3, 30, models.RoleUser)
	f.request(100, 30, 1, seerr.StatusPending, "")
	f.mem.AddJobRun("sync", "failed", "timeout", f.clock.now())
	s := f.scheduler()
	ctx := context.Background()

	f.clock.set(time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC))
	for i := 0; i < 50; i++ {
		s.RunDigest(ctx)
		f.clock.advance(10 * time.Second)
	}
	got := f.notifier.messages()
	if len(got) != 2 {
		t.Fatalf("first day sent %d digests, want 2", len(got))
	}
	for _, m := range got {
		if m.chatID == 3 {
			t.Fatalf("digest sent to non-admin")
		}
		if !strings.Contains(m.text, "Pending requests: 1") {
			t.Fatalf("digest missing pending count: %q", m.text)
		}
	}

	f.clock.set(time.Date(2026, 5, 3, 9, 2, 0, 0, time.UTC))
	s.RunDigest(ctx)
	s.RunDigest(ctx)
	if n := len(f.notifier.messages()); n != 4 {
		t.Fatalf("second day total = %d, want 4", n)
	}
}

func TestDigestOutsideWindowDoesNothing(t *testing.T) {
	f := newFixture(t)
	f.link(t, 1, 10, models.RoleAdmin)
	s := f.scheduler()
	ctx := context.Background()

	for _, at := range []time.Time{
		time.Date(2026, 5, 2, 9, 10, 0, 0, time.UTC),
		time.Date(2026, 5, 2, 8, 59, 0, 0, time.UTC),
		time.Date(2026, 5, 2, 21, 0, 0, 0, time.UTC),
	} {
		f.clock.set(at)
		s.RunDigest(ctx)
	}
	if n := len(f.notifier.messages()); n != 0 {
		t.Fatalf("digest sent outside window: %d", n)
	}
	if done, _ := f.sessions.Marked(ctx, state.KindDigest, "2026-05-02"); done {
		t.Fatalf("day marked outside window")
	}
}

func TestDigestWindowInHalfHourZone(t *testing.T) {
	f := newFixture(t)
	f.link(t, 1, 10, models.RoleAdmin)
	ist := time.FixedZone("IST", 5*3600+30*60)
	s := New(Options{
		Store:      f.mem,
		Locker:     f.locker,
		Notifier:   f.notifier,
		Health:     f.health,
		Sessions:   f.sessions,
		Metrics:    f.metrics,
		DigestHour: 9,
		Location:   ist,
		Now:        f.clock.now,
	})
	ctx := context.Background()

	f.clock.set(time.Date(2026, 5, 2, 9, 0, 0, 0, ist))
	for i := 0; i < 10; i++ {
		s.RunDigest(ctx)
		f.clock.advance(time.Minute)
	}
	if n := len(f.notifier.messages()); n != 1 {
		t.Fatalf("digest messages = %d, want 1", n)
	}
}

func TestDigestWithoutAdminsStillMarksDay(t *testing.T) {
	f := newFixture(t)
	f.link(t, 1, 10, models.RoleUser)
	s := f.scheduler()
	ctx := context.Background()

	f.clock.set(time.Date(2026, 5, 2, 9, 1, 0, 0, time.UTC))
	s.RunDigest(ctx)
	done, err := f.sessions.Marked(ctx, state.KindDigest, "2026-05-02")
	if err != nil || !done {
		t.Fatalf("marked = %v, %v", done, err)
	}
}

func TestDigestHealthUsesEachAdminsCredential(t *testing.T) {
	f := newFixture(t)
	f.link(t, 1, 10, models.RoleAdmin)
	f.link(t, 2, 20, models.RoleAdmin)
	f.health.fail[2] = true
	s := f.scheduler()
	ctx := context.Background()

	f.clock.set(time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC))
	s.RunDigest(ctx)

	if len(f.health.asked) != 2 {
		t.Fatalf("health fetched %d times, want 2", len(f.health.asked))
	}
	for _, m := range f.notifier.messages() {
		broken := strings.Contains(m.text, "unavailable with your credential")
		if m.chatID == 2 && !broken {
			t.Fatalf("chat 2 digest should report broken credential: %q", m.text)
		}
		if m.chatID == 1 && broken {
			t.Fatalf("chat 1 digest should carry health: %q", m.text)
		}
	}
}

func TestReplicasSkipWhileLockHeld(t *testing.T) {
	f := newFixture(t)
	a := f.scheduler()
	b := f.scheduler()
	ctx := context.Background()

	release, ok, _ := f.locker.TryLock(ctx, LockStatus)
	if !ok {
		t.Fatalf("could not take lock")
	}
	if a.RunStatus(ctx) || b.RunStatus(ctx) {
		t.Fatalf("a replica ran while the lock was held elsewhere")
	}
	if v := testutil.ToFloat64(f.metrics.skipped.WithLabelValues(jobStatus)); v != 2 {
		t.Fatalf("skipped counter = %v, want 2", v)
	}
	release()

	if !a.RunStatus(ctx) {
		t.Fatalf("run after release should take the lock")
	}
	if f.locker.Held(LockStatus) {
		t.Fatalf("lock not released after run")
	}
	if !b.RunDigest(ctx) {
		t.Fatalf("digest lock is independent of status lock")
	}
}

func TestConcurrentReplicasNotifyOnce(t *testing.T) {
	f := newFixture(t)
	f.link(t, 1, 10, models.RoleUser)
	f.request(100, 10, 1, seerr.StatusDownloading, "")
	ctx := context.Background()
	f.scheduler().RunStatus(ctx)

	f.request(100, 10, 1, seerr.StatusAvailable, "")
	replicas := []*Scheduler{f.scheduler(), f.scheduler(), f.scheduler()}
	var wg sync.WaitGroup
	for _, r := range replicas {
		wg.Add(1)
		go func(s *Scheduler) {
			defer wg.Done()
			s.RunStatus(ctx)
		}(r)
	}
	wg.Wait()

	if n := len(f.notifier.messages()); n != 1 {
		t.Fatalf("replicas sent %d messages, want 1", n)
	}
}

type panicStore struct{ *store.Memory }

func (panicStore) ListTracked(context.Context, []string) ([]models.TrackedRequest, error) {
	panic("boom")
}

func TestPanickingPassReleasesLock(t *testing.T) {
	f := newFixture(t)
	s := New(Options{
		Store:    panicStore{f.mem},
		Locker:   f.locker,
		Notifier: f.notifier,
		Sessions: f.sessions,
		Now:      f.clock.now,
	})
	if !s.RunStatus(context.Background()) {
		t.Fatalf("expected run to report it held the lock")
	}
	if f.locker.Held(LockStatus) {
		t.Fatalf("lock leaked after panic")
	}
}
