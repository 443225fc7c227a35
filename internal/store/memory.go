package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/m3rciful/seerrbot/internal/link"
	"github.com/m3rciful/seerrbot/internal/models"
)

type alertKey struct {
	chatID    int64
	mediaType string
	tmdbID    int64
}

type stateKey struct {
	chatID    int64
	requestID int64
}

type jobRow struct {
	status string
	models.JobFailure
}

// Memory implements the same repositories as Postgres without a database. It
// also holds the application-owned tables so tests can seed them. The app
// never selects it; session.backend only switches the session store.
type Memory struct {
	mu  sync.Mutex
	now func() time.Time

	tokens   map[string]models.LinkToken
	accounts map[int64]models.LinkedAccount
	roles    map[int64]string
	requests map[int64]models.MediaRequest
	states   map[stateKey]models.RequestState
	alerts   map[alertKey]*models.WatchAlert
	jobs     []jobRow
	nextID   int64
}

// NewMemory returns an empty store; a nil clock defaults to time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		now:      now,
		tokens:   make(map[string]models.LinkToken),
		accounts: make(map[int64]models.LinkedAccount),
		roles:    make(map[int64]string),
		requests: make(map[int64]models.MediaRequest),
		states:   make(map[stateKey]models.RequestState),
		alerts:   make(map[alertKey]*models.WatchAlert),
	}
}

// PutUser seeds an application user with role.
func (m *Memory) PutUser(userID int64, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[userID] = role
}

// PutMediaRequest seeds or replaces an application media request.
func (m *Memory) PutMediaRequest(r models.MediaRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = r
}

// AddJobRun appends a job history row.
func (m *Memory) AddJobRun(name, status, errText string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, jobRow{status: status, JobFailure: models.JobFailure{JobName: name, Error: errText, CreatedAt: at}})
}

// --- link tokens and accounts

func (m *Memory) DeleteTokensForChat(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for code, t := range m.tokens {
		if t.ChatID == chatID {
			delete(m.tokens, code)
		}
	}
	return nil
}

func (m *Memory) InsertToken(_ context.Context, t models.LinkToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[t.Code]; ok {
		return link.ErrCodeCollision
	}
	m.tokens[t.Code] = t
	return nil
}

func (m *Memory) TakeToken(_ context.Context, code string) (models.LinkToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[code]
	if !ok {
		return models.LinkToken{}, models.ErrNotFound
	}
	delete(m.tokens, code)
	return t, nil
}

func (m *Memory) UpsertAccount(_ context.Context, a models.LinkedAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ChatID] = a
	return nil
}

func (m *Memory) GetAccount(_ context.Context, chatID int64) (models.LinkedAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[chatID]
	if !ok {
		return models.LinkedAccount{}, models.ErrNotFound
	}
	return a, nil
}

func (m *Memory) DeleteAccount(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, chatID)
	return nil
}

func (m *Memory) UserRole(_ context.Context, userID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[userID]
	if !ok {
		return "", models.ErrNotFound
	}
	return role, nil
}

// --- request status tracking

func (m *Memory) ListTracked(_ context.Context, statuses []string) ([]models.TrackedRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		want[s] = struct{}{}
	}
	var out []models.TrackedRequest
	for _, a := range m.accounts {
		for _, r := range m.requests {
			if r.UserID != a.UserID {
				continue
			}
			if _, ok := want[r.Status]; !ok {
				continue
			}
			out = append(out, models.TrackedRequest{
				ChatID:        a.ChatID,
				UserID:        a.UserID,
				RequestID:     r.ID,
				MediaType:     r.MediaType,
				TMDBID:        r.TMDBID,
				Title:         r.Title,
				Status:        r.Status,
				FailureReason: r.FailureReason,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChatID != out[j].ChatID {
			return out[i].ChatID < out[j].ChatID
		}
		return out[i].RequestID < out[j].RequestID
	})
	return out, nil
}

func (m *Memory) GetState(_ context.Context, chatID, requestID int64) (models.RequestState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[stateKey{chatID, requestID}]
	if !ok {
		return models.RequestState{}, models.ErrNotFound
	}
	return s, nil
}

func (m *Memory) PutState(_ context.Context, s models.RequestState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[stateKey{s.ChatID, s.RequestID}] = s
	return nil
}

// --- watch alerts

func (m *Memory) CreateAlert(_ context.Context, a models.WatchAlert) (models.WatchAlert, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := alertKey{a.ChatID, a.MediaType, a.TMDBID}
	if cur, ok := m.alerts[k]; ok {
		cur.Active = true
		cur.UserID = a.UserID
		cur.Title = a.Title
		cur.NotifiedAt = nil
		return *cur, false, nil
	}
	m.nextID++
	row := a
	row.ID = m.nextID
	row.Active = true
	row.CreatedAt = m.now()
	row.NotifiedAt = nil
	m.alerts[k] = &row
	return row, true, nil
}

func (m *Memory) ListActiveAlerts(_ context.Context, chatID int64) ([]models.WatchAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WatchAlert
	for _, a := range m.alerts {
		if a.ChatID == chatID && a.Active {
			out = append(out, *a)
		}
	}
	sortAlerts(out)
	return out, nil
}

func (m *Memory) DeactivateAlert(_ context.Context, chatID, alertID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.ID == alertID && a.ChatID == chatID && a.Active {
			a.Active = false
			return nil
		}
	}
	return models.ErrNotFound
}

func (m *Memory) ListDueAlerts(_ context.Context) ([]models.WatchAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WatchAlert
	for _, a := range m.alerts {
		if !a.Active {
			continue
		}
		for _, r := range m.requests {
			if r.UserID == a.UserID && r.MediaType == a.MediaType && r.TMDBID == a.TMDBID && r.Status == "available" {
				out = append(out, *a)
				break
			}
		}
	}
	sortAlerts(out)
	return out, nil
}

func (m *Memory) MarkAlertFired(_ context.Context, alertID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.ID == alertID {
			a.Active = false
			stamp := at
			a.NotifiedAt = &stamp
			return nil
		}
	}
	return nil
}

// Alert returns the stored alert for the key, active or not.
func (m *Memory) Alert(chatID int64, mediaType string, tmdbID int64) (models.WatchAlert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertKey{chatID, mediaType, tmdbID}]
	if !ok {
		return models.WatchAlert{}, false
	}
	return *a, true
}

func sortAlerts(list []models.WatchAlert) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
}

// --- digest

func (m *Memory) CountPending(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.Status == "pending" {
			n++
		}
	}
	return n, nil
}

func (m *Memory) TopFailures(_ context.Context, since time.Time, limit int) ([]models.FailureGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, j := range m.jobs {
		if j.status != "failed" || j.CreatedAt.Before(since) {
			continue
		}
		reason := strings.TrimSpace(j.Error)
		if reason == "" {
			reason = "unknown"
		}
		counts[reason]++
	}
	out := make([]models.FailureGroup, 0, len(counts))
	for r, n := range counts {
		out = append(out, models.FailureGroup{Reason: r, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListAdmins(_ context.Context) ([]models.LinkedAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LinkedAccount
	for _, a := range m.accounts {
		if m.roles[a.UserID] == models.RoleAdmin {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

// MemoryLocker is a process-local stand-in for PostgreSQL advisory locks.
// Share one instance between schedulers to model replicas on one database.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[int64]bool
}

// NewMemoryLocker returns an empty locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[int64]bool)}
}

// TryLock acquires key when it is free.
func (l *MemoryLocker) TryLock(_ context.Context, key int64) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true, nil
}

// Held reports whether key is currently locked.
func (l *MemoryLocker) Held(key int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}
