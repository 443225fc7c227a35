package state

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

type memoryKV struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
	writes  int
}

// NewMemoryKV constructs an in-process KV for tests and single-replica development.
// A nil clock defaults to time.Now.
func NewMemoryKV(now func() time.Time) KV {
	if now == nil {
		now = time.Now
	}
	return &memoryKV{
		now:     now,
		entries: make(map[string]memoryEntry),
	}
}

// Set stores value under key, refreshing its expiry.
func (m *memoryKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: clone(value), expiresAt: m.now().Add(ttl)}
	m.gcLocked()
	return nil
}

// Get returns the live value for key.
func (m *memoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.liveLocked(key)
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e.value), nil
}

// Take returns and removes the live value for key in one step.
func (m *memoryKV) Take(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.liveLocked(key)
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.entries, key)
	return e.value, nil
}

// Delete removes key; absent keys are ignored.
func (m *memoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// SetNX stores value only if key holds no live entry.
func (m *memoryKV) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.liveLocked(key); ok {
		return false, nil
	}
	m.entries[key] = memoryEntry{value: clone(value), expiresAt: m.now().Add(ttl)}
	return true, nil
}

func (m *memoryKV) liveLocked(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// gcLocked drops expired entries every 256 writes to bound memory.
func (m *memoryKV) gcLocked() {
	m.writes++
	if m.writes < 256 {
		return
	}
	m.writes = 0
	now := m.now()
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
		}
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
