package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/seerrbot/core/logger"
)

// Store is the session API used by conversational flows. Every key has the
// shape <namespace>:<kind>:<identity>.
type Store struct {
	kv        KV
	namespace string
	ttl       time.Duration
}

// Options configures NewStore.
type Options struct {
	Namespace string
	TTL       time.Duration
}

// NewStore wraps kv with namespacing and a default TTL.
func NewStore(kv KV, opts Options) *Store {
	ns := strings.TrimSpace(opts.Namespace)
	if ns == "" {
		ns = "seerrbot"
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: kv, namespace: ns, ttl: ttl}
}

// TTL reports the lifetime applied to conversational entries.
func (s *Store) TTL() time.Duration { return s.ttl }

// Key builds the fully scoped key for kind and identity.
func (s *Store) Key(kind Kind, identity string) string {
	return s.namespace + ":" + string(kind) + ":" + identity
}

// IDKey formats a numeric chat or user identity.
func IDKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// SetAwaiting marks identity as mid-conversation for kind.
func (s *Store) SetAwaiting(ctx context.Context, kind Kind, identity int64) error {
	return s.kv.Set(ctx, s.Key(kind, IDKey(identity)), []byte{1}, s.ttl)
}

// ConsumeAwaiting atomically checks and clears the awaiting flag.
func (s *Store) ConsumeAwaiting(ctx context.Context, kind Kind, identity int64) (bool, error) {
	_, err := s.kv.Take(ctx, s.Key(kind, IDKey(identity)))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	logger.Debug(ctx, "session", "awaiting.consumed",
		slog.String("kind", string(kind)),
		slog.Int64("identity", identity),
	)
	return true, nil
}

// ClearAwaiting drops the awaiting flag without reporting whether it was set.
func (s *Store) ClearAwaiting(ctx context.Context, kind Kind, identity int64) error {
	return s.kv.Delete(ctx, s.Key(kind, IDKey(identity)))
}

// SetPending stores v as JSON under kind/key.
func (s *Store) SetPending(ctx context.Context, kind Kind, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", kind, err)
	}
	return s.kv.Set(ctx, s.Key(kind, key), data, s.ttl)
}

// GetPending decodes the stored value into dst and reports whether one was present.
func (s *Store) GetPending(ctx context.Context, kind Kind, key string, dst any) (bool, error) {
	data, err := s.kv.Get(ctx, s.Key(kind, key))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", kind, err)
	}
	return true, nil
}

// ClearPending removes kind/key.
func (s *Store) ClearPending(ctx context.Context, kind Kind, key string) error {
	return s.kv.Delete(ctx, s.Key(kind, key))
}

// MarkOnce sets a marker that lives for ttl and reports whether this call created it.
func (s *Store) MarkOnce(ctx context.Context, kind Kind, key string, ttl time.Duration) (bool, error) {
	return s.kv.SetNX(ctx, s.Key(kind, key), []byte{1}, ttl)
}

// Marked reports whether a live marker exists for kind/key.
func (s *Store) Marked(ctx context.Context, kind Kind, key string) (bool, error) {
	_, err := s.kv.Get(ctx, s.Key(kind, key))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
