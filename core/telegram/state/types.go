package state

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL bounds the lifetime of conversational entries.
const DefaultTTL = 20 * time.Minute

// ErrNotFound is returned by KV backends when a key is absent or expired.
var ErrNotFound = errors.New("state: key not found")

// Kind names a class of session entry, e.g. "await:search" or "pending:search".
type Kind string

const (
	// KindAwaitSearch marks a chat waiting for a title to search.
	KindAwaitSearch Kind = "await:search"
	// KindAwaitWatch marks a chat waiting for a title to watch.
	KindAwaitWatch Kind = "await:watch"
	// KindPendingSearch holds the last search result list shown to a chat.
	KindPendingSearch Kind = "pending:search"
	// KindPendingTrending holds the last trending result list shown to a chat.
	KindPendingTrending Kind = "pending:trending"
	// KindPendingWatch holds the last watch-alert candidate list shown to a chat.
	KindPendingWatch Kind = "pending:watch"
	// KindLastMedia holds the media item a chat interacted with most recently.
	KindLastMedia Kind = "last:media"
	// KindDigest marks a daily digest as sent for a calendar date.
	KindDigest Kind = "digest"
)

// KV is the key/value backend behind a Store. Implementations must make Take
// atomic so two concurrent callers never both observe the same value.
type KV interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Take(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// SetNX stores value only when key is absent or expired and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}
