// Package store persists room-scoped collections as versioned JSON arrays.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCorrupt reports a stored value that could not be decoded.
	ErrCorrupt = errors.New("store: corrupt value")
	// ErrConflict is returned when an optimistic update kept losing races.
	ErrConflict = errors.New("store: too many concurrent updates")
	// ErrNoChange aborts an Update without writing.
	ErrNoChange = errors.New("store: no change")
)

const keyPrefix = "watchparty:"

// MessagesKey is the key holding a room's chat log.
func MessagesKey(roomID string) string {
	return keyPrefix + "chat:" + roomID
}

// ParticipantsKey is the key holding a room's roster.
func ParticipantsKey(roomID string) string {
	return keyPrefix + "participants:" + roomID
}

// ControlKey is the key used for room control notifications (kick, end).
func ControlKey(roomID string) string {
	return keyPrefix + "control:" + roomID
}

// Backend is a string-keyed byte store shared by every engine of a deployment.
type Backend interface {
	// Get returns nil, nil when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Update applies fn to the current value and stores the result atomically
	// with respect to other Updates of the same key. fn may run more than once.
	Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error
	Close() error
}

// CorruptionHook observes values that were discarded as corrupt.
type CorruptionHook func(key string, err error)

// envelope is the stored representation of a collection.
type envelope[T any] struct {
	Version int64 `json:"version"`
	Items   []T   `json:"items"`
}

// Collection reads and writes one kind of item as a versioned JSON array.
type Collection[T any] struct {
	backend   Backend
	onCorrupt CorruptionHook
	now       func() time.Time
}

// NewCollection builds a Collection over backend. hook may be nil.
func NewCollection[T any](backend Backend, hook CorruptionHook) *Collection[T] {
	return &Collection[T]{backend: backend, onCorrupt: hook, now: time.Now}
}

// Read returns the items stored at key and their version. Absent or corrupt
// values read as an empty collection at version 0; only transport errors are
// returned, and then the items are empty too.
func (c *Collection[T]) Read(ctx context.Context, key string) ([]T, int64, error) {
	raw, err := c.backend.Get(ctx, key)
	if err != nil {
		return []T{}, 0, fmt.Errorf("read %s: %w", key, err)
	}
	env, _ := c.decode(key, raw)
	return env.Items, env.Version, nil
}

// Write replaces the items at key unconditionally.
func (c *Collection[T]) Write(ctx context.Context, key string, items []T) (int64, error) {
	_, version, err := c.Update(ctx, key, func([]T) ([]T, error) {
		return items, nil
	})
	return version, err
}

// Update runs a compare-and-swap cycle on key: fn receives the current items
// and returns the replacement. Returning ErrNoChange leaves the value as is and
// Update returns the current items together with ErrNoChange.
//
// A value rebuilt over a corrupt one restarts its version from the clock, in
// microseconds, so it stays ahead of every version handed out before.
func (c *Collection[T]) Update(ctx context.Context, key string, fn func(items []T) ([]T, error)) ([]T, int64, error) {
	var result envelope[T]
	err := c.backend.Update(ctx, key, func(current []byte) ([]byte, error) {
		env, ok := c.decode(key, current)
		result = env
		next, err := fn(cloneItems(env.Items))
		if err != nil {
			return nil, err
		}
		if next == nil {
			next = []T{}
		}
		base := env.Version
		if !ok {
			base = c.now().UnixMicro()
		}
		result = envelope[T]{Version: base + 1, Items: next}
		return json.Marshal(result)
	})
	if errors.Is(err, ErrNoChange) {
		return result.Items, result.Version, ErrNoChange
	}
	if err != nil {
		return nil, 0, fmt.Errorf("update %s: %w", key, err)
	}
	return result.Items, result.Version, nil
}

// decode reports false when raw was present but unreadable.
func (c *Collection[T]) decode(key string, raw []byte) (envelope[T], bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return envelope[T]{Items: []T{}}, true
	}

	var env envelope[T]
	var err error
	if raw[0] == '[' {
		// bare arrays predate versioning
		err = json.Unmarshal(raw, &env.Items)
	} else {
		err = json.Unmarshal(raw, &env)
	}
	if err != nil {
		if c.onCorrupt != nil {
			c.onCorrupt(key, fmt.Errorf("%w: %v", ErrCorrupt, err))
		}
		return envelope[T]{Items: []T{}}, false
	}
	if env.Items == nil {
		env.Items = []T{}
	}
	return env, true
}

func cloneItems[T any](items []T) []T {
	out := make([]T, len(items))
	copy(out, items)
	return out
}
