// Package broadcast fans out key change notifications to every subscriber,
// including the ones living in the process that made the change.
package broadcast

import (
	"context"
	"sync"
)

// Handler receives the payload published for a key.
type Handler func(payload []byte)

// Bus is a per-key publish/subscribe channel.
type Bus interface {
	Publish(ctx context.Context, key string, payload []byte) error
	// Subscribe registers h for key. The returned func unsubscribes and is
	// safe to call more than once.
	Subscribe(key string, h Handler) func()
}

type subscription struct {
	id      uint64
	handler Handler
}

// LocalBus delivers synchronously to the subscribers of this process. Handlers
// of one key run in registration order on the publishing goroutine.
type LocalBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]subscription
}

// NewLocalBus creates an empty LocalBus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string][]subscription)}
}

// Publish invokes every handler registered for key.
func (b *LocalBus) Publish(_ context.Context, key string, payload []byte) error {
	b.deliver(key, payload)
	return nil
}

// Subscribe registers h for key.
func (b *LocalBus) Subscribe(key string, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[key] = append(b.subs[key], subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(key, id) })
	}
}

// Subscribers reports how many handlers are registered for key.
func (b *LocalBus) Subscribers(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[key])
}

func (b *LocalBus) deliver(key string, payload []byte) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs[key]))
	copy(subs, b.subs[key])
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(payload)
	}
}

func (b *LocalBus) unsubscribe(key string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[key]
	for i, s := range subs {
		if s.id == id {
			b.subs[key] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[key]) == 0 {
		delete(b.subs, key)
	}
}
