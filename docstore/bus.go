package docstore

import (
	"context"
	"sync"
)

// Bus carries document events from writers to subscribers.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(channel string, fn func(Event)) (unsubscribe func())
	Close() error
}

// MemoryBus delivers events in-process, synchronously, on the publisher's
// goroutine. A subscriber listening on several of an event's channels
// receives it once per channel.
type MemoryBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]func(Event)
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[uint64]func(Event))}
}

// Publish delivers ev to every subscriber of its channels.
func (b *MemoryBus) Publish(_ context.Context, ev Event) error {
	b.deliver(ev)
	return nil
}

func (b *MemoryBus) deliver(ev Event) {
	// Snapshot under the lock, call outside it: handlers may unsubscribe.
	b.mu.RLock()
	var fns []func(Event)
	for _, ch := range ev.Channels {
		for _, fn := range b.subs[ch] {
			fns = append(fns, fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Subscribe registers fn on channel. The returned func is idempotent.
func (b *MemoryBus) Subscribe(channel string, fn func(Event)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[uint64]func(Event))
	}
	b.subs[channel][id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[channel], id)
			if len(b.subs[channel]) == 0 {
				delete(b.subs, channel)
			}
		})
	}
}

// Close drops every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.subs = make(map[string]map[uint64]func(Event))
	b.mu.Unlock()
	return nil
}
