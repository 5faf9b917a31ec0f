// Package broadcast fans values out to live subscribers, such as dashboard
// clients listening for fresh snapshots.
package broadcast

import (
	"sync"
	"sync/atomic"
)

const bufferSize = 16

type Broadcaster[T any] struct {
	subscribers map[uint64]chan T
	nextID      atomic.Uint64
	mu          sync.RWMutex
}

func New[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{
		subscribers: make(map[uint64]chan T),
	}
}

func (b *Broadcaster[T]) Subscribe() (uint64, chan T) {
	id := b.nextID.Add(1)
	ch := make(chan T, bufferSize)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()

	return id, ch
}

func (b *Broadcaster[T]) Unsubscribe(id uint64) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

// Broadcast never blocks: a subscriber with a full buffer misses v.
func (b *Broadcaster[T]) Broadcast(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- v:
		default:
		}
	}
}

func (b *Broadcaster[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels so their streams end.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
