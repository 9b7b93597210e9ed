// Package stream fans state snapshots out to subscribers.
package stream

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSubscriberBuffer is the channel buffer given to each subscriber.
const DefaultSubscriberBuffer = 16

// Broadcaster delivers values of type T to any number of subscribers.
//
// Publishing never blocks. A subscriber whose buffer is full loses its
// oldest pending value, so a slow reader always ends up with the latest
// state rather than a stale one.
type Broadcaster[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber[T]
	bufferSize  int
	closed      bool

	published uint64
	dropped   uint64
}

// Subscriber is one registered consumer.
type Subscriber[T any] struct {
	ID           string
	CreatedAt    time.Time
	ch           chan T
	droppedCount int
}

// Stats summarises delivery counters.
type Stats struct {
	Subscribers int
	Published   uint64
	Dropped     uint64
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBroadcaster[T any](bufferSize int) *Broadcaster[T] {
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	return &Broadcaster[T]{
		subscribers: make(map[string]*Subscriber[T]),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel; calling it more than once is safe.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	sub := &Subscriber[T]{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		ch:        make(chan T, b.bufferSize),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subscribers[sub.ID] = sub
	b.mu.Unlock()

	return sub.ch, func() { b.unsubscribe(sub.ID) }
}

func (b *Broadcaster[T]) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.ch)
	}
}

// Publish sends v to every subscriber.
func (b *Broadcaster[T]) Publish(v T) {
	// Full lock: the drop-oldest path reads from subscriber channels.
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.published++

	for _, sub := range b.subscribers {
		select {
		case sub.ch <- v:
			continue
		default:
		}
		// Buffer full: discard the oldest value and retry once.
		select {
		case <-sub.ch:
			sub.droppedCount++
			b.dropped++
		default:
		}
		select {
		case sub.ch <- v:
		default:
			sub.droppedCount++
			b.dropped++
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Stats returns delivery counters.
func (b *Broadcaster[T]) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Subscribers: len(b.subscribers),
		Published:   b.published,
		Dropped:     b.dropped,
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}
