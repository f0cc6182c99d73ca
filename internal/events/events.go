// Package events provides typed fan-out and one-shot waiting over channels.
package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by AwaitEventOrTimeout when no matching event arrived in time.
var ErrTimeout = errors.New("events: timed out waiting for event")

// ErrClosed is returned when the source channel closes before a match.
var ErrClosed = errors.New("events: channel closed")

// Broadcaster delivers every published value to all current subscribers. Delivery never
// blocks the publisher; a subscriber whose buffer is full misses the value.
type Broadcaster[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]chan T
	next   uint64
	closed bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[uint64]chan T)}
}

// Subscribe registers a new subscriber with the given buffer size. The returned cancel
// function unregisters it and closes the channel; it is safe to call more than once.
func (b *Broadcaster[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan T, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish sends v to every subscriber and reports how many received it.
func (b *Broadcaster[T]) Publish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	delivered := 0
	for _, ch := range b.subs {
		select {
		case ch <- v:
			delivered++
		default:
		}
	}
	return delivered
}

// Len returns the current number of subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later Subscribe calls get a closed channel.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// AwaitEventOrTimeout waits for the first value on ch accepted by match. A nil match
// accepts anything. It returns ErrTimeout when timeout elapses, ErrClosed when ch closes,
// and the context error when ctx ends first.
func AwaitEventOrTimeout[T any](ctx context.Context, ch <-chan T, match func(T) bool, timeout time.Duration) (T, error) {
	var zero T
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-timer.C:
			return zero, ErrTimeout
		case v, ok := <-ch:
			if !ok {
				return zero, ErrClosed
			}
			if match == nil || match(v) {
				return v, nil
			}
		}
	}
}
