package broadcast

import (
	"context"
	"sync"
)

// MemoryBroadcaster is an in-process Broadcaster. Publishing never blocks:
// subscribers whose buffer is full miss the message and are dropped from the
// set. All methods are safe for concurrent use.
type MemoryBroadcaster[T any] struct {
	mu     sync.RWMutex
	subs   map[*subscription[T]]struct{}
	buffer int
	closed bool
	wg     sync.WaitGroup // context-cancellation cleanup goroutines
}

// NewMemoryBroadcaster creates a broadcaster whose subscribers buffer up to
// the given number of undelivered messages. A buffer below 1 is raised to 1.
func NewMemoryBroadcaster[T any](buffer int) *MemoryBroadcaster[T] {
	return &MemoryBroadcaster[T]{
		subs:   make(map[*subscription[T]]struct{}),
		buffer: max(buffer, 1),
	}
}

// Subscribe registers a subscriber that receives every subsequent broadcast.
// When ctx is cancelled the subscription is removed and its channel closed.
// Subscribing on a closed broadcaster yields an already-closed subscriber.
func (b *MemoryBroadcaster[T]) Subscribe(ctx context.Context) Subscriber[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newSubscription[T](b.buffer)
	if b.closed {
		_ = sub.Close()
		return sub
	}
	b.subs[sub] = struct{}{}

	if ctx.Done() != nil {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			<-ctx.Done()
			b.remove(sub)
		}()
	}
	return sub
}

// Broadcast delivers msg to every subscriber that has buffer space. Slow or
// closed subscribers are dropped; the error is always nil for the in-memory
// implementation.
func (b *MemoryBroadcaster[T]) Broadcast(_ context.Context, msg Message[T]) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}
	for sub := range b.subs {
		if !sub.offer(msg) {
			// Removal needs the write lock; defer it so this broadcast
			// does not stall behind it.
			go b.remove(sub)
		}
	}
	return nil
}

// Close shuts the broadcaster down and closes all subscribers. Idempotent.
func (b *MemoryBroadcaster[T]) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for sub := range b.subs {
		_ = sub.Close()
	}
	clear(b.subs)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

func (b *MemoryBroadcaster[T]) remove(sub *subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
	_ = sub.Close()
}
