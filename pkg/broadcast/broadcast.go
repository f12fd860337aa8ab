package broadcast

import (
	"context"
	"sync"
)

// Message wraps a value of type T for delivery to subscribers.
type Message[T any] struct {
	Data T
}

// Subscriber receives messages published on a Broadcaster.
// Implementations must be safe for concurrent use.
type Subscriber[T any] interface {
	// Receive returns the channel messages are delivered on. The channel is
	// closed when the subscriber is closed. The context is accepted for
	// parity with networked implementations; the in-memory one ignores it.
	Receive(ctx context.Context) <-chan Message[T]

	// Close tears the subscription down and closes the receive channel.
	// Idempotent.
	Close() error
}

// Broadcaster fans messages out to any number of subscribers. Delivery is
// best effort: implementations drop messages for consumers that cannot keep
// up rather than blocking the publisher.
type Broadcaster[T any] interface {
	// Subscribe registers a new subscriber. Cancelling ctx removes the
	// subscription automatically.
	Subscribe(ctx context.Context) Subscriber[T]

	// Broadcast delivers msg to every active subscriber.
	Broadcast(ctx context.Context, msg Message[T]) error

	// Close shuts the broadcaster down and closes every subscriber.
	Close() error
}

type subscription[T any] struct {
	ch     chan Message[T]
	mu     sync.RWMutex
	closed bool
}

func newSubscription[T any](buffer int) *subscription[T] {
	return &subscription[T]{ch: make(chan Message[T], buffer)}
}

func (s *subscription[T]) Receive(_ context.Context) <-chan Message[T] {
	return s.ch
}

func (s *subscription[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// offer attempts a non-blocking delivery. Returns false when the subscriber
// is closed or its buffer is full.
func (s *subscription[T]) offer(msg Message[T]) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}
