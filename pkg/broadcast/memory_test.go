package broadcast_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/broadcast"
)

func TestMemoryBroadcaster_DeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	b := broadcast.NewMemoryBroadcaster[string](8)
	defer b.Close()

	ctx := context.Background()
	first := b.Subscribe(ctx)
	second := b.Subscribe(ctx)

	require.NoError(t, b.Broadcast(ctx, broadcast.Message[string]{Data: "hello"}))

	for _, sub := range []broadcast.Subscriber[string]{first, second} {
		select {
		case msg := <-sub.Receive(ctx):
			assert.Equal(t, "hello", msg.Data)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
}

func TestMemoryBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()

	b := broadcast.NewMemoryBroadcaster[int](1)
	defer b.Close()

	ctx := context.Background()
	slow := b.Subscribe(ctx)
	_ = slow // never drained

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = b.Broadcast(ctx, broadcast.Message[int]{Data: i})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow subscriber")
	}
}

func TestMemoryBroadcaster_ContextCancelUnsubscribes(t *testing.T) {
	t.Parallel()

	b := broadcast.NewMemoryBroadcaster[string](4)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub := b.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-sub.Receive(context.Background()):
		assert.False(t, ok, "channel should be closed after cancellation")
	case <-time.After(time.Second):
		t.Fatal("subscriber channel was not closed after context cancel")
	}
}

func TestMemoryBroadcaster_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	b := broadcast.NewMemoryBroadcaster[string](4)
	sub := b.Subscribe(context.Background())

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, ok := <-sub.Receive(context.Background())
	assert.False(t, ok)

	// New subscriptions after Close arrive already closed.
	late := b.Subscribe(context.Background())
	_, ok = <-late.Receive(context.Background())
	assert.False(t, ok)
	assert.NoError(t, b.Broadcast(context.Background(), broadcast.Message[string]{Data: "dropped"}))
}
