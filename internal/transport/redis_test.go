package transport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, nil)
}

func TestRedisRoundTrip(t *testing.T) {
	tr := newTestRedis(t)
	ctx := context.Background()

	a, err := tr.Subscribe(ctx, "document:1")
	require.NoError(t, err)
	defer a.Close()
	b, err := tr.Subscribe(ctx, "document:1")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Send(ctx, []byte(`{"event":"content_change"}`)))
	assert.Equal(t, []byte(`{"event":"content_change"}`), recvPayload(t, b))
}

func TestRedisEchoesToSender(t *testing.T) {
	// Unlike the in-process hub, Redis pub/sub delivers a message back to
	// a publisher subscribed to the same channel. The presence layer
	// filters these by sender id.
	tr := newTestRedis(t)
	ctx := context.Background()

	a, err := tr.Subscribe(ctx, "document:1")
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Send(ctx, []byte("own message")))
	assert.Equal(t, []byte("own message"), recvPayload(t, a))
}

func TestRedisChannelIsolation(t *testing.T) {
	tr := newTestRedis(t)
	ctx := context.Background()

	a, err := tr.Subscribe(ctx, "document:1")
	require.NoError(t, err)
	defer a.Close()
	b, err := tr.Subscribe(ctx, "document:2")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Send(ctx, []byte("doc one only")))

	select {
	case p := <-b.Events():
		t.Fatalf("channel document:2 received payload %q", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRedisStalledConsumerDoesNotWedgeRelay(t *testing.T) {
	tr := newTestRedis(t)
	ctx := context.Background()

	sub, err := tr.Subscribe(ctx, "document:1")
	require.NoError(t, err)

	// Nothing drains the subscription; overflow must be dropped so the
	// relay goroutine stays live and Close can end the stream.
	for i := 0; i < eventBuffer+8; i++ {
		require.NoError(t, sub.Send(ctx, []byte(fmt.Sprintf("payload %d", i))))
	}
	rs := sub.(*redisSubscription)
	require.Eventually(t, func() bool {
		return len(rs.events) == eventBuffer
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, sub.Close())

	received := 0
	deadline := time.After(2 * time.Second)
	for open := true; open; {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				open = false
				break
			}
			received++
		case <-deadline:
			t.Fatal("events channel not closed after Close")
		}
	}
	assert.LessOrEqual(t, received, eventBuffer)
}

func TestRedisCloseEndsEventStream(t *testing.T) {
	tr := newTestRedis(t)
	ctx := context.Background()

	a, err := tr.Subscribe(ctx, "document:1")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	select {
	case _, ok := <-a.Events():
		assert.False(t, ok, "events channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("events channel not closed after Close")
	}
}
