package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu   sync.Mutex
	msgs []Message
}

func (c *collector) handle(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *collector) getMessages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func TestWatermillBridge_PublishSubscribe(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var a, b collector
	require.NoError(t, bridge.Subscribe(ctx, "chat.room.r1", a.handle))
	require.NoError(t, bridge.Subscribe(ctx, "chat.room.r2", b.handle))

	require.NoError(t, bridge.Publish(ctx, Message{
		Topic:    "chat.room.r1",
		UserID:   "u1",
		Payload:  []byte("hello"),
		Metadata: map[string]string{"request_id": "req-1"},
	}))

	require.Eventually(t, func() bool { return len(a.getMessages()) == 1 }, time.Second, 5*time.Millisecond)
	got := a.getMessages()[0]
	assert.Equal(t, "chat.room.r1", got.Topic)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, []byte("hello"), got.Payload)
	assert.Equal(t, map[string]string{"request_id": "req-1"}, got.Metadata)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, b.getMessages())
}

func TestWatermillBridge_CancelStopsDelivery(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	subCtx, cancel := context.WithCancel(context.Background())
	var c collector
	require.NoError(t, bridge.Subscribe(subCtx, "chat.room.r1", c.handle))

	require.NoError(t, bridge.Publish(context.Background(), Message{Topic: "chat.room.r1", Payload: []byte("1")}))
	require.Eventually(t, func() bool { return len(c.getMessages()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, bridge.Publish(context.Background(), Message{Topic: "chat.room.r1", Payload: []byte("2")}))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, c.getMessages(), 1)
}

func TestWatermillBridge_HandlerErrorDoesNotRedeliver(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	require.NoError(t, bridge.Subscribe(ctx, "chat.room.r1", func(context.Context, Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return errors.New("boom")
	}))
	require.NoError(t, bridge.Publish(ctx, Message{Topic: "chat.room.r1"}))

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestWatermillBridge_PreservesOrder(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var c collector
	require.NoError(t, bridge.Subscribe(ctx, "chat.room.r1", c.handle))
	for _, p := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, bridge.Publish(ctx, Message{Topic: "chat.room.r1", Payload: []byte(p)}))
	}

	require.Eventually(t, func() bool { return len(c.getMessages()) == 5 }, time.Second, 5*time.Millisecond)
	var got []string
	for _, m := range c.getMessages() {
		got = append(got, string(m.Payload))
	}
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, got)
}
