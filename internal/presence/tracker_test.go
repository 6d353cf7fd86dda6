package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/roomchat/internal/pubsub"
)

// mockPublisher implements pubsub.Publisher for testing
type mockPublisher struct {
	messages []pubsub.Message
	mu       sync.Mutex
}

func (m *mockPublisher) Publish(ctx context.Context, msg pubsub.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *mockPublisher) Close() error {
	return nil
}

func (m *mockPublisher) getMessages() []pubsub.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]pubsub.Message, len(m.messages))
	copy(result, m.messages)
	return result
}

func (m *mockPublisher) topics() []string {
	var out []string
	for _, msg := range m.getMessages() {
		out = append(out, msg.Topic)
	}
	return out
}

func newTestTracker(t *testing.T, opts ...Option) (*Tracker, *mockPublisher) {
	t.Helper()
	pub := &mockPublisher{}
	tr := NewTracker(pub, opts...)
	t.Cleanup(tr.Shutdown)
	return tr, pub
}

func TestTracker_RegisterAndRemove(t *testing.T) {
	tr, pub := newTestTracker(t, WithOfflineGrace(0))

	assert.True(t, tr.RegisterConnection("u1", "c1"))
	assert.False(t, tr.RegisterConnection("u1", "c2"))
	assert.True(t, tr.IsOnline("u1"))
	assert.Equal(t, []string{"c1", "c2"}, tr.ConnectionsOf("u1"))
	assert.Equal(t, []string{"u1"}, tr.OnlineUsers())

	assert.False(t, tr.RemoveConnection("u1", "c1"))
	assert.True(t, tr.IsOnline("u1"))
	assert.True(t, tr.RemoveConnection("u1", "c2"))
	assert.False(t, tr.IsOnline("u1"))
	assert.Empty(t, tr.ConnectionsOf("u1"))
	assert.Empty(t, tr.OnlineUsers())

	assert.Equal(t, []string{UserOnline.Name(), UserOffline.Name()}, pub.topics())

	var ev StatusEvent
	require.NoError(t, json.Unmarshal(pub.getMessages()[0].Payload, &ev))
	assert.Equal(t, "u1", ev.UserID)
	assert.Equal(t, "u1", pub.getMessages()[0].UserID)
}

func TestTracker_RemoveUnknownConnectionIsNoop(t *testing.T) {
	tr, pub := newTestTracker(t, WithOfflineGrace(0))

	assert.False(t, tr.RemoveConnection("ghost", "c1"))
	tr.RegisterConnection("u1", "c1")
	assert.False(t, tr.RemoveConnection("u1", "other"))
	assert.True(t, tr.IsOnline("u1"))
	assert.Equal(t, []string{UserOnline.Name()}, pub.topics())
}

func TestTracker_OnlineFiresOncePerTransitionUnderConcurrency(t *testing.T) {
	tr, pub := newTestTracker(t, WithOfflineGrace(0))

	const conns = 50
	var wg sync.WaitGroup
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr.RegisterConnection("u1", fmt.Sprintf("c%d", i))
		}(i)
	}
	wg.Wait()
	assert.Len(t, tr.ConnectionsOf("u1"), conns)

	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr.RemoveConnection("u1", fmt.Sprintf("c%d", i))
		}(i)
	}
	wg.Wait()
	assert.False(t, tr.IsOnline("u1"))
	assert.Equal(t, []string{UserOnline.Name(), UserOffline.Name()}, pub.topics())
}

// slowOfflinePublisher delays offline events to widen the window between a
// transition and its publish.
type slowOfflinePublisher struct {
	mockPublisher
	delay   time.Duration
	entered chan struct{}
}

func (p *slowOfflinePublisher) Publish(ctx context.Context, msg pubsub.Message) error {
	if msg.Topic == UserOffline.Name() {
		select {
		case p.entered <- struct{}{}:
		default:
		}
		time.Sleep(p.delay)
	}
	return p.mockPublisher.Publish(ctx, msg)
}

func TestTracker_SlowOfflinePublishIsNotLastWhileOnline(t *testing.T) {
	pub := &slowOfflinePublisher{delay: 100 * time.Millisecond, entered: make(chan struct{}, 1)}
	tr := NewTracker(pub, WithOfflineGrace(0), WithSweepInterval(0))
	t.Cleanup(tr.Shutdown)

	require.True(t, tr.RegisterConnection("u1", "c1"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.RemoveConnection("u1", "c1")
	}()
	<-pub.entered
	time.Sleep(20 * time.Millisecond)
	require.True(t, tr.RegisterConnection("u1", "c2"))
	<-done

	require.Eventually(t, func() bool {
		topics := pub.topics()
		return len(topics) > 0 && topics[len(topics)-1] == UserOnline.Name()
	}, time.Second, 10*time.Millisecond, "last event must be online, got %v", pub.topics())
	assert.True(t, tr.IsOnline("u1"))
	assert.Equal(t, []string{UserOnline.Name(), UserOffline.Name(), UserOnline.Name()}, pub.topics())

	tr.RemoveConnection("u1", "c2")
	assert.Equal(t, UserOffline.Name(), pub.topics()[len(pub.topics())-1])
}

func TestTracker_ReconnectWithinGrace(t *testing.T) {
	tr, pub := newTestTracker(t, WithOfflineGrace(100*time.Millisecond))

	tr.RegisterConnection("u1", "c1")
	tr.RemoveConnection("u1", "c1")
	assert.False(t, tr.IsOnline("u1"))

	assert.True(t, tr.RegisterConnection("u1", "c2"))
	time.Sleep(200 * time.Millisecond)

	assert.True(t, tr.IsOnline("u1"))
	assert.Equal(t, []string{UserOnline.Name()}, pub.topics())
}

func TestTracker_OfflineAfterGrace(t *testing.T) {
	tr, pub := newTestTracker(t, WithOfflineGrace(50*time.Millisecond))

	tr.RegisterConnection("u1", "c1")
	tr.RemoveConnection("u1", "c1")
	assert.Equal(t, []string{UserOnline.Name()}, pub.topics())

	require.Eventually(t, func() bool {
		return len(pub.getMessages()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, UserOffline.Name(), pub.topics()[1])

	// A fresh connection after the offline event is a new transition.
	tr.RegisterConnection("u1", "c3")
	assert.Equal(t, []string{UserOnline.Name(), UserOffline.Name(), UserOnline.Name()}, pub.topics())
}

func TestTracker_ShutdownDropsPendingOffline(t *testing.T) {
	pub := &mockPublisher{}
	tr := NewTracker(pub, WithOfflineGrace(50*time.Millisecond))

	tr.RegisterConnection("u1", "c1")
	tr.RemoveConnection("u1", "c1")
	tr.Shutdown()
	tr.Shutdown()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{UserOnline.Name()}, pub.topics())
}

func TestTracker_SweepsStaleConnections(t *testing.T) {
	tr, pub := newTestTracker(t,
		WithOfflineGrace(0),
		WithStaleThreshold(50*time.Millisecond),
		WithSweepInterval(10*time.Millisecond),
	)

	tr.RegisterConnection("u1", "stale")
	tr.RegisterConnection("u2", "fresh")

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		tr.Touch("u2", "fresh")
		time.Sleep(5 * time.Millisecond)
	}

	assert.False(t, tr.IsOnline("u1"))
	assert.True(t, tr.IsOnline("u2"))
	assert.Contains(t, pub.topics(), UserOffline.Name())
}

// fakeCluster is an in-memory Cluster.
type fakeCluster struct {
	mu    sync.Mutex
	users map[string]map[string]bool
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{users: make(map[string]map[string]bool)}
}

func (c *fakeCluster) Join(_ context.Context, userID, instanceID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.users[userID] == nil {
		c.users[userID] = make(map[string]bool)
	}
	c.users[userID][instanceID] = true
	return len(c.users[userID]) == 1, nil
}

func (c *fakeCluster) Leave(_ context.Context, userID, instanceID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.users[userID], instanceID)
	return len(c.users[userID]) == 0, nil
}

func (c *fakeCluster) Refresh(context.Context, string) error { return nil }

func (c *fakeCluster) IsOnline(_ context.Context, userID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.users[userID]) > 0, nil
}

func TestTracker_ClusterWideTransitions(t *testing.T) {
	cluster := newFakeCluster()
	a, pubA := newTestTracker(t, WithOfflineGrace(0), WithCluster(cluster, "a"))
	b, pubB := newTestTracker(t, WithOfflineGrace(0), WithCluster(cluster, "b"))

	a.RegisterConnection("u1", "c1")
	b.RegisterConnection("u1", "c2")
	assert.Equal(t, []string{UserOnline.Name()}, pubA.topics())
	assert.Empty(t, pubB.topics())

	a.RemoveConnection("u1", "c1")
	assert.Equal(t, []string{UserOnline.Name()}, pubA.topics())
	assert.True(t, a.IsOnlineAnywhere(context.Background(), "u1"))
	assert.False(t, a.IsOnline("u1"))

	b.RemoveConnection("u1", "c2")
	assert.Equal(t, []string{UserOffline.Name()}, pubB.topics())
	assert.False(t, a.IsOnlineAnywhere(context.Background(), "u1"))
}

func TestRedisCluster_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if testing.Short() || addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	c := NewRedisCluster(client, time.Minute)
	user := "presence-test-" + t.Name()
	defer client.Del(ctx, userKey(user))

	first, err := c.Join(ctx, user, "a")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = c.Join(ctx, user, "b")
	require.NoError(t, err)
	assert.False(t, first)

	last, err := c.Leave(ctx, user, "a")
	require.NoError(t, err)
	assert.False(t, last)

	online, err := c.IsOnline(ctx, user)
	require.NoError(t, err)
	assert.True(t, online)
	require.NoError(t, c.Refresh(ctx, user))

	last, err = c.Leave(ctx, user, "b")
	require.NoError(t, err)
	assert.True(t, last)
}
