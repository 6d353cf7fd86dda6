package pubsub

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/roomchat/internal/config"
)

func TestWireRoundTrip(t *testing.T) {
	in := Message{
		Topic:    "chat.room.r1",
		UserID:   "u1",
		Payload:  []byte(`{"type":"new_message"}`),
		Metadata: map[string]string{"request_id": "r"},
	}
	data, err := encodeMessage(in)
	require.NoError(t, err)
	out, err := decodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeMessage([]byte("not json"))
	assert.Error(t, err)
}

func TestNewBroker_Memory(t *testing.T) {
	b, err := NewBroker(context.Background(), &config.Config{BrokerDriver: config.BrokerMemory}, nil)
	require.NoError(t, err)
	defer b.Close()
	assert.IsType(t, &WatermillBridge{}, b)

	_, err = NewBroker(context.Background(), &config.Config{BrokerDriver: "carrier-pigeon"}, nil)
	assert.Error(t, err)
}

func TestNewKafkaBroker_Validation(t *testing.T) {
	_, err := NewKafkaBroker(KafkaConfig{Topic: "t"})
	assert.Error(t, err)
	_, err = NewKafkaBroker(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}

func TestKafkaBroker_DispatchRoutesByTopic(t *testing.T) {
	b, err := NewKafkaBroker(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t", InstanceID: "i1"})
	require.NoError(t, err)
	assert.Equal(t, "roomchat-i1", b.dialer.ClientID)

	live, cancel := context.WithCancel(context.Background())
	dead, kill := context.WithCancel(context.Background())
	kill()
	defer cancel()

	var mu sync.Mutex
	var got []string
	record := func(tag string) Handler {
		return func(_ context.Context, msg Message) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, tag+":"+string(msg.Payload))
			return nil
		}
	}
	b.handlers["chat.room.r1"] = map[int]kafkaSub{
		0: {ctx: live, handler: record("a")},
		1: {ctx: dead, handler: record("dead")},
	}
	b.handlers["chat.room.r2"] = map[int]kafkaSub{2: {ctx: live, handler: record("b")}}

	b.dispatch(Message{Topic: "chat.room.r1", Payload: []byte("x")})
	b.dispatch(Message{Topic: "chat.room.r3", Payload: []byte("y")})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a:x"}, got)
}

func TestKafkaBroker_Integration(t *testing.T) {
	brokers := os.Getenv("KAFKA_BROKERS")
	if testing.Short() || brokers == "" {
		t.Skip("KAFKA_BROKERS not set")
	}
	b, err := NewKafkaBroker(KafkaConfig{Brokers: []string{brokers}, Topic: "roomchat.test", InstanceID: t.Name()})
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var c collector
	require.NoError(t, b.Subscribe(ctx, "chat.room.k1", c.handle))

	// One publish right after Subscribe returns must arrive.
	require.NoError(t, b.Publish(ctx, Message{Topic: "chat.room.k1", Payload: []byte("ping")}))
	require.Eventually(t, func() bool {
		return len(c.getMessages()) == 1
	}, 25*time.Second, 100*time.Millisecond)
	assert.Equal(t, []byte("ping"), c.getMessages()[0].Payload)
}

func TestRedisBroker_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if testing.Short() || addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b, err := NewRedisBroker(ctx, RedisConfig{Addr: addr})
	require.NoError(t, err)
	defer b.Close()

	subCtx, stop := context.WithCancel(ctx)
	var c collector
	require.NoError(t, b.Subscribe(subCtx, "chat.room.redis", c.handle))
	require.NoError(t, b.Publish(ctx, Message{Topic: "chat.room.redis", UserID: "u1", Payload: []byte("hi")}))

	require.Eventually(t, func() bool { return len(c.getMessages()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "u1", c.getMessages()[0].UserID)

	stop()
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, b.Publish(ctx, Message{Topic: "chat.room.redis", Payload: []byte("late")}))
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, c.getMessages(), 1)
}
