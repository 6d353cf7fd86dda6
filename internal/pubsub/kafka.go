package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the Kafka broker.
type KafkaConfig struct {
	Brokers []string
	// Topic is the single Kafka topic every bus topic is multiplexed onto.
	Topic string
	// InstanceID names this process's client towards the brokers.
	InstanceID string
}

// startTimeout bounds how long the first Subscribe waits for the topic's
// partitions and end offsets.
const startTimeout = 10 * time.Second

// KafkaBroker multiplexes bus topics onto one Kafka topic, keyed by bus topic
// so a room's messages stay on one partition and keep their order.
//
// Every instance reads every partition directly, without a consumer group,
// starting at the end offsets resolved by the first Subscribe. A message
// published after Subscribe returns is therefore always delivered.
// Partitions added to the topic later are not read until restart.
type KafkaBroker struct {
	writer *kafka.Writer
	dialer *kafka.Dialer
	cfg    KafkaConfig
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[string]map[int]kafkaSub
	nextID   int
	readers  []*kafka.Reader
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
}

type kafkaSub struct {
	ctx     context.Context
	handler Handler
}

var (
	_ Broker = (*KafkaBroker)(nil)
	_ Pinger = (*KafkaBroker)(nil)
)

// NewKafkaBroker creates the writer. The readers start with the first
// subscription.
func NewKafkaBroker(cfg KafkaConfig) (*KafkaBroker, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka broker: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka broker: topic is required")
	}
	return &KafkaBroker{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
		dialer: &kafka.Dialer{
			ClientID:  clientID(cfg.InstanceID),
			Timeout:   10 * time.Second,
			DualStack: true,
		},
		cfg:      cfg,
		logger:   slog.Default().With("component", "kafka_broker"),
		handlers: make(map[string]map[int]kafkaSub),
	}, nil
}

// Ping dials the first reachable broker and reads the topic's partitions.
func (b *KafkaBroker) Ping(ctx context.Context) error {
	_, err := b.partitions(ctx)
	return err
}

func clientID(instanceID string) string {
	return "roomchat-" + instanceID
}

func (b *KafkaBroker) partitions(ctx context.Context) ([]kafka.Partition, error) {
	var lastErr error
	for _, addr := range b.cfg.Brokers {
		conn, err := b.dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		partitions, err := conn.ReadPartitions(b.cfg.Topic)
		conn.Close()
		return partitions, err
	}
	return nil, fmt.Errorf("kafka broker: no broker reachable: %w", lastErr)
}

// endOffset returns the offset the next message on partition will get.
func (b *KafkaBroker) endOffset(ctx context.Context, partition int) (int64, error) {
	var lastErr error
	for _, addr := range b.cfg.Brokers {
		conn, err := b.dialer.DialLeader(ctx, "tcp", addr, b.cfg.Topic, partition)
		if err != nil {
			lastErr = err
			continue
		}
		offset, err := conn.ReadLastOffset()
		conn.Close()
		return offset, err
	}
	return 0, fmt.Errorf("kafka broker: no leader reachable for partition %d: %w", partition, lastErr)
}

func (b *KafkaBroker) Publish(ctx context.Context, msg Message) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return fmt.Errorf("kafka broker: encode: %w", err)
	}
	err = b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Topic),
		Value: data,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("kafka broker: publish %s: %w", msg.Topic, err)
	}
	return nil
}

// Subscribe registers handler for topic on the shared readers. The first
// call starts them and returns only once every partition is positioned. The
// handler is removed when ctx is canceled.
func (b *KafkaBroker) Subscribe(ctx context.Context, topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("kafka broker: closed")
	}
	if b.readers == nil {
		if err := b.startReaders(ctx); err != nil {
			return err
		}
	}

	id := b.nextID
	b.nextID++
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[int]kafkaSub)
	}
	b.handlers[topic][id] = kafkaSub{ctx: ctx, handler: handler}

	context.AfterFunc(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[topic], id)
		if len(b.handlers[topic]) == 0 {
			delete(b.handlers, topic)
		}
	})
	return nil
}

// startReaders must be called with b.mu held. The topic may not exist yet
// when nothing was ever published, so lookups are retried until startTimeout.
func (b *KafkaBroker) startReaders(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	var (
		partitions []kafka.Partition
		offsets    []int64
		err        error
	)
	for {
		partitions, offsets, err = b.resolveOffsets(ctx)
		if err == nil {
			break
		}
		b.logger.Warn("Kafka topic not ready, retrying", "topic", b.cfg.Topic, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("kafka broker: start readers: %w", err)
		case <-time.After(500 * time.Millisecond):
		}
	}

	readCtx, stop := context.WithCancel(context.Background())
	b.cancel = stop
	b.readers = make([]*kafka.Reader, 0, len(partitions))
	for i, p := range partitions {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:   b.cfg.Brokers,
			Topic:     b.cfg.Topic,
			Partition: p.ID,
			Dialer:    b.dialer,
			MinBytes:  1,
			MaxBytes:  10e6,
			MaxWait:   250 * time.Millisecond,
		})
		if err := reader.SetOffset(offsets[i]); err != nil {
			b.logger.Error("Failed to position Kafka reader", "partition", p.ID, "offset", offsets[i], "error", err)
			reader.Close()
			continue
		}
		b.readers = append(b.readers, reader)
		b.wg.Add(1)
		go b.consume(readCtx, reader)
	}
	b.logger.Info("Kafka readers started", "topic", b.cfg.Topic, "partitions", len(b.readers))
	return nil
}

func (b *KafkaBroker) resolveOffsets(ctx context.Context) ([]kafka.Partition, []int64, error) {
	partitions, err := b.partitions(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(partitions) == 0 {
		return nil, nil, fmt.Errorf("topic %s has no partitions", b.cfg.Topic)
	}
	offsets := make([]int64, len(partitions))
	for i, p := range partitions {
		if offsets[i], err = b.endOffset(ctx, p.ID); err != nil {
			return nil, nil, err
		}
	}
	return partitions, offsets, nil
}

func (b *KafkaBroker) consume(ctx context.Context, reader *kafka.Reader) {
	defer b.wg.Done()
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("Kafka read failed, retrying", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		msg, err := decodeMessage(m.Value)
		if err != nil {
			b.logger.Warn("Dropping undecodable message", "key", string(m.Key), "error", err)
			continue
		}
		b.dispatch(msg)
	}
}

// dispatch hands msg to every live handler subscribed to its topic.
func (b *KafkaBroker) dispatch(msg Message) {
	b.mu.Lock()
	subs := make([]kafkaSub, 0, len(b.handlers[msg.Topic]))
	for _, s := range b.handlers[msg.Topic] {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if s.ctx.Err() != nil {
			continue
		}
		if err := s.handler(s.ctx, msg); err != nil {
			b.logger.Error("Failed to handle message", "topic", msg.Topic, "error", err)
		}
	}
}

// Close stops the readers and flushes the writer.
func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	readers, cancel := b.readers, b.cancel
	b.mu.Unlock()

	var errs []error
	if cancel != nil {
		cancel()
		b.wg.Wait()
	}
	for _, r := range readers {
		errs = append(errs, r.Close())
	}
	errs = append(errs, b.writer.Close())
	return errors.Join(errs...)
}
