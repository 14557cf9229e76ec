package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

// ErrConsumerClosed is returned by Consume after Close.
var ErrConsumerClosed = errors.New("bus: consumer closed")

// MessageHandler processes a consumed message. A returned error is logged;
// the record is still committed.
type MessageHandler func(ctx context.Context, msg Message) error

// Consumer reads messages from Kafka topics.
type Consumer interface {
	// Consume runs the poll loop until ctx is cancelled.
	Consume(ctx context.Context, handler MessageHandler) error
	// Close shuts down the consumer and commits final offsets.
	Close()
}

type consumerConfig struct {
	fromStart bool
}

// ConsumerOption configures a KafkaConsumer.
type ConsumerOption func(*consumerConfig)

// WithReplay makes a new consumer group start at the earliest offset.
// Without it a new group only sees records produced after it joins, so a
// restarted service does not act on stale surge batches.
func WithReplay() ConsumerOption {
	return func(c *consumerConfig) { c.fromStart = true }
}

// KafkaConsumer is a franz-go group consumer with auto-commit.
type KafkaConsumer struct {
	client  *kgo.Client
	groupID string
	topics  []string
	mu      sync.Mutex
	closed  bool
}

// NewConsumer creates a group consumer subscribed to topics.
func NewConsumer(brokers []string, groupID string, topics []string, opts ...ConsumerOption) (*KafkaConsumer, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("bus: at least one topic is required")
	}
	if groupID == "" {
		return nil, fmt.Errorf("bus: consumer group is required")
	}

	cfg := consumerConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	reset := kgo.NewOffset().AtEnd()
	if cfg.fromStart {
		reset = kgo.NewOffset().AtStart()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(groupID),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(reset),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	log.Info().
		Strs("brokers", brokers).
		Str("group_id", groupID).
		Strs("topics", topics).
		Bool("replay", cfg.fromStart).
		Msg("bus: kafka consumer created")

	return &KafkaConsumer{client: client, groupID: groupID, topics: topics}, nil
}

// Consume polls until ctx is cancelled and hands every record to handler in
// partition order. Handler errors are logged and do not stop consumption.
func (c *KafkaConsumer) Consume(ctx context.Context, handler MessageHandler) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConsumerClosed
	}

	log.Info().Strs("topics", c.topics).Str("group", c.groupID).Msg("bus: consumer loop started")

	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if fetches.IsClientClosed() {
			return ErrConsumerClosed
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			log.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("bus: fetch error")
		})

		fetches.EachRecord(func(record *kgo.Record) {
			if err := handler(ctx, recordToMessage(record)); err != nil {
				log.Error().Err(err).
					Str("topic", record.Topic).
					Int32("partition", record.Partition).
					Int64("offset", record.Offset).
					Msg("bus: message handler error")
			}
		})
	}
}

// Close shuts down the consumer, committing final offsets.
func (c *KafkaConsumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.client.Close()
	log.Info().Str("group", c.groupID).Msg("bus: kafka consumer closed")
}

func recordToMessage(r *kgo.Record) Message {
	headers := make(map[string]string, len(r.Headers))
	for _, h := range r.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		Topic:     r.Topic,
		Key:       string(r.Key),
		Value:     r.Value,
		Headers:   headers,
		Timestamp: r.Timestamp,
	}
}
