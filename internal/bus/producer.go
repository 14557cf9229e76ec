package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

// ErrProducerClosed is returned by Publish after Close.
var ErrProducerClosed = errors.New("bus: producer closed")

// Message represents a message to be published to or consumed from Kafka.
type Message struct {
	Topic     string
	Key       string // partition key
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Producer publishes decisions, history entries and heartbeats.
type Producer interface {
	// Publish hands msg to the client and returns without waiting for the
	// broker. Delivery failures surface through Flush and Failed.
	Publish(ctx context.Context, msg Message) error
	// PublishJSON marshals value as JSON and publishes it.
	PublishJSON(ctx context.Context, topic, key string, value interface{}) error
	// Ping checks broker connectivity.
	Ping(ctx context.Context) error
	// Flush waits for all buffered records to be delivered.
	Flush(ctx context.Context) error
	// Close flushes pending records and shuts down the producer.
	Close()
}

// Config configures the Kafka connection.
type Config struct {
	Enabled    bool     `yaml:"enabled"`
	Brokers    []string `yaml:"brokers"`
	InstanceID string   `yaml:"instance_id"`
	LingerMs   int      `yaml:"linger_ms"`
	Acks       string   `yaml:"acks"` // all|leader, default all

	// FeedGroup, when set, consumes TopicFeed as an extra feed source.
	FeedGroup string `yaml:"feed_group"`
}

const schemaVersion = "1.0.0"

// KafkaProducer is a franz-go producer. Records are produced asynchronously
// in per-key order; failed deliveries are logged and counted.
type KafkaProducer struct {
	client         *kgo.Client
	defaultHeaders map[string]string
	failed         atomic.Int64
	mu             sync.RWMutex
	closed         bool
}

// NewProducer creates a producer from cfg with Snappy batch compression.
func NewProducer(cfg Config) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("bus: no brokers configured")
	}
	id := cfg.InstanceID
	if id == "" {
		id = "axbot"
	}
	acks := kgo.AllISRAcks()
	switch cfg.Acks {
	case "", "all":
	case "leader":
		acks = kgo.LeaderAck()
	default:
		return nil, fmt.Errorf("bus: unknown acks %q", cfg.Acks)
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(id),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RequiredAcks(acks),
		kgo.MaxBufferedRecords(10_000),
		kgo.AllowAutoTopicCreation(),
	}
	if cfg.Acks == "leader" {
		opts = append(opts, kgo.DisableIdempotentWrite())
	}
	if cfg.LingerMs > 0 {
		opts = append(opts, kgo.ProducerLinger(time.Duration(cfg.LingerMs)*time.Millisecond))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("instance_id", id).
		Str("acks", cfg.Acks).
		Msg("bus: kafka producer created")

	return &KafkaProducer{
		client:         client,
		defaultHeaders: map[string]string{"producer": id, "schema_version": schemaVersion},
	}, nil
}

func (p *KafkaProducer) messageToRecord(msg Message) *kgo.Record {
	headers := make([]kgo.RecordHeader, 0, len(msg.Headers)+len(p.defaultHeaders)+1)
	for k, v := range p.defaultHeaders {
		if _, exists := msg.Headers[k]; !exists {
			headers = append(headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
	}
	for k, v := range msg.Headers {
		headers = append(headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	if _, ok := msg.Headers["event_id"]; !ok {
		headers = append(headers, kgo.RecordHeader{Key: "event_id", Value: []byte(uuid.New().String())})
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &kgo.Record{
		Topic:     msg.Topic,
		Key:       []byte(msg.Key),
		Value:     msg.Value,
		Headers:   headers,
		Timestamp: ts,
	}
}

// Publish queues msg. It blocks only while the client buffer is full.
func (p *KafkaProducer) Publish(ctx context.Context, msg Message) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrProducerClosed
	}

	p.client.Produce(ctx, p.messageToRecord(msg), func(r *kgo.Record, err error) {
		if err != nil {
			p.failed.Add(1)
			log.Error().Err(err).Str("topic", r.Topic).Str("key", string(r.Key)).Msg("bus: delivery failed")
			return
		}
		log.Debug().
			Str("topic", r.Topic).
			Int32("partition", r.Partition).
			Int64("offset", r.Offset).
			Msg("bus: message delivered")
	})
	return nil
}

// PublishJSON marshals value as JSON and publishes it.
func (p *KafkaProducer) PublishJSON(ctx context.Context, topic, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return p.Publish(ctx, Message{Topic: topic, Key: key, Value: data})
}

// Failed returns the number of records the broker never acknowledged.
func (p *KafkaProducer) Failed() int64 { return p.failed.Load() }

// Ping checks that a broker answers.
func (p *KafkaProducer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Flush waits for all buffered records to be delivered.
func (p *KafkaProducer) Flush(ctx context.Context) error {
	return p.client.Flush(ctx)
}

// Close shuts down the producer. Call Flush first to deliver buffered records.
func (p *KafkaProducer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.client.Close()
	log.Info().Int64("failed", p.failed.Load()).Msg("bus: kafka producer closed")
}

// --- In-memory producer ---

// StubProducer records published messages in memory.
type StubProducer struct {
	mu       sync.Mutex
	messages []Message
}

// NewStubProducer creates a new in-memory stub producer.
func NewStubProducer() *StubProducer {
	return &StubProducer{messages: make([]Message, 0, 64)}
}

func (p *StubProducer) Publish(_ context.Context, msg Message) error {
	p.mu.Lock()
	p.messages = append(p.messages, msg)
	p.mu.Unlock()
	log.Debug().Str("topic", msg.Topic).Int("bytes", len(msg.Value)).Msg("bus: stub publish")
	return nil
}

func (p *StubProducer) PublishJSON(ctx context.Context, topic, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return p.Publish(ctx, Message{Topic: topic, Key: key, Value: data})
}

func (p *StubProducer) Ping(_ context.Context) error  { return nil }
func (p *StubProducer) Flush(_ context.Context) error { return nil }
func (p *StubProducer) Close()                        {}

// Messages returns a copy of the captured messages, optionally filtered by topic.
func (p *StubProducer) Messages(topic string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Message, 0, len(p.messages))
	for _, m := range p.messages {
		if topic == "" || m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
