package feed

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/0xmuggle/cc-ax-bot/internal/bus"
)

// KafkaSource replays room messages published to the feed topic, for setups
// where a relay writes the extension stream to Kafka.
type KafkaSource struct {
	consumer bus.Consumer
	ingestor *Ingestor
}

// NewKafkaSource wires a consumer subscribed to bus.TopicFeed.
func NewKafkaSource(consumer bus.Consumer, ingestor *Ingestor) *KafkaSource {
	return &KafkaSource{consumer: consumer, ingestor: ingestor}
}

// Run consumes until ctx is cancelled.
func (s *KafkaSource) Run(ctx context.Context) error {
	err := s.consumer.Consume(ctx, s.handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *KafkaSource) handle(ctx context.Context, msg bus.Message) error {
	if msg.Topic != bus.TopicFeed {
		log.Debug().Str("topic", msg.Topic).Msg("feed: ignoring foreign topic")
		return nil
	}
	return s.ingestor.Enqueue(ctx, msg.Value)
}
