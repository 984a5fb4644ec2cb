package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/storm-geo-poller/internal/config"
	"github.com/couchcryptid/storm-geo-poller/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Publisher produces render snapshots to a Kafka topic.
// It implements pipeline.SnapshotLoader.
type Publisher struct {
	writer messageWriter
	logger *slog.Logger
	now    func() time.Time
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// NewPublisher creates a Kafka producer for the configured sink topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger, now: time.Now}
}

// PublishSnapshot serializes every event of a render set and writes them in a
// single WriteMessages call. All messages share one published_at stamp.
func (p *Publisher) PublishSnapshot(ctx context.Context, events []domain.GeoEvent) error {
	if len(events) == 0 {
		return nil
	}
	publishedAt := p.now()
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msg, err := serializeToMessage(events[i], publishedAt)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	p.logger.Debug("snapshot written", "messages", len(msgs))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a GeoEvent into a Kafka message keyed by event ID.
func serializeToMessage(event domain.GeoEvent, publishedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize geo event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "category", Value: []byte(event.Category)},
			{Key: "published_at", Value: []byte(publishedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
