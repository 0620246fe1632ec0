package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/campuscoin/coin-service/internal/infrastructure/observability"
	"github.com/segmentio/kafka-go"
)

// Consumer tails the event topics for the audit log. Settlement itself is
// synchronous inside the database transaction; these events are post-commit
// notifications only.
type Consumer struct {
	reader *kafka.Reader
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
	}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		var event struct {
			EventType string `json:"event_type"`
			UserID    int32  `json:"user_id,omitempty"`
			Amount    int32  `json:"amount,omitempty"`
		}
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			slog.Error("failed to unmarshal event", "topic", msg.Topic, "error", err)
			continue
		}
		if event.EventType == "" {
			slog.Error("event without event_type", "topic", msg.Topic, "key", string(msg.Key))
			continue
		}

		observability.EventsConsumed.WithLabelValues(msg.Topic, event.EventType).Inc()
		slog.Info("audit event",
			"topic", msg.Topic,
			"event_type", event.EventType,
			"user_id", event.UserID,
			"amount", event.Amount,
			"key", string(msg.Key))
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
