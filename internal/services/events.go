package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/campuscoin/coin-service/internal/infrastructure/kafka"
)

const (
	TopicCoinEvents = "coin-events"
	TopicUserEvents = "user-events"
)

// publishEvent sends a post-commit notification. Delivery is best-effort
// with retries; a lost event never affects the committed state.
func publishEvent(producer kafka.KafkaProducer, topic, key string, payload map[string]interface{}) {
	if producer == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal event", "topic", topic, "error", err)
		return
	}
	go func() {
		retries := 3
		for i := 0; i < retries; i++ {
			if err := producer.Send(context.Background(), topic, key, raw); err == nil {
				return
			}
			time.Sleep(time.Second * time.Duration(i+1))
		}
		slog.Error("failed to publish event after retries", "topic", topic, "key", key)
	}()
}
