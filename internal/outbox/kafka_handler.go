package outbox

import (
	"context"
	"fmt"

	"github.com/vaidashi/relay-freight-api/internal/models"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

// Publisher sends one record to a topic. *kafka.Producer satisfies it.
type Publisher interface {
	SendMessage(ctx context.Context, topic, key, eventType string, value []byte) error
}

// KafkaHandler publishes outbox messages to Kafka
type KafkaHandler struct {
	logger   logger.Logger
	producer Publisher
	topic    string
}

// NewKafkaHandler creates a new KafkaHandler
func NewKafkaHandler(producer Publisher, topic string, logger logger.Logger) *KafkaHandler {
	return &KafkaHandler{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// HandleMessage publishes the event envelope keyed by shipment id, so every
// event of a shipment lands on the same partition in order.
func (h *KafkaHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	err := h.producer.SendMessage(ctx, h.topic, message.AggregateID, message.EventType, message.Payload)

	if err != nil {
		h.logger.Error("Failed to publish message to Kafka",
			"error", err,
			"messageID", message.ID,
			"aggregateID", message.AggregateID)
		return fmt.Errorf("failed to publish message to Kafka: %w", err)
	}

	h.logger.Debug("Published message to Kafka",
		"topic", h.topic,
		"messageID", message.ID,
		"eventType", message.EventType)

	return nil
}
