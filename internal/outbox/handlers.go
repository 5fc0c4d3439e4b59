package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vaidashi/relay-freight-api/internal/models"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

// LoggingHandler logs outbox messages instead of publishing them. It stands
// in for Kafka when no brokers are configured.
type LoggingHandler struct {
	logger logger.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger logger.Logger) *LoggingHandler {
	return &LoggingHandler{
		logger: logger,
	}
}

// HandleMessage handles the outbox message by logging it
func (h *LoggingHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	var event models.OutboxMessageEvent

	if err := json.Unmarshal(message.Payload, &event); err != nil {
		return fmt.Errorf("failed to unmarshal outbox message: %w", err)
	}

	h.logger.Info("Shipment event",
		"messageID", message.ID,
		"eventType", event.EventType,
		"shipmentID", event.AggregateID,
		"eventID", event.EventID,
		"occurredAt", event.OccurredAt,
		"data", string(event.Data))

	return nil
}
