package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Shopify/sarama"

	"github.com/vaidashi/relay-freight-api/internal/clients"
	"github.com/vaidashi/relay-freight-api/internal/models"
	apperrors "github.com/vaidashi/relay-freight-api/pkg/errors"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

// UserLookup loads notification addresses.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// Notifier delivers one notification.
type Notifier interface {
	Send(ctx context.Context, n clients.Notification) error
}

// ShipmentEventsHandler turns leg events from Kafka into notifications for
// the other side of the booking
type ShipmentEventsHandler struct {
	users    UserLookup
	notifier Notifier
	logger   logger.Logger
}

// NewShipmentEventsHandler creates a new ShipmentEventsHandler
func NewShipmentEventsHandler(users UserLookup, notifier Notifier, logger logger.Logger) *ShipmentEventsHandler {
	return &ShipmentEventsHandler{
		users:    users,
		notifier: notifier,
		logger:   logger,
	}
}

// HandleMessage handles one shipment event. Malformed records are logged
// and skipped; delivery failures are returned so the consumer retries.
func (h *ShipmentEventsHandler) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event models.OutboxMessageEvent

	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Error("Failed to unmarshal shipment event", "error", err, "offset", msg.Offset)
		return nil
	}

	switch event.EventType {
	case models.EventLegBooked, models.EventLegCanceled, models.EventLegSettled:
	default:
		return nil
	}

	var data models.LegEventData

	if err := json.Unmarshal(event.Data, &data); err != nil {
		h.logger.Error("Invalid leg event data", "error", err, "eventID", event.EventID)
		return nil
	}

	h.logger.Debug("Handling shipment event",
		"eventType", event.EventType,
		"eventID", event.EventID,
		"shipmentID", event.AggregateID,
		"legID", data.LegID)

	switch event.EventType {
	case models.EventLegBooked:
		return h.notify(ctx, data.RequesterID,
			"A courier booked your shipment",
			fmt.Sprintf("Step %d of shipment %s was booked for %s.", data.Step, data.ShipmentID, data.Amount),
			data)

	case models.EventLegCanceled:
		// tell whoever did not cancel
		recipient := data.CourierID
		if data.ActorID == data.CourierID {
			recipient = data.RequesterID
		}
		return h.notify(ctx, recipient,
			"A leg was canceled",
			fmt.Sprintf("Step %d of shipment %s was canceled.", data.Step, data.ShipmentID),
			data)

	default:
		return h.notify(ctx, data.CourierID,
			"Pickup confirmed",
			fmt.Sprintf("Pickup of step %d of shipment %s is confirmed. You will be paid %s.", data.Step, data.ShipmentID, data.Amount),
			data)
	}
}

func (h *ShipmentEventsHandler) notify(ctx context.Context, userID, subject, body string, data models.LegEventData) error {
	u, err := h.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.logger.Warn("Notification recipient not found", "userID", userID, "legID", data.LegID)
			return nil
		}
		return err
	}

	notes := []clients.Notification{{
		UserID:  u.ID,
		Channel: clients.ChannelPush,
		Subject: subject,
		Body:    body,
		Data:    map[string]string{"leg_id": data.LegID, "shipment_id": data.ShipmentID},
	}}

	if u.Email != "" {
		notes = append(notes, clients.Notification{
			UserID:  u.ID,
			Channel: clients.ChannelEmail,
			To:      u.Email,
			Subject: subject,
			Body:    body,
		})
	}

	var errs []error
	for _, n := range notes {
		if err := h.notifier.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
