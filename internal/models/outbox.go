package models

import (
	"encoding/json"
	"time"
)

// OutboxStatus represents the status of an outbox message
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusCompleted  OutboxStatus = "completed"
	OutboxStatusFailed     OutboxStatus = "failed"
	// OutboxStatusDead marks messages that exhausted their retries. They stay
	// in the table until an operator requeues them.
	OutboxStatusDead OutboxStatus = "dead"
)

// Domain events written to the outbox.
const (
	EventShipmentCreated  = "shipment_created"
	EventShipmentCanceled = "shipment_canceled"
	EventLegBooked        = "leg_booked"
	EventLegCanceled      = "leg_canceled"
	EventLegSettled       = "leg_settled"
	EventLegFinished      = "leg_finished"
	EventLegValidated     = "leg_validated"
)

// AllEventTypes lists every event the outbox publishes.
var AllEventTypes = []string{
	EventShipmentCreated,
	EventShipmentCanceled,
	EventLegBooked,
	EventLegCanceled,
	EventLegSettled,
	EventLegFinished,
	EventLegValidated,
}

// OutboxMessage represents a message to be published from the outbox table
type OutboxMessage struct {
	ID                 int64        `db:"id" json:"id"`
	AggregateType      string       `db:"aggregate_type" json:"aggregate_type"`
	AggregateID        string       `db:"aggregate_id" json:"aggregate_id"`
	EventType          string       `db:"event_type" json:"event_type"`
	Payload            []byte       `db:"payload" json:"payload"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
	ProcessedAt        *time.Time   `db:"processed_at" json:"processed_at,omitempty"`
	ProcessingAttempts int          `db:"processing_attempts" json:"processing_attempts"`
	LastError          *string      `db:"last_error" json:"last_error,omitempty"`
	Status             OutboxStatus `db:"status" json:"status"`
}

// OutboxMessageEvent is the JSON envelope stored in Payload and published to Kafka.
type OutboxMessageEvent struct {
	EventType   string          `json:"event_type"`
	EventID     string          `json:"event_id"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Data        json.RawMessage `json:"data"`
}

// LegEventData is the payload of every leg_* event.
type LegEventData struct {
	LegID       string    `json:"leg_id"`
	ShipmentID  string    `json:"shipment_id"`
	Step        int       `json:"step"`
	Status      LegStatus `json:"status"`
	CourierID   string    `json:"courier_id"`
	RequesterID string    `json:"requester_id"`
	Amount      string    `json:"amount"`
	ActorID     string    `json:"actor_id,omitempty"`
}

// ShipmentEventData is the payload of every shipment_* event.
type ShipmentEventData struct {
	ShipmentID  string `json:"shipment_id"`
	RequesterID string `json:"requester_id"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Price       string `json:"price"`
}

// NewOutboxEvent wraps data in an event envelope ready to insert. Shipment id
// is the aggregate for every event so consumers see one ordered stream per shipment.
func NewOutboxEvent(eventType, shipmentID string, data interface{}) (*OutboxMessage, error) {
	raw, err := json.Marshal(data)

	if err != nil {
		return nil, err
	}

	now := GetCurrentTime()

	payload, err := json.Marshal(OutboxMessageEvent{
		EventType:   eventType,
		EventID:     GenerateID("evt"),
		AggregateID: shipmentID,
		OccurredAt:  now,
		Data:        raw,
	})

	if err != nil {
		return nil, err
	}

	return &OutboxMessage{
		AggregateType: "shipment",
		AggregateID:   shipmentID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     now,
		Status:        OutboxStatusPending,
	}, nil
}

// NewLegEvent builds a leg_* event for leg within shipment.
func NewLegEvent(eventType string, shipment *Shipment, leg *Leg, actorID string) (*OutboxMessage, error) {
	return NewOutboxEvent(eventType, shipment.ID, LegEventData{
		LegID:       leg.ID,
		ShipmentID:  shipment.ID,
		Step:        leg.Step,
		Status:      leg.Status,
		CourierID:   leg.CourierID,
		RequesterID: shipment.RequesterID,
		Amount:      leg.Amount.StringFixed(2),
		ActorID:     actorID,
	})
}

// NewShipmentEvent builds a shipment_* event.
func NewShipmentEvent(eventType string, shipment *Shipment) (*OutboxMessage, error) {
	return NewOutboxEvent(eventType, shipment.ID, ShipmentEventData{
		ShipmentID:  shipment.ID,
		RequesterID: shipment.RequesterID,
		Origin:      shipment.OriginCity,
		Destination: shipment.DestinationCity,
		Price:       shipment.ProposedPrice.StringFixed(2),
	})
}
