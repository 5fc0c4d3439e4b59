package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShipmentStatus is derived from the shipment's legs, never stored.
type ShipmentStatus string

const (
	ShipmentStatusPending    ShipmentStatus = "pending"
	ShipmentStatusInProgress ShipmentStatus = "in_progress"
	ShipmentStatusValidated  ShipmentStatus = "validated"
	ShipmentStatusCanceled   ShipmentStatus = "canceled"
)

// Shipment is one parcel movement request from origin to destination.
// Origin and destination columns are written once at creation.
type Shipment struct {
	ID          string `db:"id" json:"id"`
	RequesterID string `db:"requester_id" json:"requester_id"`

	OriginCity       string  `db:"origin_city" json:"origin_city"`
	OriginAddress    string  `db:"origin_address" json:"origin_address"`
	OriginPostalCode string  `db:"origin_postal_code" json:"origin_postal_code"`
	OriginLat        float64 `db:"origin_lat" json:"origin_lat"`
	OriginLon        float64 `db:"origin_lon" json:"origin_lon"`
	OriginHandling   bool    `db:"origin_handling" json:"origin_handling"`
	OriginElevator   bool    `db:"origin_elevator" json:"origin_elevator"`
	OriginFloor      int     `db:"origin_floor" json:"origin_floor"`

	DestinationCity       string  `db:"destination_city" json:"destination_city"`
	DestinationAddress    string  `db:"destination_address" json:"destination_address"`
	DestinationPostalCode string  `db:"destination_postal_code" json:"destination_postal_code"`
	DestinationLat        float64 `db:"destination_lat" json:"destination_lat"`
	DestinationLon        float64 `db:"destination_lon" json:"destination_lon"`
	DestinationHandling   bool    `db:"destination_handling" json:"destination_handling"`
	DestinationElevator   bool    `db:"destination_elevator" json:"destination_elevator"`
	DestinationFloor      int     `db:"destination_floor" json:"destination_floor"`

	WeightKg      decimal.Decimal `db:"weight_kg" json:"weight_kg"`
	VolumeM3      decimal.Decimal `db:"volume_m3" json:"volume_m3"`
	DeclaredValue decimal.Decimal `db:"declared_value" json:"declared_value"`
	ProposedPrice decimal.Decimal `db:"proposed_price" json:"proposed_price"`
	Urgent        bool            `db:"urgent" json:"urgent"`

	RecipientName  string `db:"recipient_name" json:"recipient_name"`
	RecipientEmail string `db:"recipient_email" json:"recipient_email,omitempty"`
	RecipientPhone string `db:"recipient_phone" json:"recipient_phone,omitempty"`

	CanceledAt *time.Time `db:"canceled_at" json:"canceled_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// DeriveShipmentStatus computes the lifecycle status from the legs.
//
//   - canceled:    the requester canceled the shipment
//   - validated:   the hop into the destination (step 0 or 1000) is validated
//   - in_progress: at least one leg is taken, finished or validated
//   - pending:     otherwise
func DeriveShipmentStatus(shipment *Shipment, legs []Leg) ShipmentStatus {
	if shipment != nil && shipment.CanceledAt != nil {
		return ShipmentStatusCanceled
	}

	inProgress := false

	for _, leg := range legs {
		if leg.Status == LegStatusValidated && leg.IsTerminalStep() {
			return ShipmentStatusValidated
		}

		switch leg.Status {
		case LegStatusTaken, LegStatusFinished, LegStatusValidated:
			inProgress = true
		}
	}

	if inProgress {
		return ShipmentStatusInProgress
	}

	return ShipmentStatusPending
}
