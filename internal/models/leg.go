package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reserved step numbers.
const (
	StepDirect          = 0
	StepFirst           = 1
	MaxIntermediateStep = 999
	StepFinal           = 1000
)

// LegStatus is the lifecycle of one booked hop.
type LegStatus string

const (
	LegStatusPending   LegStatus = "pending"
	LegStatusTaken     LegStatus = "taken"
	LegStatusFinished  LegStatus = "finished"
	LegStatusValidated LegStatus = "validated"
	LegStatusCanceled  LegStatus = "canceled"
)

// Leg is a courier's booking of one hop of a shipment.
//
// The Settle* columns hold an in-flight settlement claim: the quoted amount
// and reserved first-shipment benefit survive a crash between the charge and
// the ledger write, so a retry reuses them instead of charging a new amount.
type Leg struct {
	ID           string          `db:"id" json:"id"`
	ShipmentID   string          `db:"shipment_id" json:"shipment_id"`
	Step         int             `db:"step" json:"step"`
	Status       LegStatus       `db:"status" json:"status"`
	CourierID    string          `db:"courier_id" json:"courier_id"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	PickupCode   string          `db:"pickup_code" json:"-"`
	PickedUpAt   *time.Time      `db:"picked_up_at" json:"picked_up_at,omitempty"`
	SettlementID *string         `db:"settlement_id" json:"settlement_id,omitempty"`

	SettleClaimedAt      *time.Time          `db:"settle_claimed_at" json:"-"`
	SettleAmount         decimal.NullDecimal `db:"settle_amount" json:"-"`
	SettleFreeBenefit    bool                `db:"settle_free_benefit" json:"-"`
	SettleSubscriptionID *string             `db:"settle_subscription_id" json:"-"`

	CanceledBy *string   `db:"canceled_by" json:"canceled_by,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether the leg still occupies its step.
func (l *Leg) IsActive() bool {
	return l.Status != LegStatusCanceled
}

// IsTerminalStep reports whether the leg ends at the shipment destination.
func (l *Leg) IsTerminalStep() bool {
	return l.Step == StepDirect || l.Step == StepFinal
}

// IsMainStep reports whether a leg at step starts at the requester's origin.
func IsMainStep(step int) bool {
	return step == StepDirect || step == StepFirst
}

// HasBeenPaid reports whether the hop's amount is already owed to its courier.
func (l *Leg) HasBeenPaid() bool {
	switch l.Status {
	case LegStatusTaken, LegStatusFinished, LegStatusValidated:
		return true
	}
	return false
}

// HasOpenSettlement reports whether a settlement was started and not resolved:
// a live claim, or a kept quote whose charge outcome is unknown.
func (l *Leg) HasOpenSettlement() bool {
	return l.SettleClaimedAt != nil || l.SettleAmount.Valid
}

// SuspendClaim ends the live claim but keeps its quote, so the next attempt
// looks for the charge before charging again.
func (l *Leg) SuspendClaim() {
	l.SettleClaimedAt = nil
}

// ClearClaim drops an in-flight settlement claim.
func (l *Leg) ClearClaim() {
	l.SettleClaimedAt = nil
	l.SettleAmount = decimal.NullDecimal{}
	l.SettleFreeBenefit = false
	l.SettleSubscriptionID = nil
}

// NewLeg creates a pending leg.
func NewLeg(shipmentID, courierID string, step int, amount decimal.Decimal, pickupCode string) *Leg {
	now := GetCurrentTime()

	return &Leg{
		ID:         GenerateID("leg"),
		ShipmentID: shipmentID,
		Step:       step,
		Status:     LegStatusPending,
		CourierID:  courierID,
		Amount:     amount,
		PickupCode: pickupCode,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
