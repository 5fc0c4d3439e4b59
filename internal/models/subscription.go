package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Plan carries the fare modifiers of a billing plan.
type Plan struct {
	ID                            string          `db:"id" json:"id"`
	Name                          string          `db:"name" json:"name"`
	PriorityMonths                int             `db:"priority_months" json:"priority_months"`
	PriorityShippingPercentage    decimal.Decimal `db:"priority_shipping_percentage" json:"priority_shipping_percentage"`
	FirstShippingFree             bool            `db:"first_shipping_free" json:"first_shipping_free"`
	FirstShippingFreeThreshold    decimal.Decimal `db:"first_shipping_free_threshold" json:"first_shipping_free_threshold"`
	MaxInsuranceCoverage          decimal.Decimal `db:"max_insurance_coverage" json:"max_insurance_coverage"`
	ExtraInsurancePrice           decimal.Decimal `db:"extra_insurance_price" json:"extra_insurance_price"`
	ShippingDiscount              decimal.Decimal `db:"shipping_discount" json:"shipping_discount"`
	PermanentDiscount             decimal.Decimal `db:"permanent_discount" json:"permanent_discount"`
	SmallPackagePermanentDiscount decimal.Decimal `db:"small_package_permanent_discount" json:"small_package_permanent_discount"`
}

// Subscription is a requester's plan enrolment. At most one is active per user.
type Subscription struct {
	ID                    string    `db:"id" json:"id"`
	UserID                string    `db:"user_id" json:"user_id"`
	PlanID                string    `db:"plan_id" json:"plan_id"`
	StartDate             time.Time `db:"start_date" json:"start_date"`
	Active                bool      `db:"active" json:"active"`
	FirstShippingFreeUsed bool      `db:"first_shipping_free_used" json:"first_shipping_free_used"`
	Plan                  Plan      `db:"plan" json:"plan"`
}

// PriorityWindowEnd is the instant the priority surcharge stops applying.
func (s *Subscription) PriorityWindowEnd() time.Time {
	return s.StartDate.AddDate(0, s.Plan.PriorityMonths, 0)
}

// PriorityActive reports whether now falls in [StartDate, PriorityWindowEnd).
func (s *Subscription) PriorityActive(now time.Time) bool {
	return s.Plan.PriorityMonths > 0 && !now.Before(s.StartDate) && now.Before(s.PriorityWindowEnd())
}
