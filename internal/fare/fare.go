// Package fare computes what a requester is charged when a leg is picked up.
package fare

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/relay-freight-api/internal/models"
	apperrors "github.com/vaidashi/relay-freight-api/pkg/errors"
)

var (
	hundred        = decimal.NewFromInt(100)
	feeRate        = decimal.RequireFromString("0.015")
	feeFixed       = decimal.RequireFromString("0.25")
	minimumCharge  = decimal.NewFromInt(1)
	currencyPlaces = int32(2)
)

// Input is everything the waterfall reads.
type Input struct {
	LegAmount     decimal.Decimal
	Step          int
	DeclaredValue decimal.Decimal
	// Subscription is the requester's active subscription, nil when none.
	Subscription *models.Subscription
	Now          time.Time
}

// Adjustment records one applied waterfall step for invoices and audits.
type Adjustment struct {
	Kind   string          `json:"kind"`
	Amount decimal.Decimal `json:"amount"`
}

// Adjustment kinds.
const (
	AdjustPriority     = "priority_surcharge"
	AdjustFirstFree    = "first_shipping_free"
	AdjustInsurance    = "extra_insurance"
	AdjustDiscount     = "shipping_discount"
	AdjustPermanent    = "permanent_discount"
	AdjustSmallPackage = "small_package_discount"
	AdjustFee          = "processing_fee"
	AdjustMinimum      = "minimum_charge"
)

// Quote is the waterfall result.
type Quote struct {
	Base            decimal.Decimal `json:"base"`
	Amount          decimal.Decimal `json:"amount"`
	AmountMinor     int64           `json:"amount_minor"`
	UsedFreeBenefit bool            `json:"used_free_benefit"`
	Adjustments     []Adjustment    `json:"adjustments"`
}

// Chargeable reports whether the gateway must be called.
func (q Quote) Chargeable() bool {
	return q.AmountMinor > 0
}

// Compute runs the waterfall:
//
//  1. start from the leg amount
//  2. main steps (0 and 1) get the plan's priority surcharge and first-free benefit
//  3. insurance excess and the three discounts apply to every leg with a plan
//  4. non-zero amounts carry the processing fee 1.5% + 0.25
//  5. round half away from zero to cents, reject negatives, lift 0 < x < 1 to 1.00
func Compute(in Input) (Quote, error) {
	q := Quote{Base: in.LegAmount, Adjustments: []Adjustment{}}
	amount := in.LegAmount
	sub := in.Subscription
	if sub != nil && models.IsMainStep(in.Step) {
		plan := sub.Plan

		if sub.PriorityActive(in.Now) {
			surcharge := amount.Mul(plan.PriorityShippingPercentage).Div(hundred)
			amount = amount.Add(surcharge)
			q.add(AdjustPriority, surcharge)
		}

		if plan.FirstShippingFree && !sub.FirstShippingFreeUsed && amount.LessThanOrEqual(plan.FirstShippingFreeThreshold) {
			q.add(AdjustFirstFree, amount.Neg())
			amount = decimal.Zero
			q.UsedFreeBenefit = true
		}
	}

	if sub != nil {
		plan := sub.Plan

		if in.DeclaredValue.GreaterThan(plan.MaxInsuranceCoverage) {
			amount = amount.Add(plan.ExtraInsurancePrice)
			q.add(AdjustInsurance, plan.ExtraInsurancePrice)
		}

		amount = q.subtractClamped(amount, AdjustDiscount, plan.ShippingDiscount)
		amount = q.subtractClamped(amount, AdjustPermanent, plan.PermanentDiscount)
		amount = q.subtractClamped(amount, AdjustSmallPackage, plan.SmallPackagePermanentDiscount)
	}

	if amount.IsPositive() {
		fee := amount.Mul(feeRate).Add(feeFixed)
		amount = amount.Add(fee)
		q.add(AdjustFee, fee)
	}

	amount = amount.Round(currencyPlaces)

	if amount.IsNegative() {
		return Quote{}, apperrors.NewInvalidAmountError(fmt.Sprintf("fare computed a negative amount %s", amount.StringFixed(2)))
	}

	if amount.IsPositive() && amount.LessThan(minimumCharge) {
		q.add(AdjustMinimum, minimumCharge.Sub(amount))
		amount = minimumCharge
	}

	q.Amount = amount
	q.AmountMinor = ToMinorUnits(amount)

	return q, nil
}

// ToMinorUnits converts a currency amount to integer cents.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func (q *Quote) add(kind string, amount decimal.Decimal) {
	q.Adjustments = append(q.Adjustments, Adjustment{Kind: kind, Amount: amount})
}

// subtractClamped takes discount off amount without crossing zero. A
// negative amount entering is left untouched.
func (q *Quote) subtractClamped(amount decimal.Decimal, kind string, discount decimal.Decimal) decimal.Decimal {
	if !discount.IsPositive() || !amount.IsPositive() {
		return amount
	}

	applied := decimal.Min(discount, amount)
	q.add(kind, applied.Neg())

	return amount.Sub(applied)
}
