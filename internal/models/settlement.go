package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementRecord is the append-only ledger entry for a taken leg. The
// unique leg_id column guarantees one record per leg.
type SettlementRecord struct {
	ID              string          `db:"id" json:"id"`
	LegID           string          `db:"leg_id" json:"leg_id"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	AmountMinor     int64           `db:"amount_minor" json:"amount_minor"`
	Currency        string          `db:"currency" json:"currency"`
	TransactionRef  *string         `db:"transaction_ref" json:"transaction_ref,omitempty"`
	InvoiceKey      string          `db:"invoice_key" json:"invoice_key,omitempty"`
	UsedFreeBenefit bool            `db:"used_free_benefit" json:"used_free_benefit"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}
