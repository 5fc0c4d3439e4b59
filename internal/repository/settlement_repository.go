package repository

import (
	"context"

	"github.com/vaidashi/relay-freight-api/internal/database"
	"github.com/vaidashi/relay-freight-api/internal/models"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

// SettlementRepository is the append-only settlement ledger
type SettlementRepository struct {
	db     *database.Database
	logger logger.Logger
}

func NewSettlementRepository(db *database.Database, logger logger.Logger) *SettlementRepository {
	return &SettlementRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a settlement record. The unique leg_id constraint turns a
// second record for the same leg into ErrDuplicate.
func (r *SettlementRepository) Create(ctx context.Context, rec *models.SettlementRecord) error {
	query := `
		INSERT INTO settlements (id, leg_id, amount, amount_minor, currency, transaction_ref, invoice_key, used_free_benefit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		rec.ID, rec.LegID, rec.Amount, rec.AmountMinor, rec.Currency,
		rec.TransactionRef, rec.InvoiceKey, rec.UsedFreeBenefit, rec.CreatedAt)

	if err != nil {
		r.logger.Error("Failed to create settlement", "error", err, "legID", rec.LegID)
		return wrapErr(err)
	}

	return nil
}

// GetByLeg retrieves the settlement of a leg
func (r *SettlementRepository) GetByLeg(ctx context.Context, legID string) (*models.SettlementRecord, error) {
	query := `
		SELECT id, leg_id, amount, amount_minor, currency, transaction_ref, invoice_key, used_free_benefit, created_at
		FROM settlements
		WHERE leg_id = $1
	`

	var rec models.SettlementRecord

	if err := r.db.Conn(ctx).GetContext(ctx, &rec, query, legID); err != nil {
		return nil, wrapErr(err)
	}

	return &rec, nil
}
