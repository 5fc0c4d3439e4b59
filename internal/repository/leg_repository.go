package repository

import (
	"context"

	"github.com/vaidashi/relay-freight-api/internal/database"
	"github.com/vaidashi/relay-freight-api/internal/models"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

const legColumns = `
	id, shipment_id, step, status, courier_id, amount, pickup_code,
	picked_up_at, settlement_id,
	settle_claimed_at, settle_amount, settle_free_benefit, settle_subscription_id,
	canceled_by, created_at, updated_at`

// LegRepository handles database operations for legs
type LegRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewLegRepository creates a new LegRepository
func NewLegRepository(db *database.Database, logger logger.Logger) *LegRepository {
	return &LegRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new leg
func (r *LegRepository) Create(ctx context.Context, leg *models.Leg) error {
	query := `
		INSERT INTO legs (` + legColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := r.db.Conn(ctx).ExecContext(
		ctx,
		query,
		leg.ID, leg.ShipmentID, leg.Step, leg.Status, leg.CourierID, leg.Amount, leg.PickupCode,
		leg.PickedUpAt, leg.SettlementID,
		leg.SettleClaimedAt, leg.SettleAmount, leg.SettleFreeBenefit, leg.SettleSubscriptionID,
		leg.CanceledBy, leg.CreatedAt, leg.UpdatedAt,
	)

	if err != nil {
		r.logger.Error("Failed to create leg", "error", err, "legID", leg.ID, "step", leg.Step)
		return wrapErr(err)
	}

	return nil
}

// GetByID retrieves a leg by ID
func (r *LegRepository) GetByID(ctx context.Context, id string) (*models.Leg, error) {
	return r.get(ctx, `SELECT`+legColumns+` FROM legs WHERE id = $1`, id)
}

// GetForUpdate loads the leg and locks its row for the surrounding transaction
func (r *LegRepository) GetForUpdate(ctx context.Context, id string) (*models.Leg, error) {
	return r.get(ctx, `SELECT`+legColumns+` FROM legs WHERE id = $1 FOR UPDATE`, id)
}

func (r *LegRepository) get(ctx context.Context, query, id string) (*models.Leg, error) {
	var leg models.Leg

	if err := r.db.Conn(ctx).GetContext(ctx, &leg, query, id); err != nil {
		err = wrapErr(err)
		if err != ErrNotFound {
			r.logger.Error("Failed to get leg", "error", err, "legID", id)
		}
		return nil, err
	}

	return &leg, nil
}

// ListByShipment returns every leg of the shipment, canceled ones included
func (r *LegRepository) ListByShipment(ctx context.Context, shipmentID string) ([]models.Leg, error) {
	query := `SELECT` + legColumns + ` FROM legs WHERE shipment_id = $1 ORDER BY step, created_at`

	legs := []models.Leg{}

	if err := r.db.Conn(ctx).SelectContext(ctx, &legs, query, shipmentID); err != nil {
		r.logger.Error("Failed to list legs", "error", err, "shipmentID", shipmentID)
		return nil, wrapErr(err)
	}

	return legs, nil
}

// ListByCourier returns the legs booked by a courier, newest first
func (r *LegRepository) ListByCourier(ctx context.Context, courierID string) ([]models.Leg, error) {
	query := `SELECT` + legColumns + ` FROM legs WHERE courier_id = $1 ORDER BY created_at DESC`

	legs := []models.Leg{}

	if err := r.db.Conn(ctx).SelectContext(ctx, &legs, query, courierID); err != nil {
		r.logger.Error("Failed to list courier legs", "error", err, "courierID", courierID)
		return nil, wrapErr(err)
	}

	return legs, nil
}

// Update writes the mutable leg columns back
func (r *LegRepository) Update(ctx context.Context, leg *models.Leg) error {
	query := `
		UPDATE legs SET
			status = $1, amount = $2, picked_up_at = $3, settlement_id = $4,
			settle_claimed_at = $5, settle_amount = $6, settle_free_benefit = $7, settle_subscription_id = $8,
			canceled_by = $9, updated_at = $10
		WHERE id = $11
	`

	leg.UpdatedAt = models.GetCurrentTime()

	res, err := r.db.Conn(ctx).ExecContext(
		ctx,
		query,
		leg.Status, leg.Amount, leg.PickedUpAt, leg.SettlementID,
		leg.SettleClaimedAt, leg.SettleAmount, leg.SettleFreeBenefit, leg.SettleSubscriptionID,
		leg.CanceledBy, leg.UpdatedAt,
		leg.ID,
	)

	if err != nil {
		r.logger.Error("Failed to update leg", "error", err, "legID", leg.ID)
		return wrapErr(err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	return nil
}
