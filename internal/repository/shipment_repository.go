package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/relay-freight-api/internal/database"
	"github.com/vaidashi/relay-freight-api/internal/models"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

const shipmentColumns = `
	id, requester_id,
	origin_city, origin_address, origin_postal_code, origin_lat, origin_lon,
	origin_handling, origin_elevator, origin_floor,
	destination_city, destination_address, destination_postal_code, destination_lat, destination_lon,
	destination_handling, destination_elevator, destination_floor,
	weight_kg, volume_m3, declared_value, proposed_price, urgent,
	recipient_name, recipient_email, recipient_phone,
	canceled_at, created_at, updated_at`

// ShipmentRepository provides methods to interact with the shipment table
type ShipmentRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewShipmentRepository creates a new ShipmentRepository instance
func NewShipmentRepository(db *database.Database, logger logger.Logger) *ShipmentRepository {
	return &ShipmentRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new shipment
func (r *ShipmentRepository) Create(ctx context.Context, sh *models.Shipment) error {
	query := `
		INSERT INTO shipments (` + shipmentColumns + `)
		VALUES (
			$1, $2,
			$3, $4, $5, $6, $7,
			$8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18,
			$19, $20, $21, $22, $23,
			$24, $25, $26,
			$27, $28, $29
		)
	`

	_, err := r.db.Conn(ctx).ExecContext(
		ctx,
		query,
		sh.ID, sh.RequesterID,
		sh.OriginCity, sh.OriginAddress, sh.OriginPostalCode, sh.OriginLat, sh.OriginLon,
		sh.OriginHandling, sh.OriginElevator, sh.OriginFloor,
		sh.DestinationCity, sh.DestinationAddress, sh.DestinationPostalCode, sh.DestinationLat, sh.DestinationLon,
		sh.DestinationHandling, sh.DestinationElevator, sh.DestinationFloor,
		sh.WeightKg, sh.VolumeM3, sh.DeclaredValue, sh.ProposedPrice, sh.Urgent,
		sh.RecipientName, sh.RecipientEmail, sh.RecipientPhone,
		sh.CanceledAt, sh.CreatedAt, sh.UpdatedAt,
	)

	if err != nil {
		r.logger.Error("Failed to create shipment", "error", err, "shipmentID", sh.ID)
		return wrapErr(err)
	}

	return nil
}

// GetByID retrieves a shipment by its ID
func (r *ShipmentRepository) GetByID(ctx context.Context, id string) (*models.Shipment, error) {
	return r.get(ctx, `SELECT`+shipmentColumns+` FROM shipments WHERE id = $1`, id)
}

// GetForUpdate loads the shipment and locks its row until the surrounding
// transaction ends. Step allocation for the shipment serializes on this lock.
func (r *ShipmentRepository) GetForUpdate(ctx context.Context, id string) (*models.Shipment, error) {
	return r.get(ctx, `SELECT`+shipmentColumns+` FROM shipments WHERE id = $1 FOR UPDATE`, id)
}

func (r *ShipmentRepository) get(ctx context.Context, query, id string) (*models.Shipment, error) {
	var sh models.Shipment

	if err := r.db.Conn(ctx).GetContext(ctx, &sh, query, id); err != nil {
		err = wrapErr(err)
		if err != ErrNotFound {
			r.logger.Error("Failed to get shipment", "error", err, "shipmentID", id)
		}
		return nil, err
	}

	return &sh, nil
}

// ListByRequester returns the requester's shipments, newest first
func (r *ShipmentRepository) ListByRequester(ctx context.Context, requesterID string) ([]*models.Shipment, error) {
	query := `SELECT` + shipmentColumns + ` FROM shipments WHERE requester_id = $1 ORDER BY created_at DESC`

	shipments := []*models.Shipment{}

	if err := r.db.Conn(ctx).SelectContext(ctx, &shipments, query, requesterID); err != nil {
		r.logger.Error("Failed to list shipments", "error", err, "requesterID", requesterID)
		return nil, wrapErr(err)
	}

	return shipments, nil
}

// UpdatePrice sets the negotiated total price
func (r *ShipmentRepository) UpdatePrice(ctx context.Context, id string, price decimal.Decimal) error {
	query := `UPDATE shipments SET proposed_price = $1, updated_at = $2 WHERE id = $3`

	return r.exec(ctx, "update shipment price", id, query, price, models.GetCurrentTime(), id)
}

// MarkCanceled stamps canceled_at on the shipment
func (r *ShipmentRepository) MarkCanceled(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE shipments SET canceled_at = $1, updated_at = $1 WHERE id = $2`

	return r.exec(ctx, "cancel shipment", id, query, at, id)
}

func (r *ShipmentRepository) exec(ctx context.Context, op, id, query string, args ...interface{}) error {
	res, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)

	if err != nil {
		r.logger.Error("Failed to "+op, "error", err, "shipmentID", id)
		return wrapErr(err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	return nil
}
