package repository

import (
	"context"

	"github.com/vaidashi/relay-freight-api/internal/database"
	"github.com/vaidashi/relay-freight-api/internal/models"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

// RelayRepository stores relay points and their per-shipment step bindings
type RelayRepository struct {
	db     *database.Database
	logger logger.Logger
}

func NewRelayRepository(db *database.Database, logger logger.Logger) *RelayRepository {
	return &RelayRepository{
		db:     db,
		logger: logger,
	}
}

// CreatePoint inserts a relay point
func (r *RelayRepository) CreatePoint(ctx context.Context, p *models.RelayPoint) error {
	query := `
		INSERT INTO relay_points (id, warehouse_id, label, city, address, postal_code, lat, lon, is_drop_box, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		p.ID, p.WarehouseID, p.Label, p.City, p.Address, p.PostalCode, p.Lat, p.Lon, p.IsDropBox, p.CreatedAt)

	if err != nil {
		r.logger.Error("Failed to create relay point", "error", err, "relayPointID", p.ID)
		return wrapErr(err)
	}

	return nil
}

// GetPoint retrieves a relay point by ID
func (r *RelayRepository) GetPoint(ctx context.Context, id string) (*models.RelayPoint, error) {
	query := `
		SELECT id, warehouse_id, label, city, address, postal_code, lat, lon, is_drop_box, created_at
		FROM relay_points
		WHERE id = $1
	`

	var p models.RelayPoint

	if err := r.db.Conn(ctx).GetContext(ctx, &p, query, id); err != nil {
		return nil, wrapErr(err)
	}

	return &p, nil
}

// CreateBinding binds a relay point to a step. A second binding on the same
// (shipment, step) fails with ErrDuplicate.
func (r *RelayRepository) CreateBinding(ctx context.Context, b *models.RelayBinding) error {
	query := `
		INSERT INTO relay_bindings (shipment_id, step, relay_point_id, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.Conn(ctx).ExecContext(ctx, query, b.ShipmentID, b.Step, b.RelayPointID, b.CreatedAt)

	if err != nil {
		err = wrapErr(err)
		r.logger.Warn("Failed to create relay binding", "error", err, "shipmentID", b.ShipmentID, "step", b.Step)
		return err
	}

	return nil
}

// ListBindings returns the shipment's bindings with their relay points, by step
func (r *RelayRepository) ListBindings(ctx context.Context, shipmentID string) ([]models.RelayBinding, error) {
	query := `
		SELECT
			b.shipment_id, b.step, b.relay_point_id, b.created_at,
			p.id AS "point.id",
			p.warehouse_id AS "point.warehouse_id",
			p.label AS "point.label",
			p.city AS "point.city",
			p.address AS "point.address",
			p.postal_code AS "point.postal_code",
			p.lat AS "point.lat",
			p.lon AS "point.lon",
			p.is_drop_box AS "point.is_drop_box",
			p.created_at AS "point.created_at"
		FROM relay_bindings b
		JOIN relay_points p ON p.id = b.relay_point_id
		WHERE b.shipment_id = $1
		ORDER BY b.step
	`

	bindings := []models.RelayBinding{}

	if err := r.db.Conn(ctx).SelectContext(ctx, &bindings, query, shipmentID); err != nil {
		r.logger.Error("Failed to list relay bindings", "error", err, "shipmentID", shipmentID)
		return nil, wrapErr(err)
	}

	return bindings, nil
}
