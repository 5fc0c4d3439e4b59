package repository

import (
	"context"

	"github.com/vaidashi/relay-freight-api/internal/database"
	"github.com/vaidashi/relay-freight-api/internal/models"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

type FavoriteRepository struct {
	db     *database.Database
	logger logger.Logger
}

func NewFavoriteRepository(db *database.Database, logger logger.Logger) *FavoriteRepository {
	return &FavoriteRepository{
		db:     db,
		logger: logger,
	}
}

// Add marks a courier as favorite. Adding twice is a no-op.
func (r *FavoriteRepository) Add(ctx context.Context, f *models.Favorite) error {
	query := `
		INSERT INTO favorites (requester_id, courier_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (requester_id, courier_id) DO NOTHING
	`

	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, f.RequesterID, f.CourierID, f.CreatedAt); err != nil {
		r.logger.Error("Failed to add favorite", "error", err, "requesterID", f.RequesterID)
		return wrapErr(err)
	}

	return nil
}

// Remove unmarks a favorite
func (r *FavoriteRepository) Remove(ctx context.Context, requesterID, courierID string) error {
	res, err := r.db.Conn(ctx).ExecContext(ctx,
		`DELETE FROM favorites WHERE requester_id = $1 AND courier_id = $2`, requesterID, courierID)

	if err != nil {
		r.logger.Error("Failed to remove favorite", "error", err, "requesterID", requesterID)
		return wrapErr(err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	return nil
}

// List returns the requester's favorites, newest first
func (r *FavoriteRepository) List(ctx context.Context, requesterID string) ([]*models.Favorite, error) {
	query := `
		SELECT requester_id, courier_id, created_at
		FROM favorites
		WHERE requester_id = $1
		ORDER BY created_at DESC
	`

	favorites := []*models.Favorite{}

	if err := r.db.Conn(ctx).SelectContext(ctx, &favorites, query, requesterID); err != nil {
		r.logger.Error("Failed to list favorites", "error", err, "requesterID", requesterID)
		return nil, wrapErr(err)
	}

	return favorites, nil
}
