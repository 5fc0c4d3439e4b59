package repository

import (
	"context"

	"github.com/vaidashi/relay-freight-api/internal/database"
	"github.com/vaidashi/relay-freight-api/internal/models"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

type ReviewRepository struct {
	db     *database.Database
	logger logger.Logger
}

func NewReviewRepository(db *database.Database, logger logger.Logger) *ReviewRepository {
	return &ReviewRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a review. A second review of the same leg by the same
// author fails with ErrDuplicate.
func (r *ReviewRepository) Create(ctx context.Context, rv *models.Review) error {
	query := `
		INSERT INTO reviews (id, leg_id, author_id, courier_id, rating, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		rv.ID, rv.LegID, rv.AuthorID, rv.CourierID, rv.Rating, rv.Comment, rv.CreatedAt)

	if err != nil {
		return wrapErr(err)
	}

	return nil
}

// ListByCourier returns the reviews a courier received, newest first
func (r *ReviewRepository) ListByCourier(ctx context.Context, courierID string) ([]*models.Review, error) {
	query := `
		SELECT id, leg_id, author_id, courier_id, rating, comment, created_at
		FROM reviews
		WHERE courier_id = $1
		ORDER BY created_at DESC
	`

	reviews := []*models.Review{}

	if err := r.db.Conn(ctx).SelectContext(ctx, &reviews, query, courierID); err != nil {
		r.logger.Error("Failed to list reviews", "error", err, "courierID", courierID)
		return nil, wrapErr(err)
	}

	return reviews, nil
}
