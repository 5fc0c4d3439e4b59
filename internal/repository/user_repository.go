package repository

import (
	"context"

	"github.com/vaidashi/relay-freight-api/internal/database"
	"github.com/vaidashi/relay-freight-api/internal/models"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

type UserRepository struct {
	db     *database.Database
	logger logger.Logger
}

func NewUserRepository(db *database.Database, logger logger.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves a user profile
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, kind, display_name, email, phone, payment_customer_ref, payment_method_ref, created_at
		FROM users
		WHERE id = $1
	`

	var u models.User

	if err := r.db.Conn(ctx).GetContext(ctx, &u, query, id); err != nil {
		err = wrapErr(err)
		if err != ErrNotFound {
			r.logger.Error("Failed to get user", "error", err, "userID", id)
		}
		return nil, err
	}

	return &u, nil
}

// ResolveActor loads the caller profile behind a trusted user id
func (r *UserRepository) ResolveActor(ctx context.Context, id string) (models.Actor, error) {
	u, err := r.GetByID(ctx, id)

	if err != nil {
		return models.Actor{}, err
	}

	return models.ActorFromUser(u), nil
}
