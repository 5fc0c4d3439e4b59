package repository

import (
	"context"

	"github.com/vaidashi/relay-freight-api/internal/database"
	"github.com/vaidashi/relay-freight-api/internal/models"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

// SubscriptionRepository reads subscriptions joined with their plan
type SubscriptionRepository struct {
	db     *database.Database
	logger logger.Logger
}

func NewSubscriptionRepository(db *database.Database, logger logger.Logger) *SubscriptionRepository {
	return &SubscriptionRepository{
		db:     db,
		logger: logger,
	}
}

// LockActiveByUser loads the user's active subscription and locks the
// subscription row. It returns nil without error when the user has none.
func (r *SubscriptionRepository) LockActiveByUser(ctx context.Context, userID string) (*models.Subscription, error) {
	query := `
		SELECT
			s.id, s.user_id, s.plan_id, s.start_date, s.active, s.first_shipping_free_used,
			p.id AS "plan.id",
			p.name AS "plan.name",
			p.priority_months AS "plan.priority_months",
			p.priority_shipping_percentage AS "plan.priority_shipping_percentage",
			p.first_shipping_free AS "plan.first_shipping_free",
			p.first_shipping_free_threshold AS "plan.first_shipping_free_threshold",
			p.max_insurance_coverage AS "plan.max_insurance_coverage",
			p.extra_insurance_price AS "plan.extra_insurance_price",
			p.shipping_discount AS "plan.shipping_discount",
			p.permanent_discount AS "plan.permanent_discount",
			p.small_package_permanent_discount AS "plan.small_package_permanent_discount"
		FROM subscriptions s
		JOIN plans p ON p.id = s.plan_id
		WHERE s.user_id = $1 AND s.active
		FOR UPDATE OF s
	`

	var sub models.Subscription

	if err := r.db.Conn(ctx).GetContext(ctx, &sub, query, userID); err != nil {
		err = wrapErr(err)
		if err == ErrNotFound {
			return nil, nil
		}
		r.logger.Error("Failed to load subscription", "error", err, "userID", userID)
		return nil, err
	}

	return &sub, nil
}

// SetFirstFreeUsed flips the one-shot first shipment benefit
func (r *SubscriptionRepository) SetFirstFreeUsed(ctx context.Context, id string, used bool) error {
	query := `UPDATE subscriptions SET first_shipping_free_used = $1 WHERE id = $2`

	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, used, id); err != nil {
		r.logger.Error("Failed to update subscription benefit", "error", err, "subscriptionID", id)
		return wrapErr(err)
	}

	return nil
}
