package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vaidashi/relay-freight-api/internal/models"
	"github.com/vaidashi/relay-freight-api/internal/repository"
	apperrors "github.com/vaidashi/relay-freight-api/pkg/errors"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

// FavoriteService keeps each requester's list of preferred couriers
type FavoriteService struct {
	favorites FavoriteStore
	users     UserStore
	logger    logger.Logger
}

func NewFavoriteService(favorites FavoriteStore, users UserStore, logger logger.Logger) *FavoriteService {
	return &FavoriteService{favorites: favorites, users: users, logger: logger}
}

// Add marks courierID as a favorite of the actor. Adding twice is a no-op.
func (s *FavoriteService) Add(ctx context.Context, actor models.Actor, courierID string) (*models.Favorite, error) {
	if !actor.CanRequest() {
		return nil, apperrors.NewUnauthorizedError("only requesters keep favorites")
	}

	u, err := s.users.GetByID(ctx, courierID)
	if err != nil {
		return nil, err
	}

	if u.Kind != models.UserKindCourier {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("courier %s not found", courierID))
	}

	f := &models.Favorite{
		RequesterID: actor.UserID,
		CourierID:   courierID,
		CreatedAt:   models.GetCurrentTime(),
	}

	if err := s.favorites.Add(ctx, f); err != nil {
		return nil, err
	}

	return f, nil
}

func (s *FavoriteService) Remove(ctx context.Context, actor models.Actor, courierID string) error {
	return s.favorites.Remove(ctx, actor.UserID, courierID)
}

func (s *FavoriteService) List(ctx context.Context, actor models.Actor) ([]*models.Favorite, error) {
	return s.favorites.List(ctx, actor.UserID)
}

// ReviewInput is a rating of the courier who carried a leg.
type ReviewInput struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// ReviewService records requester ratings of couriers
type ReviewService struct {
	reviews   ReviewStore
	legs      LegStore
	shipments ShipmentStore
	logger    logger.Logger
}

func NewReviewService(reviews ReviewStore, legs LegStore, shipments ShipmentStore, logger logger.Logger) *ReviewService {
	return &ReviewService{reviews: reviews, legs: legs, shipments: shipments, logger: logger}
}

// Create reviews the courier of a validated leg. Only the shipment's
// requester may review, once per leg.
func (s *ReviewService) Create(ctx context.Context, actor models.Actor, legID string, in ReviewInput) (*models.Review, error) {
	if in.Rating < 1 || in.Rating > 5 {
		return nil, apperrors.NewInvalidInputError("rating must be between 1 and 5")
	}

	leg, err := s.legs.GetByID(ctx, legID)
	if err != nil {
		return nil, err
	}

	sh, err := s.shipments.GetByID(ctx, leg.ShipmentID)
	if err != nil {
		return nil, err
	}

	if sh.RequesterID != actor.UserID {
		return nil, apperrors.NewUnauthorizedError("only the requester can review this leg")
	}

	if leg.Status != models.LegStatusValidated {
		return nil, apperrors.NewInvalidTopologyError("only validated legs can be reviewed")
	}

	rv := &models.Review{
		ID:        models.GenerateID("rev"),
		LegID:     leg.ID,
		AuthorID:  actor.UserID,
		CourierID: leg.CourierID,
		Rating:    in.Rating,
		Comment:   strings.TrimSpace(in.Comment),
		CreatedAt: models.GetCurrentTime(),
	}

	if err := s.reviews.Create(ctx, rv); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewConflictError("leg already reviewed")
		}
		return nil, err
	}

	return rv, nil
}

// ListForCourier returns a courier's reviews and their average rating
func (s *ReviewService) ListForCourier(ctx context.Context, courierID string) (*models.CourierReviews, error) {
	reviews, err := s.reviews.ListByCourier(ctx, courierID)
	if err != nil {
		return nil, err
	}

	out := &models.CourierReviews{CourierID: courierID, Count: len(reviews), Reviews: reviews}

	if len(reviews) > 0 {
		sum := 0
		for _, r := range reviews {
			sum += r.Rating
		}
		out.AverageRating = float64(sum) / float64(len(reviews))
	}

	return out, nil
}
