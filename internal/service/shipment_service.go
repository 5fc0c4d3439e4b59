package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/relay-freight-api/internal/models"
	"github.com/vaidashi/relay-freight-api/internal/route"
	apperrors "github.com/vaidashi/relay-freight-api/pkg/errors"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

// Endpoint describes one end of a shipment.
type Endpoint struct {
	City       string   `json:"city"`
	Address    string   `json:"address"`
	PostalCode string   `json:"postal_code"`
	Lat        *float64 `json:"lat,omitempty"`
	Lon        *float64 `json:"lon,omitempty"`
	Handling   bool     `json:"handling"`
	Elevator   bool     `json:"elevator"`
	Floor      int      `json:"floor"`
}

// CreateShipmentInput is the requester's shipment request.
type CreateShipmentInput struct {
	Origin         Endpoint        `json:"origin"`
	Destination    Endpoint        `json:"destination"`
	WeightKg       decimal.Decimal `json:"weight_kg"`
	VolumeM3       decimal.Decimal `json:"volume_m3"`
	DeclaredValue  decimal.Decimal `json:"declared_value"`
	ProposedPrice  decimal.Decimal `json:"proposed_price"`
	Urgent         bool            `json:"urgent"`
	RecipientName  string          `json:"recipient_name"`
	RecipientEmail string          `json:"recipient_email"`
	RecipientPhone string          `json:"recipient_phone"`
}

// ShipmentDetails is a shipment with its legs and materialized route.
type ShipmentDetails struct {
	Shipment *models.Shipment      `json:"shipment"`
	Status   models.ShipmentStatus `json:"status"`
	Legs     []models.Leg          `json:"legs"`
	Route    route.Route           `json:"route"`
}

// ShipmentService manages shipments and their materialized routes
type ShipmentService struct {
	tx        TxManager
	shipments ShipmentStore
	legs      LegStore
	relays    RelayStore
	outbox    OutboxWriter
	geocoder  Geocoder
	logger    logger.Logger
}

// NewShipmentService creates a new ShipmentService instance. geocoder may be nil.
func NewShipmentService(
	tx TxManager,
	shipments ShipmentStore,
	legs LegStore,
	relays RelayStore,
	outbox OutboxWriter,
	geocoder Geocoder,
	logger logger.Logger,
) *ShipmentService {
	return &ShipmentService{
		tx:        tx,
		shipments: shipments,
		legs:      legs,
		relays:    relays,
		outbox:    outbox,
		geocoder:  geocoder,
		logger:    logger,
	}
}

func validateCreateShipment(in *CreateShipmentInput) error {
	switch {
	case in.Origin.City == "" || in.Origin.Address == "":
		return apperrors.NewInvalidInputError("origin city and address are required")
	case in.Destination.City == "" || in.Destination.Address == "":
		return apperrors.NewInvalidInputError("destination city and address are required")
	case !in.ProposedPrice.IsPositive():
		return apperrors.NewInvalidInputError("proposed price must be positive")
	case in.WeightKg.IsNegative() || in.VolumeM3.IsNegative() || in.DeclaredValue.IsNegative():
		return apperrors.NewInvalidInputError("weight, volume and declared value cannot be negative")
	}
	return nil
}

// Create stores a new shipment for the requester
func (s *ShipmentService) Create(ctx context.Context, actor models.Actor, in CreateShipmentInput) (*models.Shipment, error) {
	if !actor.CanRequest() {
		return nil, apperrors.NewUnauthorizedError("only clients, merchants and providers can create shipments")
	}

	if err := validateCreateShipment(&in); err != nil {
		return nil, err
	}

	now := models.GetCurrentTime()
	sh := &models.Shipment{
		ID:                    models.GenerateID("shp"),
		RequesterID:           actor.UserID,
		OriginCity:            in.Origin.City,
		OriginAddress:         in.Origin.Address,
		OriginPostalCode:      in.Origin.PostalCode,
		OriginHandling:        in.Origin.Handling,
		OriginElevator:        in.Origin.Elevator,
		OriginFloor:           in.Origin.Floor,
		DestinationCity:       in.Destination.City,
		DestinationAddress:    in.Destination.Address,
		DestinationPostalCode: in.Destination.PostalCode,
		DestinationHandling:   in.Destination.Handling,
		DestinationElevator:   in.Destination.Elevator,
		DestinationFloor:      in.Destination.Floor,
		WeightKg:              in.WeightKg,
		VolumeM3:              in.VolumeM3,
		DeclaredValue:         in.DeclaredValue,
		ProposedPrice:         in.ProposedPrice.Round(2),
		Urgent:                in.Urgent,
		RecipientName:         in.RecipientName,
		RecipientEmail:        in.RecipientEmail,
		RecipientPhone:        in.RecipientPhone,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	sh.OriginLat, sh.OriginLon = s.locate(ctx, in.Origin)
	sh.DestinationLat, sh.DestinationLon = s.locate(ctx, in.Destination)

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.shipments.Create(ctx, sh); err != nil {
			return fmt.Errorf("failed to save shipment: %w", err)
		}

		msg, err := models.NewShipmentEvent(models.EventShipmentCreated, sh)
		if err != nil {
			return err
		}

		return s.outbox.Create(ctx, msg)
	})

	if err != nil {
		s.logger.Error("Failed to create shipment", "error", err, "requesterID", actor.UserID)
		return nil, err
	}

	s.logger.Info("Shipment created", "shipmentID", sh.ID, "requesterID", actor.UserID)
	return sh, nil
}

// locate returns the endpoint coordinates, geocoding them when the caller
// left them out. Geocoding is best-effort: a failure leaves 0,0.
func (s *ShipmentService) locate(ctx context.Context, e Endpoint) (float64, float64) {
	if e.Lat != nil && e.Lon != nil {
		return *e.Lat, *e.Lon
	}

	if s.geocoder == nil {
		return 0, 0
	}

	c, err := s.geocoder.Resolve(ctx, fmt.Sprintf("%s %s %s", e.Address, e.PostalCode, e.City))
	if err != nil {
		s.logger.Warn("Failed to geocode shipment endpoint", "error", err, "city", e.City)
		return 0, 0
	}

	return c.Lat, c.Lon
}

// Get returns the shipment with its legs and current route
func (s *ShipmentService) Get(ctx context.Context, id string) (*ShipmentDetails, error) {
	sh, err := s.shipments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return s.details(ctx, sh)
}

// GetRoute materializes the current route of a shipment
func (s *ShipmentService) GetRoute(ctx context.Context, id string) (route.Route, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return route.Route{}, err
	}

	return d.Route, nil
}

// ListRequester returns every shipment of the actor with its route
func (s *ShipmentService) ListRequester(ctx context.Context, actor models.Actor) ([]*ShipmentDetails, error) {
	shipments, err := s.shipments.ListByRequester(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	out := make([]*ShipmentDetails, 0, len(shipments))

	for _, sh := range shipments {
		d, err := s.details(ctx, sh)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}

	return out, nil
}

func (s *ShipmentService) details(ctx context.Context, sh *models.Shipment) (*ShipmentDetails, error) {
	legs, err := s.legs.ListByShipment(ctx, sh.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load legs: %w", err)
	}

	bindings, err := s.relays.ListBindings(ctx, sh.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load relay bindings: %w", err)
	}

	r := route.Materialize(sh, legs, bindings)

	return &ShipmentDetails{
		Shipment: sh,
		Status:   r.Status,
		Legs:     route.SortLegs(legs),
		Route:    r,
	}, nil
}

// Cancel withdraws a shipment nobody has picked up yet. Its pending legs
// are canceled with it and kept for history.
func (s *ShipmentService) Cancel(ctx context.Context, actor models.Actor, id string) (*models.Shipment, error) {
	var sh *models.Shipment

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error

		sh, err = s.shipments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		if sh.RequesterID != actor.UserID {
			return apperrors.NewUnauthorizedError("only the requester can cancel a shipment")
		}

		if sh.CanceledAt != nil {
			return apperrors.NewInvalidTopologyError("shipment is already canceled")
		}

		legs, err := s.legs.ListByShipment(ctx, id)
		if err != nil {
			return err
		}

		for i := range legs {
			if legs[i].HasBeenPaid() {
				return apperrors.NewInvalidTopologyError(fmt.Sprintf("leg %s is already %s", legs[i].ID, legs[i].Status))
			}
			if legs[i].HasOpenSettlement() {
				return apperrors.NewConflictError(fmt.Sprintf("leg %s has a settlement in progress", legs[i].ID))
			}
		}

		for i := range legs {
			leg := &legs[i]
			if leg.Status != models.LegStatusPending {
				continue
			}

			leg.Status = models.LegStatusCanceled
			leg.CanceledBy = &actor.UserID
			leg.ClearClaim()

			if err := s.legs.Update(ctx, leg); err != nil {
				return err
			}

			msg, err := models.NewLegEvent(models.EventLegCanceled, sh, leg, actor.UserID)
			if err != nil {
				return err
			}
			if err := s.outbox.Create(ctx, msg); err != nil {
				return err
			}
		}

		now := models.GetCurrentTime()
		if err := s.shipments.MarkCanceled(ctx, id, now); err != nil {
			return err
		}
		sh.CanceledAt = &now

		msg, err := models.NewShipmentEvent(models.EventShipmentCanceled, sh)
		if err != nil {
			return err
		}

		return s.outbox.Create(ctx, msg)
	})

	if err != nil {
		return nil, err
	}

	s.logger.Info("Shipment canceled", "shipmentID", id, "actorID", actor.UserID)
	return sh, nil
}
