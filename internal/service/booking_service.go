package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/relay-freight-api/internal/clients"
	"github.com/vaidashi/relay-freight-api/internal/metrics"
	"github.com/vaidashi/relay-freight-api/internal/models"
	"github.com/vaidashi/relay-freight-api/internal/repository"
	"github.com/vaidashi/relay-freight-api/internal/route"
	apperrors "github.com/vaidashi/relay-freight-api/pkg/errors"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

// RelayInput names the relay of a partial booking: an existing relay point,
// or an address geocoded into a new one.
type RelayInput struct {
	RelayPointID string `json:"relay_point_id"`
	Label        string `json:"label"`
	City         string `json:"city"`
	Address      string `json:"address"`
	PostalCode   string `json:"postal_code"`
	IsDropBox    bool   `json:"is_drop_box"`
}

// PartialBookingInput is a courier's offer to carry the shipment up to a new relay.
type PartialBookingInput struct {
	ShipmentID    string          `json:"-"`
	Relay         RelayInput      `json:"relay"`
	NewTotalPrice decimal.Decimal `json:"new_total_price"`
	LegPrice      decimal.Decimal `json:"leg_price"`
}

// BookedLeg is a freshly booked leg with the code the courier hands over at pickup.
type BookedLeg struct {
	*models.Leg
	PickupCode string `json:"pickup_code"`
}

// CourierLeg is one of a courier's legs with the route of its shipment.
type CourierLeg struct {
	Leg   models.Leg  `json:"leg"`
	Route route.Route `json:"route"`
}

// BookingService allocates steps and manages the leg lifecycle
type BookingService struct {
	tx        TxManager
	shipments ShipmentStore
	legs      LegStore
	relays    RelayStore
	users     UserStore
	outbox    OutboxWriter
	geocoder  Geocoder
	logger    logger.Logger
	newCode   func() (string, error)
}

func NewBookingService(
	tx TxManager,
	shipments ShipmentStore,
	legs LegStore,
	relays RelayStore,
	users UserStore,
	outbox OutboxWriter,
	geocoder Geocoder,
	logger logger.Logger,
) *BookingService {
	return &BookingService{
		tx:        tx,
		shipments: shipments,
		legs:      legs,
		relays:    relays,
		users:     users,
		outbox:    outbox,
		geocoder:  geocoder,
		logger:    logger,
		newCode:   generatePickupCode,
	}
}

// generatePickupCode returns a uniformly random 6 digit code.
func generatePickupCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate pickup code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// requireCourier checks that actor is a stored courier profile.
func (s *BookingService) requireCourier(ctx context.Context, actor models.Actor) error {
	if !actor.CanCarry() {
		return apperrors.NewUnauthorizedError("only couriers can book legs")
	}

	u, err := s.users.GetByID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NewNotFoundError(fmt.Sprintf("courier %s not found", actor.UserID))
		}
		return err
	}

	if u.Kind != models.UserKindCourier {
		return apperrors.NewNotFoundError(fmt.Sprintf("courier %s not found", actor.UserID))
	}

	return nil
}

// lockBookable locks the shipment row and checks it accepts bookings by courierID.
func (s *BookingService) lockBookable(ctx context.Context, shipmentID, courierID string) (*models.Shipment, error) {
	sh, err := s.shipments.GetForUpdate(ctx, shipmentID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("shipment %s not found", shipmentID))
		}
		return nil, err
	}

	if sh.CanceledAt != nil {
		return nil, apperrors.NewInvalidTopologyError("shipment is canceled")
	}

	if sh.RequesterID == courierID {
		return nil, apperrors.NewInvalidTopologyError("requester cannot carry their own shipment")
	}

	return sh, nil
}

func (s *BookingService) writeLegEvent(ctx context.Context, eventType string, sh *models.Shipment, leg *models.Leg, actorID string) error {
	msg, err := models.NewLegEvent(eventType, sh, leg, actorID)
	if err != nil {
		return err
	}
	return s.outbox.Create(ctx, msg)
}

// BookFullShipment books the rest of the shipment in one hop: step 0 on an
// empty chain, the final step 1000 when intermediate legs exist.
func (s *BookingService) BookFullShipment(ctx context.Context, actor models.Actor, shipmentID string) (*BookedLeg, error) {
	if err := s.requireCourier(ctx, actor); err != nil {
		return nil, err
	}

	code, err := s.newCode()
	if err != nil {
		return nil, err
	}

	var leg *models.Leg

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		sh, err := s.lockBookable(ctx, shipmentID, actor.UserID)
		if err != nil {
			return err
		}

		legs, err := s.legs.ListByShipment(ctx, sh.ID)
		if err != nil {
			return err
		}

		step := models.StepDirect
		paid := decimal.Zero

		for i := range legs {
			l := &legs[i]

			if l.Step >= models.StepFirst {
				step = models.StepFinal
			}

			if l.IsActive() && (l.Step == models.StepDirect || l.Step == models.StepFinal) {
				return apperrors.NewInvalidTopologyError(fmt.Sprintf("step %d is already booked", l.Step))
			}

			if l.HasBeenPaid() {
				paid = paid.Add(l.Amount)
			}
		}

		amount := sh.ProposedPrice.Sub(paid)
		if amount.IsNegative() {
			return apperrors.NewInvalidAmountError(fmt.Sprintf("settled legs exceed the shipment price by %s", amount.Neg().StringFixed(2)))
		}

		leg = models.NewLeg(sh.ID, actor.UserID, step, amount, code)

		if err := s.legs.Create(ctx, leg); err != nil {
			return err
		}

		return s.writeLegEvent(ctx, models.EventLegBooked, sh, leg, actor.UserID)
	})

	if err != nil {
		s.logger.Warn("Full booking rejected", "error", err, "shipmentID", shipmentID, "courierID", actor.UserID)
		return nil, err
	}

	kind := "direct"
	if leg.Step == models.StepFinal {
		kind = "final"
	}
	metrics.LegsBooked.WithLabelValues(kind).Inc()

	s.logger.Info("Leg booked", "legID", leg.ID, "shipmentID", shipmentID, "step", leg.Step, "amount", leg.Amount.StringFixed(2))
	return &BookedLeg{Leg: leg, PickupCode: code}, nil
}

func validatePartialBooking(in *PartialBookingInput) error {
	switch {
	case !in.LegPrice.IsPositive():
		return apperrors.NewInvalidInputError("leg price must be positive")
	case !in.NewTotalPrice.IsPositive():
		return apperrors.NewInvalidInputError("new total price must be positive")
	case in.LegPrice.GreaterThan(in.NewTotalPrice):
		return apperrors.NewInvalidInputError("leg price cannot exceed the total price")
	case in.Relay.RelayPointID == "" && (strings.TrimSpace(in.Relay.Address) == "" || strings.TrimSpace(in.Relay.City) == ""):
		return apperrors.NewInvalidInputError("relay needs a relay point id or an address and city")
	}
	return nil
}

// BookPartialLeg inserts a new relay after the highest bound step and books
// the hop into it. Step allocation is serialized by the shipment row lock.
func (s *BookingService) BookPartialLeg(ctx context.Context, actor models.Actor, in PartialBookingInput) (*BookedLeg, error) {
	if err := validatePartialBooking(&in); err != nil {
		return nil, err
	}

	if err := s.requireCourier(ctx, actor); err != nil {
		return nil, err
	}

	var coords *clients.Coordinates

	if in.Relay.RelayPointID == "" {
		if s.geocoder == nil {
			return nil, apperrors.NewInvalidInputError("ad-hoc relay points are not available")
		}

		c, err := s.geocoder.Resolve(ctx, fmt.Sprintf("%s %s %s", in.Relay.Address, in.Relay.PostalCode, in.Relay.City))
		if err != nil {
			return nil, err
		}
		coords = &c
	}

	code, err := s.newCode()
	if err != nil {
		return nil, err
	}

	var leg *models.Leg

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		sh, err := s.lockBookable(ctx, in.ShipmentID, actor.UserID)
		if err != nil {
			return err
		}

		legs, err := s.legs.ListByShipment(ctx, sh.ID)
		if err != nil {
			return err
		}

		for i := range legs {
			if legs[i].Step == models.StepDirect {
				return apperrors.NewInvalidTopologyError("shipment is booked as a single hop")
			}
		}

		bindings, err := s.relays.ListBindings(ctx, sh.ID)
		if err != nil {
			return err
		}

		next := models.StepFirst
		for _, b := range bindings {
			if b.Step >= next {
				next = b.Step + 1
			}
		}

		if next > models.MaxIntermediateStep {
			return apperrors.NewInvalidTopologyError("shipment has no intermediate step left")
		}

		point, err := s.resolveRelayPoint(ctx, in.Relay, coords)
		if err != nil {
			return err
		}

		binding := &models.RelayBinding{
			ShipmentID:   sh.ID,
			Step:         next,
			RelayPointID: point.ID,
			CreatedAt:    models.GetCurrentTime(),
		}

		if err := s.relays.CreateBinding(ctx, binding); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperrors.NewInvalidTopologyError(fmt.Sprintf("step %d is already bound", next))
			}
			return err
		}

		price := in.NewTotalPrice.Round(2)
		if err := s.shipments.UpdatePrice(ctx, sh.ID, price); err != nil {
			return err
		}
		sh.ProposedPrice = price

		leg = models.NewLeg(sh.ID, actor.UserID, next, in.LegPrice.Round(2), code)

		if err := s.legs.Create(ctx, leg); err != nil {
			return err
		}

		return s.writeLegEvent(ctx, models.EventLegBooked, sh, leg, actor.UserID)
	})

	if err != nil {
		s.logger.Warn("Partial booking rejected", "error", err, "shipmentID", in.ShipmentID, "courierID", actor.UserID)
		return nil, err
	}

	metrics.LegsBooked.WithLabelValues("partial").Inc()

	s.logger.Info("Partial leg booked", "legID", leg.ID, "shipmentID", in.ShipmentID, "step", leg.Step)
	return &BookedLeg{Leg: leg, PickupCode: code}, nil
}

func (s *BookingService) resolveRelayPoint(ctx context.Context, in RelayInput, coords *clients.Coordinates) (*models.RelayPoint, error) {
	if in.RelayPointID != "" {
		p, err := s.relays.GetPoint(ctx, in.RelayPointID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return nil, apperrors.NewNotFoundError(fmt.Sprintf("relay point %s not found", in.RelayPointID))
			}
			return nil, err
		}
		return p, nil
	}

	label := in.Label
	if label == "" {
		label = in.City
	}

	p := &models.RelayPoint{
		ID:         models.GenerateID("rp"),
		Label:      label,
		City:       in.City,
		Address:    in.Address,
		PostalCode: in.PostalCode,
		Lat:        coords.Lat,
		Lon:        coords.Lon,
		IsDropBox:  in.IsDropBox,
		CreatedAt:  models.GetCurrentTime(),
	}

	if err := s.relays.CreatePoint(ctx, p); err != nil {
		return nil, err
	}

	return p, nil
}

// lockLeg locks the leg's shipment, then the leg itself, in the same order
// bookings take them.
func (s *BookingService) lockLeg(ctx context.Context, legID string) (*models.Shipment, *models.Leg, error) {
	peek, err := s.legs.GetByID(ctx, legID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil, apperrors.NewNotFoundError(fmt.Sprintf("leg %s not found", legID))
		}
		return nil, nil, err
	}

	sh, err := s.shipments.GetForUpdate(ctx, peek.ShipmentID)
	if err != nil {
		return nil, nil, err
	}

	leg, err := s.legs.GetForUpdate(ctx, legID)
	if err != nil {
		return nil, nil, err
	}

	return sh, leg, nil
}

// CancelLeg cancels a pending or taken leg on behalf of its courier or the
// shipment's requester. The leg and its relay binding are kept.
func (s *BookingService) CancelLeg(ctx context.Context, actor models.Actor, legID string) (*models.Leg, error) {
	var leg *models.Leg

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		sh, l, err := s.lockLeg(ctx, legID)
		if err != nil {
			return err
		}
		leg = l

		if actor.UserID != leg.CourierID && actor.UserID != sh.RequesterID {
			return apperrors.NewUnauthorizedError("only the courier or the requester can cancel a leg")
		}

		if leg.Status != models.LegStatusPending && leg.Status != models.LegStatusTaken {
			return apperrors.NewInvalidTopologyError(fmt.Sprintf("leg is %s", leg.Status))
		}

		if leg.HasOpenSettlement() {
			return apperrors.NewConflictError("leg has a settlement in progress")
		}

		leg.Status = models.LegStatusCanceled
		leg.CanceledBy = &actor.UserID

		if err := s.legs.Update(ctx, leg); err != nil {
			return err
		}

		return s.writeLegEvent(ctx, models.EventLegCanceled, sh, leg, actor.UserID)
	})

	if err != nil {
		return nil, err
	}

	metrics.LegsCanceled.Inc()

	s.logger.Info("Leg canceled", "legID", legID, "actorID", actor.UserID)
	return leg, nil
}

// FinishLeg records the courier's drop-off of a taken leg.
func (s *BookingService) FinishLeg(ctx context.Context, actor models.Actor, legID string) (*models.Leg, error) {
	return s.advance(ctx, actor, legID, models.LegStatusTaken, models.LegStatusFinished, models.EventLegFinished,
		func(sh *models.Shipment, leg *models.Leg) bool { return actor.UserID == leg.CourierID })
}

// ValidateLeg records the requester's acceptance of a finished leg.
func (s *BookingService) ValidateLeg(ctx context.Context, actor models.Actor, legID string) (*models.Leg, error) {
	return s.advance(ctx, actor, legID, models.LegStatusFinished, models.LegStatusValidated, models.EventLegValidated,
		func(sh *models.Shipment, leg *models.Leg) bool { return actor.UserID == sh.RequesterID })
}

func (s *BookingService) advance(
	ctx context.Context,
	actor models.Actor,
	legID string,
	from, to models.LegStatus,
	eventType string,
	allowed func(sh *models.Shipment, leg *models.Leg) bool,
) (*models.Leg, error) {
	var leg *models.Leg

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		sh, l, err := s.lockLeg(ctx, legID)
		if err != nil {
			return err
		}
		leg = l

		if !allowed(sh, leg) {
			return apperrors.NewUnauthorizedError(fmt.Sprintf("actor cannot mark this leg %s", to))
		}

		if leg.Status != from {
			return apperrors.NewInvalidTopologyError(fmt.Sprintf("leg is %s, expected %s", leg.Status, from))
		}

		leg.Status = to

		if err := s.legs.Update(ctx, leg); err != nil {
			return err
		}

		return s.writeLegEvent(ctx, eventType, sh, leg, actor.UserID)
	})

	if err != nil {
		return nil, err
	}

	s.logger.Info("Leg status changed", "legID", legID, "status", to)
	return leg, nil
}

// ListCourierLegs returns the actor's legs, each with its shipment route.
func (s *BookingService) ListCourierLegs(ctx context.Context, actor models.Actor) ([]CourierLeg, error) {
	legs, err := s.legs.ListByCourier(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	routes := make(map[string]route.Route)
	out := make([]CourierLeg, 0, len(legs))

	for _, leg := range legs {
		r, ok := routes[leg.ShipmentID]

		if !ok {
			sh, err := s.shipments.GetByID(ctx, leg.ShipmentID)
			if err != nil {
				return nil, err
			}

			all, err := s.legs.ListByShipment(ctx, leg.ShipmentID)
			if err != nil {
				return nil, err
			}

			bindings, err := s.relays.ListBindings(ctx, leg.ShipmentID)
			if err != nil {
				return nil, err
			}

			r = route.Materialize(sh, all, bindings)
			routes[leg.ShipmentID] = r
		}

		out = append(out, CourierLeg{Leg: leg, Route: r})
	}

	return out, nil
}
