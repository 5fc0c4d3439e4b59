package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vaidashi/relay-freight-api/internal/models"
	apperrors "github.com/vaidashi/relay-freight-api/pkg/errors"
)

type pickupRequest struct {
	Code string `json:"code"`
}

func (s *Server) listMyLegsHandler(w http.ResponseWriter, r *http.Request) {
	legs, err := s.deps.Booking.ListCourierLegs(r.Context(), actorFrom(r.Context()))
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.ok(w, http.StatusOK, legs)
}

func (s *Server) cancelLegHandler(w http.ResponseWriter, r *http.Request) {
	s.legTransition(w, r, s.deps.Booking.CancelLeg)
}

func (s *Server) finishLegHandler(w http.ResponseWriter, r *http.Request) {
	s.legTransition(w, r, s.deps.Booking.FinishLeg)
}

func (s *Server) validateLegHandler(w http.ResponseWriter, r *http.Request) {
	s.legTransition(w, r, s.deps.Booking.ValidateLeg)
}

func (s *Server) legTransition(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, actor models.Actor, legID string) (*models.Leg, error),
) {
	leg, err := fn(r.Context(), actorFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.ok(w, http.StatusOK, leg)
}

// confirmPickupHandler settles the leg. A repeated confirmation answers 200
// with the existing settlement; the first one answers 201.
func (s *Server) confirmPickupHandler(w http.ResponseWriter, r *http.Request) {
	var req pickupRequest

	if err := decode(r, &req); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	if req.Code == "" {
		s.respondWithAppError(w, r, apperrors.NewInvalidInputError("pickup code is required"))
		return
	}

	res, err := s.deps.Settlement.ConfirmPickup(r.Context(), actorFrom(r.Context()), mux.Vars(r)["id"], req.Code)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	code := http.StatusCreated
	if res.AlreadySettled {
		code = http.StatusOK
	}

	s.ok(w, code, res)
}

func (s *Server) getSettlementHandler(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Settlement.GetSettlement(r.Context(), actorFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.ok(w, http.StatusOK, view)
}
