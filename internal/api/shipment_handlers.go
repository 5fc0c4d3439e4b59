package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vaidashi/relay-freight-api/internal/service"
)

// createShipmentHandler stores a new shipment for the caller
func (s *Server) createShipmentHandler(w http.ResponseWriter, r *http.Request) {
	var in service.CreateShipmentInput

	if err := decode(r, &in); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	shipment, err := s.deps.Shipments.Create(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.ok(w, http.StatusCreated, shipment)
}

// getShipmentHandler returns a shipment with its legs and route
func (s *Server) getShipmentHandler(w http.ResponseWriter, r *http.Request) {
	details, err := s.deps.Shipments.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.ok(w, http.StatusOK, details)
}

func (s *Server) getShipmentRouteHandler(w http.ResponseWriter, r *http.Request) {
	rt, err := s.deps.Shipments.GetRoute(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.ok(w, http.StatusOK, rt)
}

func (s *Server) cancelShipmentHandler(w http.ResponseWriter, r *http.Request) {
	shipment, err := s.deps.Shipments.Cancel(r.Context(), actorFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.ok(w, http.StatusOK, shipment)
}

func (s *Server) listMyShipmentsHandler(w http.ResponseWriter, r *http.Request) {
	shipments, err := s.deps.Shipments.ListRequester(r.Context(), actorFrom(r.Context()))
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.ok(w, http.StatusOK, shipments)
}

// bookFullShipmentHandler books the remaining hop up to the destination
func (s *Server) bookFullShipmentHandler(w http.ResponseWriter, r *http.Request) {
	leg, err := s.deps.Booking.BookFullShipment(r.Context(), actorFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.ok(w, http.StatusCreated, leg)
}

// bookPartialLegHandler books a hop up to a new relay point
func (s *Server) bookPartialLegHandler(w http.ResponseWriter, r *http.Request) {
	var in service.PartialBookingInput

	if err := decode(r, &in); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	in.ShipmentID = mux.Vars(r)["id"]

	leg, err := s.deps.Booking.BookPartialLeg(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.ok(w, http.StatusCreated, leg)
}
