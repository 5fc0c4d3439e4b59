package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/vaidashi/relay-freight-api/internal/models"
	"github.com/vaidashi/relay-freight-api/internal/route"
	"github.com/vaidashi/relay-freight-api/internal/service"
	apperrors "github.com/vaidashi/relay-freight-api/pkg/errors"
)

type ApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Health represents the health check response
type Health struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

type ActorResolver interface {
	ResolveActor(ctx context.Context, id string) (models.Actor, error)
}

type ShipmentAPI interface {
	Create(ctx context.Context, actor models.Actor, in service.CreateShipmentInput) (*models.Shipment, error)
	Get(ctx context.Context, id string) (*service.ShipmentDetails, error)
	GetRoute(ctx context.Context, id string) (route.Route, error)
	ListRequester(ctx context.Context, actor models.Actor) ([]*service.ShipmentDetails, error)
	Cancel(ctx context.Context, actor models.Actor, id string) (*models.Shipment, error)
}

type BookingAPI interface {
	BookFullShipment(ctx context.Context, actor models.Actor, shipmentID string) (*service.BookedLeg, error)
	BookPartialLeg(ctx context.Context, actor models.Actor, in service.PartialBookingInput) (*service.BookedLeg, error)
	CancelLeg(ctx context.Context, actor models.Actor, legID string) (*models.Leg, error)
	FinishLeg(ctx context.Context, actor models.Actor, legID string) (*models.Leg, error)
	ValidateLeg(ctx context.Context, actor models.Actor, legID string) (*models.Leg, error)
	ListCourierLegs(ctx context.Context, actor models.Actor) ([]service.CourierLeg, error)
}

type SettlementAPI interface {
	ConfirmPickup(ctx context.Context, actor models.Actor, legID, code string) (*service.PickupResult, error)
	GetSettlement(ctx context.Context, actor models.Actor, legID string) (*service.SettlementView, error)
}

type FavoriteAPI interface {
	Add(ctx context.Context, actor models.Actor, courierID string) (*models.Favorite, error)
	Remove(ctx context.Context, actor models.Actor, courierID string) error
	List(ctx context.Context, actor models.Actor) ([]*models.Favorite, error)
}

type ReviewAPI interface {
	Create(ctx context.Context, actor models.Actor, legID string, in service.ReviewInput) (*models.Review, error)
	ListForCourier(ctx context.Context, courierID string) (*models.CourierReviews, error)
}

type OutboxAdmin interface {
	ListDead(ctx context.Context, limit int) ([]*models.OutboxMessage, error)
	Requeue(ctx context.Context, id int64) error
}

// healthCheckHandler handles the health check endpoint
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	health := Health{
		Status:    "ok",
		Version:   "1.0.0",
		Timestamp: time.Now().Format(time.RFC3339),
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    health,
	})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v interface{}) error {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.NewInvalidInputError("Invalid request payload")
	}

	return nil
}

// respondWithAppError maps err onto its status. Unclassified errors are
// logged and hidden behind a generic message.
func (s *Server) respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.StatusCode(err)

	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err, "method", r.Method, "path", r.URL.Path)
		if code == http.StatusInternalServerError {
			s.respondWithError(w, code, "Internal server error")
			return
		}
	}

	switch code {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "5")
	}

	s.respondWithError(w, code, err.Error())
}

// respondWithError sends a JSON response with an error message
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, ApiResponse{
		Success: false,
		Error:   message,
	})
}

// respondWithJSON sends a JSON response
func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)

	if err != nil {
		s.logger.Error("Failed to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (s *Server) ok(w http.ResponseWriter, code int, data interface{}) {
	s.respondWithJSON(w, code, ApiResponse{Success: true, Data: data})
}
