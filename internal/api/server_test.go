package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/relay-freight-api/internal/config"
	"github.com/vaidashi/relay-freight-api/internal/models"
	"github.com/vaidashi/relay-freight-api/internal/route"
	"github.com/vaidashi/relay-freight-api/internal/service"
	"github.com/vaidashi/relay-freight-api/pkg/circuitbreaker"
	apperrors "github.com/vaidashi/relay-freight-api/pkg/errors"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

type stubActors map[string]models.Actor

func (s stubActors) ResolveActor(_ context.Context, id string) (models.Actor, error) {
	if a, ok := s[id]; ok {
		return a, nil
	}
	return models.Actor{}, apperrors.NewNotFoundError("user not found")
}

type stubShipments struct {
	err     error
	created service.CreateShipmentInput
	actor   models.Actor
}

func (s *stubShipments) Create(_ context.Context, actor models.Actor, in service.CreateShipmentInput) (*models.Shipment, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.created, s.actor = in, actor
	return &models.Shipment{ID: "shp-1", RequesterID: actor.UserID, ProposedPrice: in.ProposedPrice}, nil
}

func (s *stubShipments) Get(context.Context, string) (*service.ShipmentDetails, error) {
	return nil, s.err
}

func (s *stubShipments) GetRoute(_ context.Context, id string) (route.Route, error) {
	return route.Route{ShipmentID: id}, s.err
}

func (s *stubShipments) ListRequester(context.Context, models.Actor) ([]*service.ShipmentDetails, error) {
	return nil, s.err
}

func (s *stubShipments) Cancel(context.Context, models.Actor, string) (*models.Shipment, error) {
	return nil, s.err
}

type stubBooking struct {
	err     error
	partial service.PartialBookingInput
}

func (s *stubBooking) BookFullShipment(_ context.Context, actor models.Actor, shipmentID string) (*service.BookedLeg, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &service.BookedLeg{Leg: &models.Leg{ID: "leg-1", ShipmentID: shipmentID, CourierID: actor.UserID}, PickupCode: "123456"}, nil
}

func (s *stubBooking) BookPartialLeg(_ context.Context, actor models.Actor, in service.PartialBookingInput) (*service.BookedLeg, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.partial = in
	return &service.BookedLeg{Leg: &models.Leg{ID: "leg-2", ShipmentID: in.ShipmentID, CourierID: actor.UserID, Step: 1}}, nil
}

func (s *stubBooking) CancelLeg(_ context.Context, _ models.Actor, legID string) (*models.Leg, error) {
	return &models.Leg{ID: legID, Status: models.LegStatusCanceled}, s.err
}

func (s *stubBooking) FinishLeg(_ context.Context, _ models.Actor, legID string) (*models.Leg, error) {
	return &models.Leg{ID: legID}, s.err
}

func (s *stubBooking) ValidateLeg(_ context.Context, _ models.Actor, legID string) (*models.Leg, error) {
	return &models.Leg{ID: legID}, s.err
}

func (s *stubBooking) ListCourierLegs(context.Context, models.Actor) ([]service.CourierLeg, error) {
	return []service.CourierLeg{}, s.err
}

type stubSettlement struct {
	err     error
	settled map[string]bool
}

func (s *stubSettlement) ConfirmPickup(_ context.Context, _ models.Actor, legID, code string) (*service.PickupResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.settled == nil {
		s.settled = make(map[string]bool)
	}
	already := s.settled[legID]
	s.settled[legID] = true
	return &service.PickupResult{
		Settlement:     &models.SettlementRecord{LegID: legID, Amount: decimal.RequireFromString("30.70"), Currency: "eur"},
		AlreadySettled: already,
	}, nil
}

func (s *stubSettlement) GetSettlement(_ context.Context, _ models.Actor, legID string) (*service.SettlementView, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &service.SettlementView{Settlement: &models.SettlementRecord{LegID: legID}}, nil
}

type stubFavorites struct{}

func (stubFavorites) Add(_ context.Context, actor models.Actor, courierID string) (*models.Favorite, error) {
	return &models.Favorite{RequesterID: actor.UserID, CourierID: courierID}, nil
}

func (stubFavorites) Remove(context.Context, models.Actor, string) error { return nil }

func (stubFavorites) List(context.Context, models.Actor) ([]*models.Favorite, error) {
	return []*models.Favorite{}, nil
}

type stubReviews struct{}

func (stubReviews) Create(_ context.Context, actor models.Actor, legID string, in service.ReviewInput) (*models.Review, error) {
	if in.Rating < 1 || in.Rating > 5 {
		return nil, apperrors.NewInvalidInputError("rating must be between 1 and 5")
	}
	return &models.Review{LegID: legID, AuthorID: actor.UserID, Rating: in.Rating}, nil
}

func (stubReviews) ListForCourier(_ context.Context, courierID string) (*models.CourierReviews, error) {
	return &models.CourierReviews{CourierID: courierID}, nil
}

type stubOutbox struct {
	requeued []int64
}

func (s *stubOutbox) ListDead(context.Context, int) ([]*models.OutboxMessage, error) {
	return []*models.OutboxMessage{{ID: 7, EventType: models.EventLegSettled}}, nil
}

func (s *stubOutbox) Requeue(_ context.Context, id int64) error {
	if id != 7 {
		return apperrors.NewNotFoundError("outbox message not found")
	}
	s.requeued = append(s.requeued, id)
	return nil
}

type testServer struct {
	*Server
	shipments  *stubShipments
	booking    *stubBooking
	settlement *stubSettlement
	outbox     *stubOutbox
	breaker    *circuitbreaker.CircuitBreaker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{
		shipments:  &stubShipments{},
		booking:    &stubBooking{},
		settlement: &stubSettlement{},
		outbox:     &stubOutbox{},
		breaker:    circuitbreaker.NewCircuitBreaker(circuitbreaker.CircuitBreakerConfig{Name: "payment-gateway"}),
	}

	ts.Server = NewServer(config.Default(), logger.NewNop(), Deps{
		Actors: stubActors{
			"usr-req": {UserID: "usr-req", Kind: models.UserKindClient},
			"usr-cou": {UserID: "usr-cou", Kind: models.UserKindCourier},
		},
		Shipments:  ts.shipments,
		Booking:    ts.booking,
		Settlement: ts.settlement,
		Favorites:  stubFavorites{},
		Reviews:    stubReviews{},
		Outbox:     ts.outbox,
		Breakers:   []*circuitbreaker.CircuitBreaker{ts.breaker},
	})
	t.Cleanup(ts.rateLimiter.Stop)

	return ts
}

func (ts *testServer) do(method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) (ApiResponse, map[string]interface{}) {
	t.Helper()

	var raw struct {
		ApiResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))

	data := map[string]interface{}{}
	if len(raw.Data) > 0 && raw.Data[0] == '{' {
		require.NoError(t, json.Unmarshal(raw.Data, &data))
	}
	return raw.ApiResponse, data
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/v1/health", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	resp, data := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "ok", data["status"])
}

func TestActorRequired(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/v1/me/shipments", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/me/shipments", "usr-ghost", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/me/shipments", "usr-req", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateShipment(t *testing.T) {
	ts := newTestServer(t)

	body := `{
		"origin": {"city": "Paris", "address": "1 rue de Rivoli"},
		"destination": {"city": "Marseille", "address": "2 quai du Port"},
		"proposed_price": "40.00"
	}`
	rec := ts.do(http.MethodPost, "/api/v1/shipments", "usr-req", body)

	assert.Equal(t, http.StatusCreated, rec.Code)
	resp, data := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "shp-1", data["id"])
	assert.Equal(t, "usr-req", ts.shipments.actor.UserID)
	assert.Equal(t, "Paris", ts.shipments.created.Origin.City)
	assert.True(t, ts.shipments.created.ProposedPrice.Equal(decimal.NewFromInt(40)))
}

func TestCreateShipmentMalformedBody(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/v1/shipments", "usr-req", `{"origin":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp, _ := decodeResponse(t, rec)
	assert.False(t, resp.Success)
}

func TestBookPartialLegTakesShipmentFromPath(t *testing.T) {
	ts := newTestServer(t)

	body := `{"relay": {"city": "Lyon", "address": "3 place Bellecour"}, "new_total_price": "45", "leg_price": "15"}`
	rec := ts.do(http.MethodPost, "/api/v1/shipments/shp-9/legs/partial", "usr-cou", body)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "shp-9", ts.booking.partial.ShipmentID)
	assert.True(t, ts.booking.partial.LegPrice.Equal(decimal.NewFromInt(15)))
}

func TestBookFullReturnsPickupCode(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/v1/shipments/shp-9/legs/full", "usr-cou", "")

	assert.Equal(t, http.StatusCreated, rec.Code)
	_, data := decodeResponse(t, rec)
	assert.Equal(t, "123456", data["pickup_code"])
	assert.Equal(t, "leg-1", data["id"])
}

func TestConfirmPickup(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/v1/legs/leg-1/pickup", "usr-req", `{"code": "482913"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	_, data := decodeResponse(t, rec)
	assert.Equal(t, false, data["already_settled"])

	rec = ts.do(http.MethodPost, "/api/v1/legs/leg-1/pickup", "usr-req", `{"code": "482913"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	_, data = decodeResponse(t, rec)
	assert.Equal(t, true, data["already_settled"])
}

func TestConfirmPickupRequiresCode(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/v1/legs/leg-1/pickup", "usr-req", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ts.settlement.settled)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"topology", apperrors.NewInvalidTopologyError("leg already booked"), http.StatusConflict, "leg already booked"},
		{"payment", apperrors.NewPaymentFailedError("card declined"), http.StatusPaymentRequired, "card declined"},
		{"forbidden", apperrors.NewUnauthorizedError("not your leg"), http.StatusForbidden, "not your leg"},
		{"not found", apperrors.NewNotFoundError("leg not found"), http.StatusNotFound, "leg not found"},
		{"unclassified", errors.New("pq: connection reset"), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.settlement.err = tt.err

			rec := ts.do(http.MethodPost, "/api/v1/legs/leg-1/pickup", "usr-req", `{"code": "000000"}`)

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp, _ := decodeResponse(t, rec)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantError, resp.Error)
		})
	}
}

func TestTemporaryFailureSetsRetryAfter(t *testing.T) {
	ts := newTestServer(t)
	ts.booking.err = apperrors.NewTemporaryError("database busy")

	rec := ts.do(http.MethodPost, "/api/v1/legs/leg-1/finish", "usr-cou", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
}

func TestFavoritesAndReviews(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/v1/favorites/usr-cou", "usr-req", "")
	assert.Equal(t, http.StatusCreated, rec.Code)
	_, data := decodeResponse(t, rec)
	assert.Equal(t, "usr-cou", data["courier_id"])

	rec = ts.do(http.MethodDelete, "/api/v1/favorites/usr-cou", "usr-req", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodPost, "/api/v1/legs/leg-1/reviews", "usr-req", `{"rating": 6}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/api/v1/legs/leg-1/reviews", "usr-req", `{"rating": 5, "comment": "on time"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/couriers/usr-cou/reviews", "usr-req", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminOutbox(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/v1/admin/outbox/dead?limit=10", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	_, data := decodeResponse(t, rec)
	assert.Equal(t, float64(10), data["limit"])
	assert.Equal(t, float64(1), data["total_count"])

	rec = ts.do(http.MethodPost, "/api/v1/admin/outbox/7/requeue", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{7}, ts.outbox.requeued)

	rec = ts.do(http.MethodPost, "/api/v1/admin/outbox/8/requeue", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodPost, "/api/v1/admin/outbox/abc/requeue", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminCircuitBreakers(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 5; i++ {
		ts.breaker.Failure()
	}
	require.Equal(t, circuitbreaker.StateOpen, ts.breaker.GetState())

	rec := ts.do(http.MethodPost, "/api/v1/admin/circuit-breakers/payment-gateway/reset", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, circuitbreaker.StateClosed, ts.breaker.GetState())

	rec = ts.do(http.MethodPost, "/api/v1/admin/circuit-breakers/nope/reset", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/admin/circuit-breakers", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminRateLimits(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPut, "/api/v1/admin/rate-limits", "", `{"route": "POST /api/v1/shipments", "max_tokens": 5, "refill_rate": 1}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPut, "/api/v1/admin/rate-limits", "", `{"route": "POST /api/v1/shipments", "max_tokens": 0, "refill_rate": 1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/admin/rate-limits", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), pickupRoute)
}

func TestPickupRouteIsRateLimited(t *testing.T) {
	ts := newTestServer(t)
	ts.rateLimiter.SetRouteLimit(pickupRoute, 2, 0.001)

	var codes []int
	for i := 0; i < 3; i++ {
		codes = append(codes, ts.do(http.MethodPost, "/api/v1/legs/leg-1/pickup", "usr-req", `{"code": "482913"}`).Code)
	}

	assert.Equal(t, []int{http.StatusCreated, http.StatusOK, http.StatusTooManyRequests}, codes)
}
