package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/relay-freight-api/internal/clients"
	"github.com/vaidashi/relay-freight-api/internal/models"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

const testCode = "482913"

type fixture struct {
	db       *memDB
	gateway  *fakeGateway
	notifier *fakeNotifier
	objects  *fakeObjects

	shipments  *ShipmentService
	booking    *BookingService
	settlement *SettlementService
	favorites  *FavoriteService
	reviews    *ReviewService

	requester models.Actor
	courier   models.Actor
	courier2  models.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := newMemDB()
	log := logger.NewNop()
	geo := fakeGeocoder{coords: clients.Coordinates{Lat: 45.76, Lon: 4.83}}

	f := &fixture{
		db:       db,
		gateway:  newFakeGateway(),
		notifier: &fakeNotifier{},
		objects:  &fakeObjects{},
	}

	f.shipments = NewShipmentService(db, memShipments{db}, memLegs{db}, memRelays{db}, memOutbox{db}, geo, log)

	f.booking = NewBookingService(db, memShipments{db}, memLegs{db}, memRelays{db}, memUsers{db}, memOutbox{db}, geo, log)
	f.booking.newCode = func() (string, error) { return testCode, nil }

	f.settlement = NewSettlementService(
		db, memShipments{db}, memLegs{db}, memSubscriptions{db}, memSettlements{db}, memUsers{db}, memOutbox{db},
		f.gateway, fakeRenderer{}, f.objects, f.notifier,
		SettlementConfig{InvoiceBucket: "invoices"}, log,
	)

	f.favorites = NewFavoriteService(memFavorites{db}, memUsers{db}, log)
	f.reviews = NewReviewService(memReviews{db}, memLegs{db}, memShipments{db}, log)

	f.requester = f.addUser("usr-req", models.UserKindClient)
	f.courier = f.addUser("usr-cou", models.UserKindCourier)
	f.courier2 = f.addUser("usr-cou2", models.UserKindCourier)

	return f
}

func (f *fixture) addUser(id string, kind models.UserKind) models.Actor {
	u := models.User{
		ID:                 id,
		Kind:               kind,
		DisplayName:        id,
		Email:              id + "@example.com",
		PaymentCustomerRef: "cus_" + id,
		PaymentMethodRef:   "pm_" + id,
		CreatedAt:          time.Now().UTC(),
	}

	f.db.mu.Lock()
	f.db.users[id] = u
	f.db.mu.Unlock()

	return models.ActorFromUser(&u)
}

func (f *fixture) addSubscription(plan models.Plan, start time.Time) string {
	sub := models.Subscription{
		ID:        "sub-" + f.requester.UserID,
		UserID:    f.requester.UserID,
		PlanID:    "plan-1",
		StartDate: start,
		Active:    true,
		Plan:      plan,
	}

	f.db.mu.Lock()
	f.db.subs[sub.ID] = sub
	f.db.mu.Unlock()

	return sub.ID
}

func ptr(v float64) *float64 { return &v }

func (f *fixture) createShipment(t *testing.T, price string) *models.Shipment {
	t.Helper()

	sh, err := f.shipments.Create(context.Background(), f.requester, CreateShipmentInput{
		Origin:         Endpoint{City: "Paris", Address: "1 rue de Rivoli", PostalCode: "75001", Lat: ptr(48.86), Lon: ptr(2.35)},
		Destination:    Endpoint{City: "Marseille", Address: "2 quai du Port", PostalCode: "13002", Lat: ptr(43.30), Lon: ptr(5.37)},
		WeightKg:       decimal.RequireFromString("4.5"),
		DeclaredValue:  decimal.RequireFromString("100"),
		ProposedPrice:  decimal.RequireFromString(price),
		RecipientName:  "Camille",
		RecipientEmail: "camille@example.com",
	})
	require.NoError(t, err)

	return sh
}

func relayInput(city string) RelayInput {
	return RelayInput{City: city, Address: "10 avenue Foch", PostalCode: "69006"}
}
