package service

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/relay-freight-api/internal/models"
	apperrors "github.com/vaidashi/relay-freight-api/pkg/errors"
)

func TestBookFullShipmentDirect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sh := f.createShipment(t, "30.00")

	booked, err := f.booking.BookFullShipment(ctx, f.courier, sh.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StepDirect, booked.Step)
	assert.Equal(t, models.LegStatusPending, booked.Status)
	assert.Equal(t, "30.00", booked.Amount.StringFixed(2))
	assert.Equal(t, testCode, booked.PickupCode)
	assert.Contains(t, f.db.eventTypes(), models.EventLegBooked)
}

func TestBookFullShipmentRejectsSecondHolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sh := f.createShipment(t, "30.00")

	_, err := f.booking.BookFullShipment(ctx, f.courier, sh.ID)
	require.NoError(t, err)

	_, err = f.booking.BookFullShipment(ctx, f.courier2, sh.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTopology)
}

func TestBookingRequiresCourier(t *testing.T) {
	f := newFixture(t)
	sh := f.createShipment(t, "30.00")

	_, err := f.booking.BookFullShipment(context.Background(), f.requester, sh.ID)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	ghost := models.Actor{UserID: "usr-ghost", Kind: models.UserKindCourier}
	_, err = f.booking.BookFullShipment(context.Background(), ghost, sh.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestBookingUnknownShipment(t *testing.T) {
	f := newFixture(t)

	_, err := f.booking.BookFullShipment(context.Background(), f.courier, "shp-missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPartialBookingBlockedByDirectLeg(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sh := f.createShipment(t, "30.00")

	_, err := f.booking.BookFullShipment(ctx, f.courier, sh.ID)
	require.NoError(t, err)

	_, err = f.booking.BookPartialLeg(ctx, f.courier2, PartialBookingInput{
		ShipmentID:    sh.ID,
		Relay:         relayInput("Lyon"),
		NewTotalPrice: decimal.RequireFromString("35"),
		LegPrice:      decimal.RequireFromString("15"),
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTopology)
}

func TestPartialThenFinalBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sh := f.createShipment(t, "30.00")

	partial, err := f.booking.BookPartialLeg(ctx, f.courier, PartialBookingInput{
		ShipmentID:    sh.ID,
		Relay:         relayInput("Lyon"),
		NewTotalPrice: decimal.RequireFromString("36.00"),
		LegPrice:      decimal.RequireFromString("16.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StepFirst, partial.Step)

	stored, err := memShipments{f.db}.GetByID(ctx, sh.ID)
	require.NoError(t, err)
	assert.Equal(t, "36.00", stored.ProposedPrice.StringFixed(2))

	_, err = f.booking.BookFullShipment(ctx, f.courier2, sh.ID)
	require.NoError(t, err)

	legs, err := memLegs{f.db}.ListByShipment(ctx, sh.ID)
	require.NoError(t, err)
	require.Len(t, legs, 2)
	assert.Equal(t, models.StepFinal, legs[1].Step)
	// nothing is paid yet, so the final hop carries the whole price
	assert.Equal(t, "36.00", legs[1].Amount.StringFixed(2))

	_, err = f.booking.BookPartialLeg(ctx, f.courier2, PartialBookingInput{
		ShipmentID:    sh.ID,
		Relay:         relayInput("Valence"),
		NewTotalPrice: decimal.RequireFromString("40"),
		LegPrice:      decimal.RequireFromString("10"),
	})
	require.NoError(t, err, "relays can still be inserted before the final hop")
}

func TestFinalLegAmountSubtractsPaidLegs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sh := f.createShipment(t, "30.00")

	partial, err := f.booking.BookPartialLeg(ctx, f.courier, PartialBookingInput{
		ShipmentID:    sh.ID,
		Relay:         relayInput("Lyon"),
		NewTotalPrice: decimal.RequireFromString("40.00"),
		LegPrice:      decimal.RequireFromString("15.00"),
	})
	require.NoError(t, err)

	_, err = f.settlement.ConfirmPickup(ctx, f.requester, partial.ID, testCode)
	require.NoError(t, err)

	final, err := f.booking.BookFullShipment(ctx, f.courier2, sh.ID)
	require.NoError(t, err)
	assert.Equal(t, "25.00", final.Amount.StringFixed(2))
}

func TestConcurrentPartialBookingsGetDistinctSteps(t *testing.T) {
	f := newFixture(t)
	sh := f.createShipment(t, "30.00")

	const n = 12

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		steps []int
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			leg, err := f.booking.BookPartialLeg(context.Background(), f.courier, PartialBookingInput{
				ShipmentID:    sh.ID,
				Relay:         relayInput("Lyon"),
				NewTotalPrice: decimal.RequireFromString("50"),
				LegPrice:      decimal.RequireFromString("5"),
			})
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			steps = append(steps, leg.Step)
			mu.Unlock()
		}()
	}

	wg.Wait()

	sort.Ints(steps)
	require.Len(t, steps, n)
	for i, step := range steps {
		assert.Equal(t, i+1, step)
	}
}

func TestPartialBookingWithUnknownRelayPoint(t *testing.T) {
	f := newFixture(t)
	sh := f.createShipment(t, "30.00")

	_, err := f.booking.BookPartialLeg(context.Background(), f.courier, PartialBookingInput{
		ShipmentID:    sh.ID,
		Relay:         RelayInput{RelayPointID: "rp-missing"},
		NewTotalPrice: decimal.RequireFromString("35"),
		LegPrice:      decimal.RequireFromString("15"),
	})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPartialBookingValidation(t *testing.T) {
	f := newFixture(t)
	sh := f.createShipment(t, "30.00")

	tests := []struct {
		name string
		in   PartialBookingInput
	}{
		{"zero leg price", PartialBookingInput{ShipmentID: sh.ID, Relay: relayInput("Lyon"), NewTotalPrice: decimal.NewFromInt(30)}},
		{"leg above total", PartialBookingInput{ShipmentID: sh.ID, Relay: relayInput("Lyon"), NewTotalPrice: decimal.NewFromInt(10), LegPrice: decimal.NewFromInt(20)}},
		{"no relay", PartialBookingInput{ShipmentID: sh.ID, NewTotalPrice: decimal.NewFromInt(30), LegPrice: decimal.NewFromInt(10)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.booking.BookPartialLeg(context.Background(), f.courier, tt.in)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func TestCancelLegKeepsLegAndBinding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sh := f.createShipment(t, "30.00")

	first, err := f.booking.BookPartialLeg(ctx, f.courier, PartialBookingInput{
		ShipmentID:    sh.ID,
		Relay:         relayInput("Lyon"),
		NewTotalPrice: decimal.RequireFromString("35"),
		LegPrice:      decimal.RequireFromString("15"),
	})
	require.NoError(t, err)

	_, err = f.booking.CancelLeg(ctx, f.courier2, first.ID)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	canceled, err := f.booking.CancelLeg(ctx, f.requester, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LegStatusCanceled, canceled.Status)
	require.NotNil(t, canceled.CanceledBy)
	assert.Equal(t, f.requester.UserID, *canceled.CanceledBy)

	bindings, err := memRelays{f.db}.ListBindings(ctx, sh.ID)
	require.NoError(t, err)
	assert.Len(t, bindings, 1)

	second, err := f.booking.BookPartialLeg(ctx, f.courier2, PartialBookingInput{
		ShipmentID:    sh.ID,
		Relay:         relayInput("Dijon"),
		NewTotalPrice: decimal.RequireFromString("35"),
		LegPrice:      decimal.RequireFromString("15"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Step)

	_, err = f.booking.CancelLeg(ctx, f.courier, first.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTopology)
}

func TestLegLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sh := f.createShipment(t, "30.00")

	booked, err := f.booking.BookFullShipment(ctx, f.courier, sh.ID)
	require.NoError(t, err)

	_, err = f.booking.FinishLeg(ctx, f.courier, booked.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTopology, "a pending leg cannot be finished")

	_, err = f.settlement.ConfirmPickup(ctx, f.requester, booked.ID, testCode)
	require.NoError(t, err)

	_, err = f.booking.FinishLeg(ctx, f.requester, booked.ID)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	leg, err := f.booking.FinishLeg(ctx, f.courier, booked.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LegStatusFinished, leg.Status)

	leg, err = f.booking.ValidateLeg(ctx, f.requester, booked.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LegStatusValidated, leg.Status)

	assert.Subset(t, f.db.eventTypes(), []string{models.EventLegSettled, models.EventLegFinished, models.EventLegValidated})
}

func TestListCourierLegs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sh := f.createShipment(t, "30.00")
	other := f.createShipment(t, "20.00")

	_, err := f.booking.BookFullShipment(ctx, f.courier, sh.ID)
	require.NoError(t, err)
	_, err = f.booking.BookFullShipment(ctx, f.courier, other.ID)
	require.NoError(t, err)

	legs, err := f.booking.ListCourierLegs(ctx, f.courier)
	require.NoError(t, err)
	require.Len(t, legs, 2)

	for _, cl := range legs {
		assert.Equal(t, cl.Leg.ShipmentID, cl.Route.ShipmentID)
	}
}
