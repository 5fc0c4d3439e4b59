package route

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/relay-freight-api/internal/models"
)

func testShipment() *models.Shipment {
	return &models.Shipment{
		ID:                 "shp-1",
		RequesterID:        "usr-req",
		OriginCity:         "Lyon",
		OriginAddress:      "1 Rue de la Republique",
		DestinationCity:    "Paris",
		DestinationAddress: "10 Rue de Rivoli",
	}
}

func leg(step int, status models.LegStatus) models.Leg {
	return models.Leg{
		ID:        fmt.Sprintf("leg-%d-%s", step, status),
		Step:      step,
		Status:    status,
		CourierID: fmt.Sprintf("usr-c%d", step),
		CreatedAt: time.Date(2026, 5, 1, 8, step%60, 0, 0, time.UTC),
	}
}

func bindings(steps ...int) []models.RelayBinding {
	out := make([]models.RelayBinding, 0, len(steps))
	for _, s := range steps {
		out = append(out, models.RelayBinding{
			ShipmentID:   "shp-1",
			Step:         s,
			RelayPointID: fmt.Sprintf("rp-%d", s),
			Point: models.RelayPoint{
				ID:   fmt.Sprintf("rp-%d", s),
				City: fmt.Sprintf("Relay%d", s),
			},
		})
	}
	return out
}

func TestMaterializeNoLegs(t *testing.T) {
	r := Materialize(testShipment(), nil, nil)

	assert.Equal(t, "Lyon", r.Departure.City)
	assert.Equal(t, "Paris", r.Arrival.City)
	assert.Equal(t, 0, r.ProgressPercent)
	assert.Empty(t, r.CoveredSteps)
	assert.Empty(t, r.Segments)
	assert.Equal(t, models.ShipmentStatusPending, r.Status)
}

func TestMaterializeDirectLeg(t *testing.T) {
	r := Materialize(testShipment(), []models.Leg{leg(0, models.LegStatusTaken)}, nil)

	assert.Equal(t, PlaceOrigin, r.Departure.Kind)
	assert.Equal(t, PlaceDestination, r.Arrival.Kind)
	assert.Equal(t, []int{0}, r.CoveredSteps)
	assert.Equal(t, 100, r.ProgressPercent)
	require.Len(t, r.Segments, 1)
	assert.Equal(t, "Lyon", r.Segments[0].From.City)
	assert.Equal(t, "Paris", r.Segments[0].To.City)
	assert.Equal(t, models.ShipmentStatusInProgress, r.Status)
}

func TestMaterializeMergesContiguousCanceledLegs(t *testing.T) {
	legs := []models.Leg{
		leg(4, models.LegStatusPending),
		leg(2, models.LegStatusCanceled),
		leg(1, models.LegStatusTaken),
		leg(3, models.LegStatusCanceled),
	}

	r := Materialize(testShipment(), legs, bindings(1, 2, 3, 4))

	require.Len(t, r.Gaps, 1)
	gap := r.Gaps[0]
	assert.Equal(t, 2, gap.StartStep)
	assert.Equal(t, 3, gap.EndStep)
	assert.Equal(t, "Relay1", gap.From.City)
	assert.Equal(t, "Relay3", gap.To.City)
	assert.True(t, gap.Canceled)

	require.Len(t, r.Segments, 3)
	assert.Equal(t, []int{1, 2, 4}, []int{r.Segments[0].StartStep, r.Segments[1].StartStep, r.Segments[2].StartStep})
	assert.Equal(t, []int{1, 4}, r.CoveredSteps)

	assert.Equal(t, "Relay4", r.Departure.City)
	assert.Equal(t, "Paris", r.Arrival.City)
	assert.Equal(t, 40, r.ProgressPercent)
}

func TestMaterializeIsolatedCanceledLeg(t *testing.T) {
	legs := []models.Leg{
		leg(1, models.LegStatusCanceled),
		leg(2, models.LegStatusPending),
		leg(3, models.LegStatusCanceled),
	}

	r := Materialize(testShipment(), legs, bindings(1, 2, 3))

	require.Len(t, r.Gaps, 2)
	assert.Equal(t, 1, r.Gaps[0].StartStep)
	assert.Equal(t, 1, r.Gaps[0].EndStep)
	assert.Equal(t, "Lyon", r.Gaps[0].From.City)
	assert.Equal(t, "Relay1", r.Gaps[0].To.City)
	assert.Equal(t, "leg-1-canceled", r.Gaps[0].LegID)
	assert.Equal(t, 3, r.Gaps[1].StartStep)

	assert.Equal(t, "Relay2", r.Departure.City)
	assert.Equal(t, "Relay3", r.Arrival.City)
}

func TestMaterializeMergeRunsIntoFinalStep(t *testing.T) {
	legs := []models.Leg{
		leg(1, models.LegStatusTaken),
		leg(2, models.LegStatusCanceled),
		leg(1000, models.LegStatusCanceled),
	}

	r := Materialize(testShipment(), legs, bindings(1, 2))

	require.Len(t, r.Gaps, 1)
	assert.Equal(t, 2, r.Gaps[0].StartStep)
	assert.Equal(t, 1000, r.Gaps[0].EndStep)
	assert.Equal(t, PlaceDestination, r.Gaps[0].To.Kind)
	assert.Equal(t, "Relay1", r.Gaps[0].From.City)
}

func TestMaterializeGapArrivalPrefersBoundRelay(t *testing.T) {
	legs := []models.Leg{
		leg(1, models.LegStatusCanceled),
		leg(2, models.LegStatusCanceled),
	}

	withRelay := Materialize(testShipment(), legs, bindings(1, 2))
	require.Len(t, withRelay.Gaps, 1)
	assert.Equal(t, "Relay2", withRelay.Gaps[0].To.City)

	withoutRelay := Materialize(testShipment(), legs, bindings(1))
	require.Len(t, withoutRelay.Gaps, 1)
	assert.Equal(t, PlaceDestination, withoutRelay.Gaps[0].To.Kind)

	assert.Equal(t, "Lyon", withRelay.Departure.City)
	assert.Equal(t, "Relay1", withRelay.Arrival.City)
	assert.Equal(t, 0, withRelay.ProgressPercent)
}

func TestMaterializeOnlyFinalLeg(t *testing.T) {
	r := Materialize(testShipment(), []models.Leg{leg(1000, models.LegStatusPending)}, nil)

	assert.Equal(t, PlaceOrigin, r.Departure.Kind)
	assert.Equal(t, PlaceDestination, r.Arrival.Kind)
	assert.Equal(t, []int{1000}, r.CoveredSteps)
}

func TestMaterializeFinalLegDepartsFromHighestRelay(t *testing.T) {
	legs := []models.Leg{
		leg(1, models.LegStatusTaken),
		leg(2, models.LegStatusTaken),
		leg(1000, models.LegStatusPending),
	}

	r := Materialize(testShipment(), legs, bindings(1, 2))

	assert.Equal(t, "Relay2", r.Departure.City)
	assert.Equal(t, PlaceDestination, r.Arrival.Kind)
	assert.Equal(t, 100, r.ProgressPercent)
	require.Len(t, r.Segments, 3)
	assert.Equal(t, "Relay2", r.Segments[2].From.City)
}

func TestMaterializeRebookedStepUsesActiveLeg(t *testing.T) {
	canceled := leg(1, models.LegStatusCanceled)
	rebooked := leg(1, models.LegStatusPending)
	rebooked.ID = "leg-1-rebooked"
	rebooked.CreatedAt = canceled.CreatedAt.Add(time.Hour)

	r := Materialize(testShipment(), []models.Leg{canceled, rebooked}, bindings(1))

	assert.Empty(t, r.Gaps)
	require.Len(t, r.Segments, 1)
	assert.Equal(t, "leg-1-rebooked", r.Segments[0].LegID)
}

func TestMaterializeDoesNotMutateInput(t *testing.T) {
	legs := []models.Leg{leg(3, models.LegStatusPending), leg(1, models.LegStatusTaken)}

	Materialize(testShipment(), legs, bindings(1, 3))

	assert.Equal(t, 3, legs[0].Step)
	assert.Equal(t, 1, legs[1].Step)
}
