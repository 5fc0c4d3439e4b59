// Package route derives where a shipment currently is from its legs and
// relay bindings. Everything here is a pure view computation over loaded
// rows; nothing is written back.
package route

import (
	"sort"

	"github.com/vaidashi/relay-freight-api/internal/models"
)

// PlaceKind tells which stored location a Place came from.
type PlaceKind string

const (
	PlaceOrigin      PlaceKind = "origin"
	PlaceDestination PlaceKind = "destination"
	PlaceRelay       PlaceKind = "relay"
)

// Place is a resolved location on the route.
type Place struct {
	Kind         PlaceKind `json:"kind"`
	City         string    `json:"city"`
	Address      string    `json:"address"`
	PostalCode   string    `json:"postal_code"`
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	RelayPointID string    `json:"relay_point_id,omitempty"`
	Step         int       `json:"step,omitempty"`
}

// Segment is one displayed hop. A canceled segment may span several
// contiguous canceled steps merged into a single gap.
type Segment struct {
	StartStep int              `json:"start_step"`
	EndStep   int              `json:"end_step"`
	From      Place            `json:"from"`
	To        Place            `json:"to"`
	LegID     string           `json:"leg_id,omitempty"`
	CourierID string           `json:"courier_id,omitempty"`
	Status    models.LegStatus `json:"status"`
	Canceled  bool             `json:"canceled"`
}

// Route is the materialized view of a shipment.
type Route struct {
	ShipmentID      string                `json:"shipment_id"`
	Departure       Place                 `json:"departure"`
	Arrival         Place                 `json:"arrival"`
	CoveredSteps    []int                 `json:"covered_steps"`
	Segments        []Segment             `json:"segments"`
	Gaps            []Segment             `json:"gaps"`
	ProgressPercent int                   `json:"progress_percent"`
	Status          models.ShipmentStatus `json:"status"`
}

// SortLegs returns a copy of legs ordered by step. Within a step active legs
// come before canceled ones, newest first.
func SortLegs(legs []models.Leg) []models.Leg {
	sorted := make([]models.Leg, len(legs))
	copy(sorted, legs)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Step != b.Step {
			return a.Step < b.Step
		}
		if a.IsActive() != b.IsActive() {
			return a.IsActive()
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	return sorted
}

// representatives keeps one leg per step: the first after SortLegs, which is
// the newest active leg when one exists.
func representatives(legs []models.Leg) []models.Leg {
	sorted := SortLegs(legs)
	reps := make([]models.Leg, 0, len(sorted))

	for _, leg := range sorted {
		if n := len(reps); n > 0 && reps[n-1].Step == leg.Step {
			continue
		}
		reps = append(reps, leg)
	}

	return reps
}

type places struct {
	origin      Place
	destination Place
	bound       map[int]Place
	maxBound    int
}

func newPlaces(sh *models.Shipment, bindings []models.RelayBinding) places {
	p := places{
		origin: Place{
			Kind:       PlaceOrigin,
			City:       sh.OriginCity,
			Address:    sh.OriginAddress,
			PostalCode: sh.OriginPostalCode,
			Lat:        sh.OriginLat,
			Lon:        sh.OriginLon,
		},
		destination: Place{
			Kind:       PlaceDestination,
			City:       sh.DestinationCity,
			Address:    sh.DestinationAddress,
			PostalCode: sh.DestinationPostalCode,
			Lat:        sh.DestinationLat,
			Lon:        sh.DestinationLon,
		},
		bound: make(map[int]Place, len(bindings)),
	}

	for _, b := range bindings {
		p.bound[b.Step] = Place{
			Kind:         PlaceRelay,
			City:         b.Point.City,
			Address:      b.Point.Address,
			PostalCode:   b.Point.PostalCode,
			Lat:          b.Point.Lat,
			Lon:          b.Point.Lon,
			RelayPointID: b.RelayPointID,
			Step:         b.Step,
		}
		if b.Step > p.maxBound {
			p.maxBound = b.Step
		}
	}

	return p
}

// relayOr returns the relay bound at step, or fallback.
func (p places) relayOr(step int, fallback Place) Place {
	if place, ok := p.bound[step]; ok {
		return place
	}
	return fallback
}

// lastRelayOrOrigin is where the final hop starts.
func (p places) lastRelayOrOrigin() Place {
	if p.maxBound == 0 {
		return p.origin
	}
	return p.relayOr(p.maxBound, p.origin)
}

// from is where the hop at step starts.
func (p places) from(step int) Place {
	switch {
	case step <= models.StepFirst:
		return p.origin
	case step == models.StepFinal:
		return p.lastRelayOrOrigin()
	default:
		return p.relayOr(step-1, p.origin)
	}
}

// to is where the hop at step ends.
func (p places) to(step int) Place {
	if step == models.StepDirect || step == models.StepFinal {
		return p.destination
	}
	return p.relayOr(step, p.destination)
}

// Materialize computes the current route of sh.
func Materialize(sh *models.Shipment, legs []models.Leg, bindings []models.RelayBinding) Route {
	p := newPlaces(sh, bindings)
	reps := representatives(legs)

	r := Route{
		ShipmentID:   sh.ID,
		Departure:    p.origin,
		Arrival:      p.destination,
		CoveredSteps: []int{},
		Segments:     []Segment{},
		Gaps:         []Segment{},
		Status:       models.DeriveShipmentStatus(sh, legs),
	}

	if len(reps) == 0 {
		return r
	}

	r.Segments, r.Gaps = segments(p, reps)

	for _, leg := range reps {
		if leg.IsActive() {
			r.CoveredSteps = append(r.CoveredSteps, leg.Step)
		}
	}

	if reps[0].Step == models.StepDirect {
		if reps[0].IsActive() {
			r.ProgressPercent = 100
		}
		return r
	}

	r.Departure, r.Arrival = currentPosition(p, reps)
	r.ProgressPercent = progress(p, reps)

	return r
}

// currentPosition resolves departure and arrival from the highest active step.
func currentPosition(p places, reps []models.Leg) (Place, Place) {
	highest := 0
	for _, leg := range reps {
		if leg.IsActive() && leg.Step > highest {
			highest = leg.Step
		}
	}

	if highest == models.StepFinal {
		return p.lastRelayOrOrigin(), p.destination
	}

	departure := p.origin
	if highest > 0 {
		departure = p.relayOr(highest, p.origin)
	}

	return departure, p.relayOr(highest+1, p.destination)
}

// segments walks the legs in step order, folding each run of contiguous
// canceled steps into one gap. The final step 1000 directly follows the
// highest intermediate step.
func segments(p places, reps []models.Leg) ([]Segment, []Segment) {
	all := make([]Segment, 0, len(reps))
	gaps := []Segment{}

	for i := 0; i < len(reps); i++ {
		leg := reps[i]

		if leg.IsActive() {
			all = append(all, Segment{
				StartStep: leg.Step,
				EndStep:   leg.Step,
				From:      p.from(leg.Step),
				To:        p.to(leg.Step),
				LegID:     leg.ID,
				CourierID: leg.CourierID,
				Status:    leg.Status,
			})
			continue
		}

		end := i
		for end+1 < len(reps) && !reps[end+1].IsActive() && contiguous(reps[end].Step, reps[end+1].Step) {
			end++
		}

		gap := Segment{
			StartStep: leg.Step,
			EndStep:   reps[end].Step,
			From:      p.from(leg.Step),
			To:        p.to(reps[end].Step),
			Status:    models.LegStatusCanceled,
			Canceled:  true,
		}
		if end == i {
			gap.LegID = leg.ID
			gap.CourierID = leg.CourierID
		}

		all = append(all, gap)
		gaps = append(gaps, gap)
		i = end
	}

	return all, gaps
}

func contiguous(step, next int) bool {
	return next == step+1 || (next == models.StepFinal && step >= models.StepFirst && step <= models.MaxIntermediateStep)
}

// progress is the share of hops covered by active legs. A chain bound up to
// step n has n+1 hops: n intermediate ones plus the final hop.
func progress(p places, reps []models.Leg) int {
	highestStep := p.maxBound
	for _, leg := range reps {
		if leg.Step != models.StepFinal && leg.Step > highestStep {
			highestStep = leg.Step
		}
	}

	total := highestStep + 1
	covered := 0

	for _, leg := range reps {
		if leg.IsActive() {
			covered++
		}
	}

	if covered > total {
		covered = total
	}

	return covered * 100 / total
}
