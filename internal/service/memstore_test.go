package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/relay-freight-api/internal/clients"
	"github.com/vaidashi/relay-freight-api/internal/models"
	"github.com/vaidashi/relay-freight-api/internal/repository"
)

type memTxKey struct{}

// memDB is an in-memory ledger. Transactions are serialized by txMu, which
// stands in for the row locks, and roll back by restoring a snapshot.
type memDB struct {
	txMu sync.Mutex
	mu   sync.Mutex

	shipments   map[string]models.Shipment
	legs        map[string]models.Leg
	points      map[string]models.RelayPoint
	bindings    map[string]models.RelayBinding
	subs        map[string]models.Subscription
	settlements map[string]models.SettlementRecord
	users       map[string]models.User
	favorites   map[string]models.Favorite
	reviews     map[string]models.Review
	outbox      []models.OutboxMessage
}

func newMemDB() *memDB {
	return &memDB{
		shipments:   map[string]models.Shipment{},
		legs:        map[string]models.Leg{},
		points:      map[string]models.RelayPoint{},
		bindings:    map[string]models.RelayBinding{},
		subs:        map[string]models.Subscription{},
		settlements: map[string]models.SettlementRecord{},
		users:       map[string]models.User{},
		favorites:   map[string]models.Favorite{},
		reviews:     map[string]models.Review{},
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (db *memDB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}

	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.Lock()
	snap := &memDB{
		shipments:   copyMap(db.shipments),
		legs:        copyMap(db.legs),
		points:      copyMap(db.points),
		bindings:    copyMap(db.bindings),
		subs:        copyMap(db.subs),
		settlements: copyMap(db.settlements),
		users:       copyMap(db.users),
		favorites:   copyMap(db.favorites),
		reviews:     copyMap(db.reviews),
		outbox:      append([]models.OutboxMessage(nil), db.outbox...),
	}
	db.mu.Unlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		db.mu.Lock()
		db.shipments, db.legs, db.points, db.bindings = snap.shipments, snap.legs, snap.points, snap.bindings
		db.subs, db.settlements, db.users = snap.subs, snap.settlements, snap.users
		db.favorites, db.reviews, db.outbox = snap.favorites, snap.reviews, snap.outbox
		db.mu.Unlock()
		return err
	}

	return nil
}

func (db *memDB) eventTypes() []string {
	db.mu.Lock()
	defer db.mu.Unlock()

	out := make([]string, 0, len(db.outbox))
	for _, m := range db.outbox {
		out = append(out, m.EventType)
	}
	return out
}

func (db *memDB) leg(id string) models.Leg {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.legs[id]
}

func (db *memDB) sub(id string) models.Subscription {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.subs[id]
}

func (db *memDB) settlementCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.settlements)
}

type memShipments struct{ db *memDB }

func (s memShipments) Create(_ context.Context, sh *models.Shipment) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.shipments[sh.ID] = *sh
	return nil
}

func (s memShipments) GetByID(_ context.Context, id string) (*models.Shipment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	sh, ok := s.db.shipments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &sh, nil
}

func (s memShipments) GetForUpdate(ctx context.Context, id string) (*models.Shipment, error) {
	return s.GetByID(ctx, id)
}

func (s memShipments) ListByRequester(_ context.Context, requesterID string) ([]*models.Shipment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := []*models.Shipment{}
	for _, sh := range s.db.shipments {
		if sh.RequesterID == requesterID {
			sh := sh
			out = append(out, &sh)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s memShipments) UpdatePrice(_ context.Context, id string, price decimal.Decimal) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	sh, ok := s.db.shipments[id]
	if !ok {
		return repository.ErrNotFound
	}
	sh.ProposedPrice = price
	s.db.shipments[id] = sh
	return nil
}

func (s memShipments) MarkCanceled(_ context.Context, id string, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	sh, ok := s.db.shipments[id]
	if !ok {
		return repository.ErrNotFound
	}
	sh.CanceledAt = &at
	s.db.shipments[id] = sh
	return nil
}

type memLegs struct{ db *memDB }

func (s memLegs) Create(_ context.Context, leg *models.Leg) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.legs[leg.ID] = *leg
	return nil
}

func (s memLegs) GetByID(_ context.Context, id string) (*models.Leg, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	leg, ok := s.db.legs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &leg, nil
}

func (s memLegs) GetForUpdate(ctx context.Context, id string) (*models.Leg, error) {
	return s.GetByID(ctx, id)
}

func (s memLegs) list(match func(models.Leg) bool) []models.Leg {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := []models.Leg{}
	for _, leg := range s.db.legs {
		if match(leg) {
			out = append(out, leg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Step != out[j].Step {
			return out[i].Step < out[j].Step
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s memLegs) ListByShipment(_ context.Context, shipmentID string) ([]models.Leg, error) {
	return s.list(func(l models.Leg) bool { return l.ShipmentID == shipmentID }), nil
}

func (s memLegs) ListByCourier(_ context.Context, courierID string) ([]models.Leg, error) {
	return s.list(func(l models.Leg) bool { return l.CourierID == courierID }), nil
}

func (s memLegs) Update(_ context.Context, leg *models.Leg) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.legs[leg.ID]; !ok {
		return repository.ErrNotFound
	}
	s.db.legs[leg.ID] = *leg
	return nil
}

type memRelays struct{ db *memDB }

func (s memRelays) CreatePoint(_ context.Context, p *models.RelayPoint) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.points[p.ID] = *p
	return nil
}

func (s memRelays) GetPoint(_ context.Context, id string) (*models.RelayPoint, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.points[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (s memRelays) CreateBinding(_ context.Context, b *models.RelayBinding) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	key := fmt.Sprintf("%s|%d", b.ShipmentID, b.Step)
	if _, ok := s.db.bindings[key]; ok {
		return fmt.Errorf("%w: relay_bindings_pkey", repository.ErrDuplicate)
	}
	s.db.bindings[key] = *b
	return nil
}

func (s memRelays) ListBindings(_ context.Context, shipmentID string) ([]models.RelayBinding, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := []models.RelayBinding{}
	for _, b := range s.db.bindings {
		if b.ShipmentID == shipmentID {
			b.Point = s.db.points[b.RelayPointID]
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Step < out[j].Step })
	return out, nil
}

type memSubscriptions struct{ db *memDB }

func (s memSubscriptions) LockActiveByUser(_ context.Context, userID string) (*models.Subscription, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, sub := range s.db.subs {
		if sub.UserID == userID && sub.Active {
			return &sub, nil
		}
	}
	return nil, nil
}

func (s memSubscriptions) SetFirstFreeUsed(_ context.Context, id string, used bool) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	sub := s.db.subs[id]
	sub.FirstShippingFreeUsed = used
	s.db.subs[id] = sub
	return nil
}

type memSettlements struct{ db *memDB }

func (s memSettlements) Create(_ context.Context, rec *models.SettlementRecord) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.settlements[rec.LegID]; ok {
		return fmt.Errorf("%w: settlements_leg_id_key", repository.ErrDuplicate)
	}
	s.db.settlements[rec.LegID] = *rec
	return nil
}

func (s memSettlements) GetByLeg(_ context.Context, legID string) (*models.SettlementRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	rec, ok := s.db.settlements[legID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rec, nil
}

type memUsers struct{ db *memDB }

func (s memUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	u, ok := s.db.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

type memOutbox struct{ db *memDB }

func (s memOutbox) Create(_ context.Context, m *models.OutboxMessage) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	m.ID = int64(len(s.db.outbox) + 1)
	s.db.outbox = append(s.db.outbox, *m)
	return nil
}

type memFavorites struct{ db *memDB }

func (s memFavorites) Add(_ context.Context, f *models.Favorite) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	key := f.RequesterID + "|" + f.CourierID
	if _, ok := s.db.favorites[key]; !ok {
		s.db.favorites[key] = *f
	}
	return nil
}

func (s memFavorites) Remove(_ context.Context, requesterID, courierID string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	key := requesterID + "|" + courierID
	if _, ok := s.db.favorites[key]; !ok {
		return repository.ErrNotFound
	}
	delete(s.db.favorites, key)
	return nil
}

func (s memFavorites) List(_ context.Context, requesterID string) ([]*models.Favorite, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := []*models.Favorite{}
	for _, f := range s.db.favorites {
		if f.RequesterID == requesterID {
			f := f
			out = append(out, &f)
		}
	}
	return out, nil
}

type memReviews struct{ db *memDB }

func (s memReviews) Create(_ context.Context, r *models.Review) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, existing := range s.db.reviews {
		if existing.LegID == r.LegID && existing.AuthorID == r.AuthorID {
			return fmt.Errorf("%w: reviews_leg_id_author_id_key", repository.ErrDuplicate)
		}
	}
	s.db.reviews[r.ID] = *r
	return nil
}

func (s memReviews) ListByCourier(_ context.Context, courierID string) ([]*models.Review, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := []*models.Review{}
	for _, r := range s.db.reviews {
		if r.CourierID == courierID {
			r := r
			out = append(out, &r)
		}
	}
	return out, nil
}

// fakeGateway records charges by reference. A repeated reference returns
// the first charge, like a gateway idempotency key. With lost set the charge
// is made but the caller gets lost back instead of the result.
type fakeGateway struct {
	mu      sync.Mutex
	charges map[string]clients.ChargeResult
	calls   int
	fail    error
	lost    error
	delay   time.Duration
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{charges: map[string]clients.ChargeResult{}}
}

func (g *fakeGateway) Charge(ctx context.Context, req clients.ChargeRequest) (clients.ChargeResult, error) {
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return clients.ChargeResult{}, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls++

	if g.fail != nil {
		return clients.ChargeResult{}, g.fail
	}

	res, ok := g.charges[req.Reference]
	if !ok {
		res = clients.ChargeResult{TransactionRef: fmt.Sprintf("pi_%d", len(g.charges)+1), Status: "succeeded"}
		g.charges[req.Reference] = res
	}

	if g.lost != nil {
		return clients.ChargeResult{}, g.lost
	}

	return res, nil
}

func (g *fakeGateway) FindCharge(_ context.Context, reference string) (clients.ChargeResult, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	res, ok := g.charges[reference]
	return res, ok, nil
}

func (g *fakeGateway) chargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.charges)
}

type fakeGeocoder struct {
	coords clients.Coordinates
	err    error
}

func (g fakeGeocoder) Resolve(context.Context, string) (clients.Coordinates, error) {
	return g.coords, g.err
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []clients.Notification
}

func (n *fakeNotifier) Send(_ context.Context, msg clients.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

type fakeRenderer struct{}

func (fakeRenderer) Render(d clients.InvoiceData) ([]byte, error) {
	return []byte("%PDF-" + d.SettlementID), nil
}

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (o *fakeObjects) Put(_ context.Context, bucket, key string, data []byte, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.objects == nil {
		o.objects = map[string][]byte{}
	}
	o.objects[bucket+"/"+key] = data
	return nil
}

func (o *fakeObjects) URL(_ context.Context, bucket, key string) (string, error) {
	return "https://objects.test/" + bucket + "/" + key + "?sig=1", nil
}
