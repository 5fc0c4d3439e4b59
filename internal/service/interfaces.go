package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/relay-freight-api/internal/clients"
	"github.com/vaidashi/relay-freight-api/internal/models"
)

// TxManager runs fn in one database transaction carried by the context
// passed to fn. Stores called with that context join the transaction.
type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type ShipmentStore interface {
	Create(ctx context.Context, sh *models.Shipment) error
	GetByID(ctx context.Context, id string) (*models.Shipment, error)
	GetForUpdate(ctx context.Context, id string) (*models.Shipment, error)
	ListByRequester(ctx context.Context, requesterID string) ([]*models.Shipment, error)
	UpdatePrice(ctx context.Context, id string, price decimal.Decimal) error
	MarkCanceled(ctx context.Context, id string, at time.Time) error
}

type LegStore interface {
	Create(ctx context.Context, leg *models.Leg) error
	GetByID(ctx context.Context, id string) (*models.Leg, error)
	GetForUpdate(ctx context.Context, id string) (*models.Leg, error)
	ListByShipment(ctx context.Context, shipmentID string) ([]models.Leg, error)
	ListByCourier(ctx context.Context, courierID string) ([]models.Leg, error)
	Update(ctx context.Context, leg *models.Leg) error
}

type RelayStore interface {
	CreatePoint(ctx context.Context, p *models.RelayPoint) error
	GetPoint(ctx context.Context, id string) (*models.RelayPoint, error)
	CreateBinding(ctx context.Context, b *models.RelayBinding) error
	ListBindings(ctx context.Context, shipmentID string) ([]models.RelayBinding, error)
}

type SubscriptionStore interface {
	// LockActiveByUser returns nil without error when the user has no active subscription.
	LockActiveByUser(ctx context.Context, userID string) (*models.Subscription, error)
	SetFirstFreeUsed(ctx context.Context, id string, used bool) error
}

type SettlementStore interface {
	Create(ctx context.Context, rec *models.SettlementRecord) error
	GetByLeg(ctx context.Context, legID string) (*models.SettlementRecord, error)
}

type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

type OutboxWriter interface {
	Create(ctx context.Context, message *models.OutboxMessage) error
}

type FavoriteStore interface {
	Add(ctx context.Context, f *models.Favorite) error
	Remove(ctx context.Context, requesterID, courierID string) error
	List(ctx context.Context, requesterID string) ([]*models.Favorite, error)
}

type ReviewStore interface {
	Create(ctx context.Context, r *models.Review) error
	ListByCourier(ctx context.Context, courierID string) ([]*models.Review, error)
}

// PaymentGateway charges a requester's saved payment method.
type PaymentGateway interface {
	Charge(ctx context.Context, req clients.ChargeRequest) (clients.ChargeResult, error)
	// FindCharge finds a succeeded charge made with reference.
	FindCharge(ctx context.Context, reference string) (clients.ChargeResult, bool, error)
}

type Geocoder interface {
	Resolve(ctx context.Context, address string) (clients.Coordinates, error)
}

type InvoiceRenderer interface {
	Render(data clients.InvoiceData) ([]byte, error)
}

type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	URL(ctx context.Context, bucket, key string) (string, error)
}

// Notifier delivers best-effort notifications.
type Notifier interface {
	Send(ctx context.Context, n clients.Notification) error
}
