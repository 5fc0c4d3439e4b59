package models

import "time"

// UserKind is the capability a user acts with.
type UserKind string

const (
	UserKindClient   UserKind = "client"
	UserKindMerchant UserKind = "merchant"
	UserKindProvider UserKind = "provider"
	UserKindCourier  UserKind = "courier"
)

func (k UserKind) Valid() bool {
	switch k {
	case UserKindClient, UserKindMerchant, UserKindProvider, UserKindCourier:
		return true
	}
	return false
}

// User is the stored profile behind an actor.
type User struct {
	ID                 string    `db:"id" json:"id"`
	Kind               UserKind  `db:"kind" json:"kind"`
	DisplayName        string    `db:"display_name" json:"display_name"`
	Email              string    `db:"email" json:"email,omitempty"`
	Phone              string    `db:"phone" json:"phone,omitempty"`
	PaymentCustomerRef string    `db:"payment_customer_ref" json:"-"`
	PaymentMethodRef   string    `db:"payment_method_ref" json:"-"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// Actor is the caller of an operation, resolved once per request.
type Actor struct {
	UserID string
	Kind   UserKind
}

// ActorFromUser builds the actor for a loaded profile.
func ActorFromUser(u *User) Actor {
	return Actor{UserID: u.ID, Kind: u.Kind}
}

// CanRequest reports whether the actor may create shipments.
func (a Actor) CanRequest() bool {
	switch a.Kind {
	case UserKindClient, UserKindMerchant, UserKindProvider:
		return true
	}
	return false
}

// CanCarry reports whether the actor may book legs.
func (a Actor) CanCarry() bool {
	return a.Kind == UserKindCourier
}
