package models

import "time"

// RelayPoint is a physical hand-off location: a warehouse-affiliated point
// or an ad-hoc geocoded drop box.
type RelayPoint struct {
	ID          string    `db:"id" json:"id"`
	WarehouseID *string   `db:"warehouse_id" json:"warehouse_id,omitempty"`
	Label       string    `db:"label" json:"label"`
	City        string    `db:"city" json:"city"`
	Address     string    `db:"address" json:"address"`
	PostalCode  string    `db:"postal_code" json:"postal_code"`
	Lat         float64   `db:"lat" json:"lat"`
	Lon         float64   `db:"lon" json:"lon"`
	IsDropBox   bool      `db:"is_drop_box" json:"is_drop_box"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// RelayBinding ties step 1..999 of a shipment to a relay point. Point is
// filled when the binding is loaded with its relay point.
type RelayBinding struct {
	ShipmentID   string     `db:"shipment_id" json:"shipment_id"`
	Step         int        `db:"step" json:"step"`
	RelayPointID string     `db:"relay_point_id" json:"relay_point_id"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	Point        RelayPoint `db:"point" json:"point"`
}
