package models

import "time"

type Favorite struct {
	RequesterID string    `db:"requester_id" json:"requester_id"`
	CourierID   string    `db:"courier_id" json:"courier_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Review is a requester's rating of the courier who carried a leg.
type Review struct {
	ID        string    `db:"id" json:"id"`
	LegID     string    `db:"leg_id" json:"leg_id"`
	AuthorID  string    `db:"author_id" json:"author_id"`
	CourierID string    `db:"courier_id" json:"courier_id"`
	Rating    int       `db:"rating" json:"rating"`
	Comment   string    `db:"comment" json:"comment"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type CourierReviews struct {
	CourierID     string    `json:"courier_id"`
	AverageRating float64   `json:"average_rating"`
	Count         int       `json:"count"`
	Reviews       []*Review `json:"reviews"`
}
