package models

import (
	"github.com/uptrace/bun"
)

// Seat is the static inventory record for one physical seat in a venue.
// Seats are never deleted while bookings reference them; Disabled takes
// them out of sale instead.
type Seat struct {
	bun.BaseModel `bun:"table:seats"`

	SeatID     string `bun:"seat_id,pk" json:"seat_id"`
	VenueID    string `bun:"venue_id,notnull" json:"venue_id"`
	Section    string `bun:"section" json:"section"`
	Row        string `bun:"row" json:"row"`
	Number     string `bun:"number" json:"number"`
	SeatType   string `bun:"seat_type" json:"seat_type"`
	PriceCents int64  `bun:"price_cents" json:"price_cents"`
	Disabled   bool   `bun:"disabled" json:"disabled"`
}

// SeatView is a read snapshot of a seat plus its reservation state for one
// event. It is not a lock: mutation goes through the booking coordinator.
type SeatView struct {
	Seat    Seat   `json:"seat"`
	Status  string `json:"status"`
	Version int64  `json:"version"`
}

type CreateSeatsRequest struct {
	Seats []Seat `json:"seats"`
}
