package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Reservation statuses for a (event, seat) pair.
const (
	StatusAvailable = "available"
	StatusHeld      = "held"
	StatusConfirmed = "confirmed"
	StatusReleased  = "released"
)

// SeatReservation is the consistency-critical row: the booking state of one
// seat for one event. Every write is conditioned on Version being unchanged
// since read; blind overwrites are not allowed anywhere.
type SeatReservation struct {
	bun.BaseModel `bun:"table:seat_reservations"`

	EventID     string    `bun:"event_id,pk" json:"event_id"`
	SeatID      string    `bun:"seat_id,pk" json:"seat_id"`
	Status      string    `bun:"status,notnull" json:"status"`
	HolderID    string    `bun:"holder_id,nullzero" json:"holder_id,omitempty"`
	AttemptID   string    `bun:"attempt_id,nullzero" json:"attempt_id,omitempty"`
	HeldAt      time.Time `bun:"held_at,nullzero" json:"held_at,omitempty"`
	ConfirmedAt time.Time `bun:"confirmed_at,nullzero" json:"confirmed_at,omitempty"`
	Version     int64     `bun:"version,notnull" json:"version"`
}

// HoldExpired reports whether a held reservation is past its timeout.
// Confirmed rows never expire, whatever their HeldAt says.
func (r *SeatReservation) HoldExpired(now time.Time, timeout time.Duration) bool {
	if r.Status != StatusHeld {
		return false
	}
	return now.Sub(r.HeldAt) > timeout
}
