package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Ledger outcomes for a reservation attempt.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
	OutcomeExpired   = "expired"
)

// ReservationAttempt is one ledger entry: a single booking request and its
// outcome. AttemptID doubles as the caller's idempotency key - replaying it
// returns the stored outcome without touching seat state. The only outcome
// transition ever allowed is committed -> expired, written by the sweeper.
type ReservationAttempt struct {
	bun.BaseModel `bun:"table:reservation_attempts"`

	AttemptID       string    `bun:"attempt_id,pk" json:"attempt_id"`
	EventID         string    `bun:"event_id,notnull" json:"event_id"`
	SeatIDs         []string  `bun:"seat_ids,array" json:"seat_ids"`
	HolderID        string    `bun:"holder_id,notnull" json:"holder_id"`
	RequestedAt     time.Time `bun:"requested_at,notnull" json:"requested_at"`
	Outcome         string    `bun:"outcome,notnull" json:"outcome"`
	RejectedSeatIDs []string  `bun:"rejected_seat_ids,array" json:"rejected_seat_ids,omitempty"`
}

// Terminal reports whether the attempt's outcome can no longer change.
func (a *ReservationAttempt) Terminal() bool {
	return a.Outcome == OutcomeRejected || a.Outcome == OutcomeExpired
}

type ReserveRequest struct {
	AttemptID string   `json:"attempt_id"`
	SeatIDs   []string `json:"seat_ids"`
}

// ReservationResult is the value returned from Reserve. A rejected request
// is a normal outcome carried here, not an error.
type ReservationResult struct {
	AttemptID       string   `json:"attempt_id"`
	EventID         string   `json:"event_id"`
	Outcome         string   `json:"outcome"`
	HeldSeatIDs     []string `json:"held_seat_ids,omitempty"`
	RejectedSeatIDs []string `json:"rejected_seat_ids,omitempty"`
	HoldExpiresAt   time.Time `json:"hold_expires_at,omitempty"`
}

type ConfirmResult struct {
	AttemptID        string   `json:"attempt_id"`
	EventID          string   `json:"event_id"`
	ConfirmedSeatIDs []string `json:"confirmed_seat_ids"`
	TicketIDs        []string `json:"ticket_ids,omitempty"`
}
