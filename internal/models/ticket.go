package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Ticket is issued per confirmed seat. Issuance happens strictly after the
// seat is confirmed; a failed issuance never reverts the reservation.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	TicketID   string    `bun:"ticket_id,pk" json:"ticket_id"`
	AttemptID  string    `bun:"attempt_id,notnull" json:"attempt_id"`
	EventID    string    `bun:"event_id,notnull" json:"event_id"`
	SeatID     string    `bun:"seat_id,notnull" json:"seat_id"`
	HolderID   string    `bun:"holder_id,notnull" json:"holder_id"`
	SeatType   string    `bun:"seat_type" json:"seat_type"`
	AccessGate string    `bun:"access_gate" json:"access_gate"`
	PriceCents int64     `bun:"price_cents" json:"price_cents"`
	QRCode     []byte    `bun:"qr_code" json:"-"`
	IssuedAt   time.Time `bun:"issued_at,notnull" json:"issued_at"`
}
