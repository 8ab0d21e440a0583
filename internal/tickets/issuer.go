package tickets

import (
	"context"
	"fmt"
	"time"

	"cricverse-booking/internal/models"
	"cricverse-booking/internal/tickets/qr"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Issuer creates one ticket per confirmed seat, with an encrypted QR for
// gate entry. It runs after confirm as an independent failure domain: a
// failed issuance leaves the reservation confirmed and is retried by
// calling IssueTickets again (already-issued seats are skipped).
type Issuer struct {
	Bun *bun.DB
	QR  *qr.Generator
}

func NewIssuer(bunDB *bun.DB, generator *qr.Generator) *Issuer {
	return &Issuer{Bun: bunDB, QR: generator}
}

// IssueTickets issues tickets for every seat of a committed attempt.
func (i *Issuer) IssueTickets(ctx context.Context, attempt models.ReservationAttempt) ([]models.Ticket, error) {
	var existing []models.Ticket
	err := i.Bun.NewSelect().
		Model(&existing).
		Where("attempt_id = ?", attempt.AttemptID).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("ticket lookup: %w", err)
	}
	issued := make(map[string]bool, len(existing))
	for _, t := range existing {
		issued[t.SeatID] = true
	}

	var seats []models.Seat
	err = i.Bun.NewSelect().
		Model(&seats).
		Where("seat_id IN (?)", bun.In(attempt.SeatIDs)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("seat lookup: %w", err)
	}
	seatByID := make(map[string]models.Seat, len(seats))
	for _, s := range seats {
		seatByID[s.SeatID] = s
	}

	tickets := append([]models.Ticket{}, existing...)
	for _, seatID := range attempt.SeatIDs {
		if issued[seatID] {
			continue
		}
		seat := seatByID[seatID]
		ticket := models.Ticket{
			TicketID:   uuid.New().String(),
			AttemptID:  attempt.AttemptID,
			EventID:    attempt.EventID,
			SeatID:     seatID,
			HolderID:   attempt.HolderID,
			SeatType:   seat.SeatType,
			AccessGate: gateForSection(seat.Section),
			PriceCents: seat.PriceCents,
			IssuedAt:   time.Now(),
		}
		qrBytes, err := i.QR.GenerateEncryptedQR(ticket)
		if err != nil {
			return tickets, fmt.Errorf("qr generation for seat %s: %w", seatID, err)
		}
		ticket.QRCode = qrBytes

		if _, err := i.Bun.NewInsert().Model(&ticket).Exec(ctx); err != nil {
			return tickets, fmt.Errorf("ticket insert for seat %s: %w", seatID, err)
		}
		tickets = append(tickets, ticket)
	}
	return tickets, nil
}

// TicketsByHolder lists a holder's tickets, newest first.
func (i *Issuer) TicketsByHolder(ctx context.Context, holderID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := i.Bun.NewSelect().
		Model(&tickets).
		Where("holder_id = ?", holderID).
		Order("issued_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// gateForSection maps a seating section to its access gate. Stadium
// layouts put premium sections behind the members' gate.
func gateForSection(section string) string {
	switch section {
	case "Premium", "Corporate", "VIP":
		return "Gate A"
	case "":
		return "Gate C"
	default:
		return "Gate B"
	}
}
