package inventory

import (
	"context"
	"fmt"

	"cricverse-booking/internal/booking"
	"cricverse-booking/internal/models"

	"github.com/uptrace/bun"
)

// DB is the seat inventory store: static seat attributes plus a read
// snapshot of reservation state. It never mutates reservation rows -
// that is the coordinator's job.
type DB struct {
	Bun *bun.DB
}

// GetSeats returns a view per requested seat for the event. It fails with
// booking.ErrNotFound when any seat is unknown or soft-disabled, so a
// reserve can never hold inventory that is not for sale.
func (d *DB) GetSeats(ctx context.Context, eventID string, seatIDs []string) (map[string]models.SeatView, error) {
	var seats []models.Seat
	err := d.Bun.NewSelect().
		Model(&seats).
		Where("seat_id IN (?)", bun.In(seatIDs)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("seat lookup: %w", err)
	}

	bySeat := make(map[string]models.Seat, len(seats))
	for _, seat := range seats {
		bySeat[seat.SeatID] = seat
	}
	for _, seatID := range seatIDs {
		seat, ok := bySeat[seatID]
		if !ok {
			return nil, fmt.Errorf("%w: seat %s", booking.ErrNotFound, seatID)
		}
		if seat.Disabled {
			return nil, fmt.Errorf("%w: seat %s is not on sale", booking.ErrNotFound, seatID)
		}
	}

	var reservations []models.SeatReservation
	err = d.Bun.NewSelect().
		Model(&reservations).
		Where("event_id = ?", eventID).
		Where("seat_id IN (?)", bun.In(seatIDs)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("reservation lookup: %w", err)
	}
	stateBySeat := make(map[string]models.SeatReservation, len(reservations))
	for _, r := range reservations {
		stateBySeat[r.SeatID] = r
	}

	views := make(map[string]models.SeatView, len(seatIDs))
	for _, seatID := range seatIDs {
		view := models.SeatView{
			Seat:   bySeat[seatID],
			Status: models.StatusAvailable,
		}
		if r, ok := stateBySeat[seatID]; ok {
			view.Status = r.Status
			view.Version = r.Version
		}
		views[seatID] = view
	}
	return views, nil
}

// ListSeats returns every enabled seat of a venue with its state for the
// event, for seat-map rendering upstream.
func (d *DB) ListSeats(ctx context.Context, eventID, venueID string) ([]models.SeatView, error) {
	var seats []models.Seat
	err := d.Bun.NewSelect().
		Model(&seats).
		Where("venue_id = ?", venueID).
		Where("disabled = ?", false).
		Order("section ASC", "row ASC", "number ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("seat list: %w", err)
	}
	if len(seats) == 0 {
		return []models.SeatView{}, nil
	}

	seatIDs := make([]string, len(seats))
	for i, seat := range seats {
		seatIDs[i] = seat.SeatID
	}
	var reservations []models.SeatReservation
	err = d.Bun.NewSelect().
		Model(&reservations).
		Where("event_id = ?", eventID).
		Where("seat_id IN (?)", bun.In(seatIDs)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("reservation list: %w", err)
	}
	stateBySeat := make(map[string]models.SeatReservation, len(reservations))
	for _, r := range reservations {
		stateBySeat[r.SeatID] = r
	}

	views := make([]models.SeatView, len(seats))
	for i, seat := range seats {
		views[i] = models.SeatView{Seat: seat, Status: models.StatusAvailable}
		if r, ok := stateBySeat[seat.SeatID]; ok {
			views[i].Status = r.Status
			views[i].Version = r.Version
		}
	}
	return views, nil
}

// CreateSeats bulk-provisions seats during venue setup. Existing seat IDs
// are left untouched: seat identity is immutable once created.
func (d *DB) CreateSeats(ctx context.Context, seats []models.Seat) (int, error) {
	if len(seats) == 0 {
		return 0, nil
	}
	result, err := d.Bun.NewInsert().
		Model(&seats).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("seat provisioning: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// DisableSeat soft-disables a seat. Seats are never deleted while
// bookings reference them.
func (d *DB) DisableSeat(ctx context.Context, seatID string) error {
	result, err := d.Bun.NewUpdate().
		Model((*models.Seat)(nil)).
		Set("disabled = ?", true).
		Where("seat_id = ?", seatID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("seat disable: %w", err)
	}
	n, err := result.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("%w: seat %s", booking.ErrNotFound, seatID)
	}
	return err
}

// GetSeat fetches one seat's static attributes.
func (d *DB) GetSeat(ctx context.Context, seatID string) (*models.Seat, error) {
	var seat models.Seat
	err := d.Bun.NewSelect().
		Model(&seat).
		Where("seat_id = ?", seatID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: seat %s", booking.ErrNotFound, seatID)
	}
	return &seat, nil
}
