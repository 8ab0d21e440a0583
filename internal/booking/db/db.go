package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cricverse-booking/internal/models"

	"github.com/uptrace/bun"
)

// DB is the durable store for seat reservation state and the attempt
// ledger. Both tables live in the same database so a reserve can commit
// seat transitions and its ledger entry in one transaction.
//
// Every state-changing method here is a conditional write: it matches the
// row's current version (and status) and reports via its bool return
// whether the transition won. Callers never overwrite blindly.
type DB struct {
	Bun *bun.DB
}

// RunInTx executes fn inside one database transaction. Any error from fn
// rolls back everything fn did, including ledger writes.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, idb bun.IDB) error) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, tx)
	})
}

// ---------------- RESERVATION STATE ----------------

// EnsureReservations creates missing (event, seat) rows as available with
// version 0. Existing rows are left untouched.
func (d *DB) EnsureReservations(ctx context.Context, idb bun.IDB, eventID string, seatIDs []string) error {
	rows := make([]models.SeatReservation, 0, len(seatIDs))
	for _, seatID := range seatIDs {
		rows = append(rows, models.SeatReservation{
			EventID: eventID,
			SeatID:  seatID,
			Status:  models.StatusAvailable,
			Version: 0,
		})
	}
	_, err := idb.NewInsert().
		Model(&rows).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	return err
}

// GetReservations fetches the reservation rows for the given seats,
// ordered by seat ID so multi-row work always touches rows in the same
// order.
func (d *DB) GetReservations(ctx context.Context, idb bun.IDB, eventID string, seatIDs []string) ([]models.SeatReservation, error) {
	var rows []models.SeatReservation
	err := idb.NewSelect().
		Model(&rows).
		Where("event_id = ?", eventID).
		Where("seat_id IN (?)", bun.In(seatIDs)).
		Order("seat_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// TransitionToHeld attempts available|released -> held for one row. The
// write is conditioned on the version observed in res; it returns false
// when another writer got there first.
func (d *DB) TransitionToHeld(ctx context.Context, idb bun.IDB, res models.SeatReservation, holderID, attemptID string, now time.Time) (bool, error) {
	result, err := idb.NewUpdate().
		Model((*models.SeatReservation)(nil)).
		Set("status = ?", models.StatusHeld).
		Set("holder_id = ?", holderID).
		Set("attempt_id = ?", attemptID).
		Set("held_at = ?", now).
		Set("version = version + 1").
		Where("event_id = ?", res.EventID).
		Where("seat_id = ?", res.SeatID).
		Where("version = ?", res.Version).
		Where("status IN (?)", bun.In([]string{models.StatusAvailable, models.StatusReleased})).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return oneRow(result)
}

// TransitionToConfirmed attempts held -> confirmed for one row, still
// guarded by version and holder so a sweep that already reclaimed the
// seat cannot be overwritten.
func (d *DB) TransitionToConfirmed(ctx context.Context, idb bun.IDB, res models.SeatReservation, now time.Time) (bool, error) {
	result, err := idb.NewUpdate().
		Model((*models.SeatReservation)(nil)).
		Set("status = ?", models.StatusConfirmed).
		Set("confirmed_at = ?", now).
		Set("version = version + 1").
		Where("event_id = ?", res.EventID).
		Where("seat_id = ?", res.SeatID).
		Where("version = ?", res.Version).
		Where("status = ?", models.StatusHeld).
		Where("holder_id = ?", res.HolderID).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return oneRow(result)
}

// ReleaseHold attempts held -> available for one row, conditioned on
// version and holder. Used for voluntary release, reserve rollback and
// sweeper reclaim alike.
func (d *DB) ReleaseHold(ctx context.Context, idb bun.IDB, res models.SeatReservation) (bool, error) {
	result, err := idb.NewUpdate().
		Model((*models.SeatReservation)(nil)).
		Set("status = ?", models.StatusAvailable).
		Set("holder_id = NULL").
		Set("attempt_id = NULL").
		Set("held_at = NULL").
		Set("version = version + 1").
		Where("event_id = ?", res.EventID).
		Where("seat_id = ?", res.SeatID).
		Where("version = ?", res.Version).
		Where("status = ?", models.StatusHeld).
		Where("holder_id = ?", res.HolderID).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return oneRow(result)
}

// ExpiredHolds returns held rows whose hold started before cutoff.
// Confirmed rows never match: the filter is on status, not held_at alone.
func (d *DB) ExpiredHolds(ctx context.Context, cutoff time.Time, limit int) ([]models.SeatReservation, error) {
	var rows []models.SeatReservation
	q := d.Bun.NewSelect().
		Model(&rows).
		Where("status = ?", models.StatusHeld).
		Where("held_at < ?", cutoff).
		Order("event_id ASC", "seat_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

// ReservationsByAttempt fetches the rows currently tied to an attempt.
func (d *DB) ReservationsByAttempt(ctx context.Context, attemptID string) ([]models.SeatReservation, error) {
	var rows []models.SeatReservation
	err := d.Bun.NewSelect().
		Model(&rows).
		Where("attempt_id = ?", attemptID).
		Order("seat_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ---------------- LEDGER ----------------

// InsertAttempt appends one ledger entry. A duplicate attempt ID fails on
// the primary key, which is how concurrent replays of the same key are
// serialized.
func (d *DB) InsertAttempt(ctx context.Context, idb bun.IDB, attempt models.ReservationAttempt) error {
	_, err := idb.NewInsert().Model(&attempt).Exec(ctx)
	return err
}

// GetAttempt fetches one ledger entry, nil when the ID is unknown.
func (d *DB) GetAttempt(ctx context.Context, attemptID string) (*models.ReservationAttempt, error) {
	var attempt models.ReservationAttempt
	err := d.Bun.NewSelect().
		Model(&attempt).
		Where("attempt_id = ?", attemptID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// MarkAttemptExpired moves a ledger entry committed -> expired. The guard
// on the current outcome keeps the write idempotent across concurrent
// sweeper replicas and refuses to touch rejected entries.
func (d *DB) MarkAttemptExpired(ctx context.Context, attemptID string) (bool, error) {
	result, err := d.Bun.NewUpdate().
		Model((*models.ReservationAttempt)(nil)).
		Set("outcome = ?", models.OutcomeExpired).
		Where("attempt_id = ?", attemptID).
		Where("outcome = ?", models.OutcomeCommitted).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return oneRow(result)
}

// AnyConfirmedForAttempt reports whether any seat of the attempt reached
// confirmed, which blocks the sweeper from expiring the ledger entry.
func (d *DB) AnyConfirmedForAttempt(ctx context.Context, attemptID string) (bool, error) {
	count, err := d.Bun.NewSelect().
		Model((*models.SeatReservation)(nil)).
		Where("attempt_id = ?", attemptID).
		Where("status = ?", models.StatusConfirmed).
		Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func oneRow(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
