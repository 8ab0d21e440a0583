package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cricverse-booking/internal/models"

	"github.com/uptrace/bun"
)

// Store is the durable reservation state + ledger layer the coordinator
// drives. Implementations must make every transition a conditional write.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, idb bun.IDB) error) error
	EnsureReservations(ctx context.Context, idb bun.IDB, eventID string, seatIDs []string) error
	GetReservations(ctx context.Context, idb bun.IDB, eventID string, seatIDs []string) ([]models.SeatReservation, error)
	TransitionToHeld(ctx context.Context, idb bun.IDB, res models.SeatReservation, holderID, attemptID string, now time.Time) (bool, error)
	TransitionToConfirmed(ctx context.Context, idb bun.IDB, res models.SeatReservation, now time.Time) (bool, error)
	ReleaseHold(ctx context.Context, idb bun.IDB, res models.SeatReservation) (bool, error)
	InsertAttempt(ctx context.Context, idb bun.IDB, attempt models.ReservationAttempt) error
	GetAttempt(ctx context.Context, attemptID string) (*models.ReservationAttempt, error)
	ReservationsByAttempt(ctx context.Context, attemptID string) ([]models.SeatReservation, error)
}

// SeatGate is the redis admission filter in front of the store.
type SeatGate interface {
	AcquireSeats(ctx context.Context, eventID string, seatIDs []string, attemptID string) (bool, []string, error)
	ReleaseSeats(ctx context.Context, eventID string, seatIDs []string, attemptID string) error
}

// Inventory resolves seat identity before any reservation work.
type Inventory interface {
	GetSeats(ctx context.Context, eventID string, seatIDs []string) (map[string]models.SeatView, error)
}

// Publisher streams reservation lifecycle events. Publishing is
// best-effort: a broker outage never fails a booking.
type Publisher interface {
	PublishReservationHeld(result models.ReservationResult) error
	PublishReservationConfirmed(result models.ConfirmResult) error
	PublishReservationReleased(eventID string, seatIDs []string, holderID string) error
}

// TicketIssuer hands off confirmed seats to ticket/QR issuance. It runs
// strictly after the seats are confirmed; its failure is logged, never
// propagated into the reservation state.
type TicketIssuer interface {
	IssueTickets(ctx context.Context, attempt models.ReservationAttempt) ([]models.Ticket, error)
}

type Logger interface {
	Info(category, message string)
	Warn(category, message string)
	Error(category, message string)
}

// Service is the booking coordinator: the single writer (besides the
// sweeper) of seat reservation state. It converts a set of available
// seats into a hold for exactly one requester, all-or-nothing, and later
// into confirmed seats.
type Service struct {
	Store       Store
	Gate        SeatGate
	Inventory   Inventory
	Kafka       Publisher
	Tickets     TicketIssuer
	Log         Logger
	HoldTimeout time.Duration

	Now func() time.Time
}

const DefaultHoldTimeout = 10 * time.Minute

func NewService(store Store, gate SeatGate, inventory Inventory, kafka Publisher, tickets TicketIssuer, log Logger, holdTimeout time.Duration) *Service {
	if holdTimeout <= 0 {
		holdTimeout = DefaultHoldTimeout
	}
	return &Service{
		Store:       store,
		Gate:        gate,
		Inventory:   inventory,
		Kafka:       kafka,
		Tickets:     tickets,
		Log:         log,
		HoldTimeout: holdTimeout,
		Now:         time.Now,
	}
}

// errSeatConflict aborts the reserve transaction when a conditional
// transition loses; it never escapes this package.
var errSeatConflict = errors.New("seat transition lost")

// Reserve atomically holds every requested seat for the holder, or rejects
// the whole request. Replaying an attempt ID returns the stored outcome
// without re-evaluating seat state.
func (s *Service) Reserve(ctx context.Context, attemptID, eventID string, seatIDs []string, holderID string) (models.ReservationResult, error) {
	if attemptID == "" {
		return models.ReservationResult{}, fmt.Errorf("%w: attempt id is required", ErrConflict)
	}
	if len(seatIDs) == 0 {
		return models.ReservationResult{}, fmt.Errorf("%w: no seats requested", ErrNotFound)
	}

	// Idempotent replay: the ledger entry is the answer, whatever seat
	// IDs the retry carries.
	existing, err := s.Store.GetAttempt(ctx, attemptID)
	if err != nil {
		return models.ReservationResult{}, storageErr("ledger lookup", err)
	}
	if existing != nil {
		s.Log.Info("RESERVE", fmt.Sprintf("attempt %s replayed, stored outcome %s", attemptID, existing.Outcome))
		return resultFromAttempt(existing, s.Now(), s.HoldTimeout), nil
	}

	// Sorting before any row is touched keeps overlapping gang
	// reservations deadlock-free.
	seatIDs = dedupeSorted(seatIDs)

	if _, err := s.Inventory.GetSeats(ctx, eventID, seatIDs); err != nil {
		return models.ReservationResult{}, err
	}

	now := s.Now()

	ok, conflicting, err := s.Gate.AcquireSeats(ctx, eventID, seatIDs, attemptID)
	if err != nil {
		return models.ReservationResult{}, storageErr("seat gate", err)
	}
	if !ok {
		return s.recordRejection(ctx, attemptID, eventID, seatIDs, holderID, now, conflicting)
	}

	var rejected []string
	err = s.Store.RunInTx(ctx, func(ctx context.Context, idb bun.IDB) error {
		if err := s.Store.EnsureReservations(ctx, idb, eventID, seatIDs); err != nil {
			return err
		}
		rows, err := s.Store.GetReservations(ctx, idb, eventID, seatIDs)
		if err != nil {
			return err
		}
		if len(rows) != len(seatIDs) {
			return fmt.Errorf("expected %d reservation rows, found %d", len(seatIDs), len(rows))
		}

		// First pass on the snapshot so a rejection enumerates every
		// conflicting seat, not just the first.
		for _, row := range rows {
			if row.Status == models.StatusHeld || row.Status == models.StatusConfirmed {
				rejected = append(rejected, row.SeatID)
			}
		}
		if len(rejected) > 0 {
			return errSeatConflict
		}

		for _, row := range rows {
			won, err := s.Store.TransitionToHeld(ctx, idb, row, holderID, attemptID, now)
			if err != nil {
				return err
			}
			if !won {
				// Raced between snapshot and write. The tx rollback
				// reverts the seats already held in this attempt.
				rejected = append(rejected, row.SeatID)
				return errSeatConflict
			}
		}

		// Ledger entry commits in the same transaction as the seat
		// transitions: both happen or neither does.
		return s.Store.InsertAttempt(ctx, idb, models.ReservationAttempt{
			AttemptID:   attemptID,
			EventID:     eventID,
			SeatIDs:     seatIDs,
			HolderID:    holderID,
			RequestedAt: now,
			Outcome:     models.OutcomeCommitted,
		})
	})
	if errors.Is(err, errSeatConflict) {
		if gateErr := s.Gate.ReleaseSeats(ctx, eventID, seatIDs, attemptID); gateErr != nil {
			s.Log.Warn("RESERVE", fmt.Sprintf("gate rollback failed for attempt %s: %v", attemptID, gateErr))
		}
		return s.recordRejection(ctx, attemptID, eventID, seatIDs, holderID, now, rejected)
	}
	if err != nil {
		if gateErr := s.Gate.ReleaseSeats(ctx, eventID, seatIDs, attemptID); gateErr != nil {
			s.Log.Warn("RESERVE", fmt.Sprintf("gate rollback failed for attempt %s: %v", attemptID, gateErr))
		}
		return models.ReservationResult{}, storageErr("reserve transaction", err)
	}

	result := models.ReservationResult{
		AttemptID:     attemptID,
		EventID:       eventID,
		Outcome:       models.OutcomeCommitted,
		HeldSeatIDs:   seatIDs,
		HoldExpiresAt: now.Add(s.HoldTimeout),
	}
	s.Log.Info("RESERVE", fmt.Sprintf("attempt %s held %d seat(s) for holder %s", attemptID, len(seatIDs), holderID))
	if s.Kafka != nil {
		if err := s.Kafka.PublishReservationHeld(result); err != nil {
			s.Log.Warn("KAFKA", fmt.Sprintf("reservation-held publish failed for %s: %v", attemptID, err))
		}
	}
	return result, nil
}

// Confirm finalizes every held seat of the attempt. It fails with
// ErrExpired past the hold timeout (the seats are released inline so the
// caller's next reserve can win immediately), ErrNotFound for an unknown
// attempt and ErrConflict for a holder mismatch.
func (s *Service) Confirm(ctx context.Context, attemptID, holderID string) (models.ConfirmResult, error) {
	attempt, err := s.Store.GetAttempt(ctx, attemptID)
	if err != nil {
		return models.ConfirmResult{}, storageErr("ledger lookup", err)
	}
	if attempt == nil {
		return models.ConfirmResult{}, fmt.Errorf("%w: attempt %s", ErrNotFound, attemptID)
	}
	if attempt.HolderID != holderID {
		return models.ConfirmResult{}, fmt.Errorf("%w: attempt %s belongs to another holder", ErrConflict, attemptID)
	}
	switch attempt.Outcome {
	case models.OutcomeRejected:
		return models.ConfirmResult{}, fmt.Errorf("%w: attempt %s was rejected", ErrConflict, attemptID)
	case models.OutcomeExpired:
		return models.ConfirmResult{}, fmt.Errorf("%w: attempt %s", ErrExpired, attemptID)
	}

	rows, err := s.Store.ReservationsByAttempt(ctx, attemptID)
	if err != nil {
		return models.ConfirmResult{}, storageErr("reservation lookup", err)
	}
	if len(rows) == 0 {
		// The sweeper reclaimed everything between ledger write and now.
		return models.ConfirmResult{}, fmt.Errorf("%w: attempt %s", ErrExpired, attemptID)
	}

	now := s.Now()
	confirmed := make([]string, 0, len(rows))
	held := make([]models.SeatReservation, 0, len(rows))
	for _, row := range rows {
		switch row.Status {
		case models.StatusConfirmed:
			confirmed = append(confirmed, row.SeatID)
		case models.StatusHeld:
			if row.HoldExpired(now, s.HoldTimeout) {
				s.expireInline(ctx, attempt, rows)
				return models.ConfirmResult{}, fmt.Errorf("%w: attempt %s", ErrExpired, attemptID)
			}
			held = append(held, row)
		}
	}

	err = s.Store.RunInTx(ctx, func(ctx context.Context, idb bun.IDB) error {
		for _, row := range held {
			won, err := s.Store.TransitionToConfirmed(ctx, idb, row, now)
			if err != nil {
				return err
			}
			if !won {
				return errSeatConflict
			}
		}
		return nil
	})
	if errors.Is(err, errSeatConflict) {
		return models.ConfirmResult{}, fmt.Errorf("%w: seat state changed under attempt %s", ErrConflict, attemptID)
	}
	if err != nil {
		return models.ConfirmResult{}, storageErr("confirm transaction", err)
	}
	for _, row := range held {
		confirmed = append(confirmed, row.SeatID)
	}
	sort.Strings(confirmed)

	result := models.ConfirmResult{
		AttemptID:        attemptID,
		EventID:          attempt.EventID,
		ConfirmedSeatIDs: confirmed,
	}
	s.Log.Info("RESERVE", fmt.Sprintf("attempt %s confirmed %d seat(s)", attemptID, len(confirmed)))

	// Gates are redundant once the rows are confirmed.
	if err := s.Gate.ReleaseSeats(ctx, attempt.EventID, confirmed, attemptID); err != nil {
		s.Log.Warn("RESERVE", fmt.Sprintf("gate cleanup failed for attempt %s: %v", attemptID, err))
	}

	// Downstream handoff. Independent failure domain: errors are logged
	// and the confirmed state stands.
	if s.Tickets != nil {
		tickets, err := s.Tickets.IssueTickets(ctx, *attempt)
		if err != nil {
			s.Log.Error("TICKETS", fmt.Sprintf("ticket issuance failed for attempt %s: %v", attemptID, err))
		} else {
			for _, t := range tickets {
				result.TicketIDs = append(result.TicketIDs, t.TicketID)
			}
		}
	}
	if s.Kafka != nil {
		if err := s.Kafka.PublishReservationConfirmed(result); err != nil {
			s.Log.Warn("KAFKA", fmt.Sprintf("reservation-confirmed publish failed for %s: %v", attemptID, err))
		}
	}
	return result, nil
}

// Release voluntarily frees held seats belonging to the holder. Seats that
// are already released, expired or owned by someone else are skipped, not
// errors.
func (s *Service) Release(ctx context.Context, eventID string, seatIDs []string, holderID string) error {
	if len(seatIDs) == 0 {
		return nil
	}
	seatIDs = dedupeSorted(seatIDs)

	released := []string{}
	err := s.Store.RunInTx(ctx, func(ctx context.Context, idb bun.IDB) error {
		rows, err := s.Store.GetReservations(ctx, idb, eventID, seatIDs)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if row.Status != models.StatusHeld || row.HolderID != holderID {
				continue
			}
			won, err := s.Store.ReleaseHold(ctx, idb, row)
			if err != nil {
				return err
			}
			if won {
				released = append(released, row.SeatID)
				if err := s.Gate.ReleaseSeats(ctx, eventID, []string{row.SeatID}, row.AttemptID); err != nil {
					s.Log.Warn("RESERVE", fmt.Sprintf("gate release failed for seat %s: %v", row.SeatID, err))
				}
			}
		}
		return nil
	})
	if err != nil {
		return storageErr("release transaction", err)
	}

	if len(released) > 0 {
		s.Log.Info("RESERVE", fmt.Sprintf("holder %s released %d seat(s) in event %s", holderID, len(released), eventID))
		if s.Kafka != nil {
			if err := s.Kafka.PublishReservationReleased(eventID, released, holderID); err != nil {
				s.Log.Warn("KAFKA", fmt.Sprintf("reservation-released publish failed: %v", err))
			}
		}
	}
	return nil
}

// GetAttempt exposes ledger entries to the API layer.
func (s *Service) GetAttempt(ctx context.Context, attemptID string) (*models.ReservationAttempt, error) {
	attempt, err := s.Store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, storageErr("ledger lookup", err)
	}
	if attempt == nil {
		return nil, fmt.Errorf("%w: attempt %s", ErrNotFound, attemptID)
	}
	return attempt, nil
}

// expireInline releases the attempt's held seats when a confirm arrives
// too late, instead of leaving them for the next sweep.
func (s *Service) expireInline(ctx context.Context, attempt *models.ReservationAttempt, rows []models.SeatReservation) {
	err := s.Store.RunInTx(ctx, func(ctx context.Context, idb bun.IDB) error {
		for _, row := range rows {
			if row.Status != models.StatusHeld {
				continue
			}
			if _, err := s.Store.ReleaseHold(ctx, idb, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.Log.Error("RESERVE", fmt.Sprintf("inline expiry failed for attempt %s: %v", attempt.AttemptID, err))
		return
	}
	if err := s.Gate.ReleaseSeats(ctx, attempt.EventID, attempt.SeatIDs, attempt.AttemptID); err != nil {
		s.Log.Warn("RESERVE", fmt.Sprintf("gate cleanup failed for attempt %s: %v", attempt.AttemptID, err))
	}
}

// recordRejection appends a rejected ledger entry and builds the result.
// A duplicate key here means a concurrent replay already recorded the
// attempt; its stored outcome wins.
func (s *Service) recordRejection(ctx context.Context, attemptID, eventID string, seatIDs []string, holderID string, now time.Time, conflicting []string) (models.ReservationResult, error) {
	sort.Strings(conflicting)
	attempt := models.ReservationAttempt{
		AttemptID:       attemptID,
		EventID:         eventID,
		SeatIDs:         seatIDs,
		HolderID:        holderID,
		RequestedAt:     now,
		Outcome:         models.OutcomeRejected,
		RejectedSeatIDs: conflicting,
	}
	err := s.Store.RunInTx(ctx, func(ctx context.Context, idb bun.IDB) error {
		return s.Store.InsertAttempt(ctx, idb, attempt)
	})
	if err != nil {
		stored, lookupErr := s.Store.GetAttempt(ctx, attemptID)
		if lookupErr == nil && stored != nil {
			return resultFromAttempt(stored, now, s.HoldTimeout), nil
		}
		return models.ReservationResult{}, storageErr("ledger append", err)
	}
	s.Log.Info("RESERVE", fmt.Sprintf("attempt %s rejected, conflicting seats %v", attemptID, conflicting))
	return models.ReservationResult{
		AttemptID:       attemptID,
		EventID:         eventID,
		Outcome:         models.OutcomeRejected,
		RejectedSeatIDs: conflicting,
	}, nil
}

func resultFromAttempt(attempt *models.ReservationAttempt, now time.Time, timeout time.Duration) models.ReservationResult {
	result := models.ReservationResult{
		AttemptID:       attempt.AttemptID,
		EventID:         attempt.EventID,
		Outcome:         attempt.Outcome,
		RejectedSeatIDs: attempt.RejectedSeatIDs,
	}
	if attempt.Outcome == models.OutcomeCommitted {
		result.HeldSeatIDs = attempt.SeatIDs
		result.HoldExpiresAt = attempt.RequestedAt.Add(timeout)
	}
	return result
}

func dedupeSorted(seatIDs []string) []string {
	seen := make(map[string]struct{}, len(seatIDs))
	out := make([]string, 0, len(seatIDs))
	for _, id := range seatIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
