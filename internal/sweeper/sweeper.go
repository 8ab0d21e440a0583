package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cricverse-booking/internal/models"

	"github.com/uptrace/bun"
)

// Store is the slice of the reservation store the sweeper needs. Every
// revert goes through the same version-checked ReleaseHold as the
// coordinator, so a sweep can never undo a seat that was just confirmed.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, idb bun.IDB) error) error
	ExpiredHolds(ctx context.Context, cutoff time.Time, limit int) ([]models.SeatReservation, error)
	ReleaseHold(ctx context.Context, idb bun.IDB, res models.SeatReservation) (bool, error)
	MarkAttemptExpired(ctx context.Context, attemptID string) (bool, error)
	AnyConfirmedForAttempt(ctx context.Context, attemptID string) (bool, error)
}

type SeatGate interface {
	ReleaseSeats(ctx context.Context, eventID string, seatIDs []string, attemptID string) error
}

type Publisher interface {
	PublishReservationExpired(attemptID, eventID string, seatIDs []string) error
}

type Logger interface {
	Info(category, message string)
	Warn(category, message string)
	Error(category, message string)
}

// Sweeper reclaims seats stuck in held past the hold timeout - abandoned
// checkouts and crashed callers. It is the only component allowed to
// revert another holder's hold, and it is safe to run on multiple
// replicas: the conditional write means only one sweep wins per seat.
type Sweeper struct {
	Store       Store
	Gate        SeatGate
	Kafka       Publisher
	Log         Logger
	HoldTimeout time.Duration
	Interval    time.Duration

	// BatchLimit caps rows per sweep so one huge backlog cannot starve
	// the loop. Zero means no cap.
	BatchLimit int

	Now     func() time.Time
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

const DefaultInterval = 30 * time.Second

func New(store Store, gate SeatGate, kafka Publisher, log Logger, holdTimeout, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		Store:       store,
		Gate:        gate,
		Kafka:       kafka,
		Log:         log,
		HoldTimeout: holdTimeout,
		Interval:    interval,
		BatchLimit:  500,
		Now:         time.Now,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the sweep loop in the background.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper already running")
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runLoop(ctx)
	s.Log.Info("SWEEPER", fmt.Sprintf("started, interval %s, hold timeout %s", s.Interval, s.HoldTimeout))
	return nil
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.Log.Info("SWEEPER", "stopped")
}

func (s *Sweeper) runLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				s.Log.Error("SWEEPER", fmt.Sprintf("sweep failed: %v", err))
			} else if n > 0 {
				s.Log.Info("SWEEPER", fmt.Sprintf("reclaimed %d expired hold(s)", n))
			}
		}
	}
}

// SweepOnce scans for expired holds and reverts them. A failure on one
// seat is logged and the sweep moves on; the row is retried next
// interval.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.Now().Add(-s.HoldTimeout)
	rows, err := s.Store.ExpiredHolds(ctx, cutoff, s.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("expired hold scan: %w", err)
	}

	reclaimed := 0
	touchedAttempts := make(map[string]models.SeatReservation)
	for _, row := range rows {
		won, err := s.releaseOne(ctx, row)
		if err != nil {
			s.Log.Warn("SWEEPER", fmt.Sprintf("release failed for seat %s in event %s: %v", row.SeatID, row.EventID, err))
			continue
		}
		if !won {
			// Lost the version race: a confirm or another sweep replica
			// got there first. Nothing to do.
			continue
		}
		reclaimed++
		if err := s.Gate.ReleaseSeats(ctx, row.EventID, []string{row.SeatID}, row.AttemptID); err != nil {
			s.Log.Warn("SWEEPER", fmt.Sprintf("gate cleanup failed for seat %s: %v", row.SeatID, err))
		}
		if row.AttemptID != "" {
			touchedAttempts[row.AttemptID] = row
		}
	}

	for attemptID, row := range touchedAttempts {
		s.expireLedger(ctx, attemptID, row.EventID)
	}
	return reclaimed, nil
}

func (s *Sweeper) releaseOne(ctx context.Context, row models.SeatReservation) (bool, error) {
	var won bool
	err := s.Store.RunInTx(ctx, func(ctx context.Context, idb bun.IDB) error {
		var err error
		won, err = s.Store.ReleaseHold(ctx, idb, row)
		return err
	})
	return won, err
}

// expireLedger moves the attempt committed -> expired unless any of its
// seats reached confirmed. A failure here does not undo the seat release,
// and it is not fatal: a confirm against a committed attempt with no held
// seats already reports expired.
func (s *Sweeper) expireLedger(ctx context.Context, attemptID, eventID string) {
	confirmed, err := s.Store.AnyConfirmedForAttempt(ctx, attemptID)
	if err != nil {
		s.Log.Warn("SWEEPER", fmt.Sprintf("confirm check failed for attempt %s: %v", attemptID, err))
		return
	}
	if confirmed {
		return
	}
	won, err := s.Store.MarkAttemptExpired(ctx, attemptID)
	if err != nil {
		s.Log.Warn("SWEEPER", fmt.Sprintf("ledger expiry failed for attempt %s: %v", attemptID, err))
		return
	}
	if won {
		s.Log.Info("LEDGER", fmt.Sprintf("attempt %s expired", attemptID))
		if s.Kafka != nil {
			if err := s.Kafka.PublishReservationExpired(attemptID, eventID, nil); err != nil {
				s.Log.Warn("KAFKA", fmt.Sprintf("reservation-expired publish failed for %s: %v", attemptID, err))
			}
		}
	}
}
