package booking

import (
	"errors"
	"fmt"
)

// Sentinel errors for the coordinator. "Seat unavailable" is deliberately
// not here: rejection is a normal outcome carried on ReservationResult.
var (
	// ErrNotFound - referenced seat, event or attempt does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict - version mismatch or holder mismatch. The caller must
	// re-read state and start a fresh reserve, not blindly retry.
	ErrConflict = errors.New("conflict")

	// ErrExpired - a confirm arrived after the hold timeout.
	ErrExpired = errors.New("hold expired")

	// ErrStorage - the durable store failed. Retryable with the same
	// attempt ID thanks to ledger idempotency.
	ErrStorage = errors.New("storage failure")
)

// storageErr wraps an infrastructure failure so callers can match it with
// errors.Is(err, ErrStorage) while keeping the cause in the chain.
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}
