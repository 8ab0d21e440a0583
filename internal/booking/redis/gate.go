package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// Gate is the fast-path admission filter in front of the durable seat
// store: a SetNX key per (event, seat) with the hold timeout as TTL. A
// request that cannot take every gate is rejected without touching
// Postgres. The gate is not the authority - the version-checked rows are -
// so losing a key early merely costs a round trip to the database.
type Gate struct {
	Client  *redis.Client
	HoldTTL time.Duration
	Logger  *log.Logger
}

func NewGate(client *redis.Client, holdTTL time.Duration) *Gate {
	return &Gate{
		Client:  client,
		HoldTTL: holdTTL,
		Logger:  log.Default(),
	}
}

func seatKey(eventID, seatID string) string {
	return fmt.Sprintf("seat_hold:%s:%s", eventID, seatID)
}

// AcquireSeat takes the gate for one seat, marking it with the attempt ID.
func (g *Gate) AcquireSeat(ctx context.Context, eventID, seatID, attemptID string) (bool, error) {
	return g.Client.SetNX(ctx, seatKey(eventID, seatID), attemptID, g.HoldTTL).Result()
}

// ReleaseSeat drops the gate only if this attempt owns it, so a slow
// caller can never free a seat that was re-gated by someone else after
// its own key expired.
func (g *Gate) ReleaseSeat(ctx context.Context, eventID, seatID, attemptID string) error {
	key := seatKey(eventID, seatID)
	val, err := g.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // gate already expired
	}
	if err != nil {
		return err
	}
	if val == attemptID {
		_, err = g.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}

// AcquireSeats takes gates for all seats or none. On any miss or error the
// gates already taken by this attempt are rolled back, and the seats that
// could not be gated are returned.
func (g *Gate) AcquireSeats(ctx context.Context, eventID string, seatIDs []string, attemptID string) (bool, []string, error) {
	acquired := []string{}
	for _, seatID := range seatIDs {
		ok, err := g.AcquireSeat(ctx, eventID, seatID, attemptID)
		if err != nil {
			g.rollback(ctx, eventID, acquired, attemptID)
			return false, nil, err
		}
		if !ok {
			g.rollback(ctx, eventID, acquired, attemptID)
			return false, []string{seatID}, nil
		}
		acquired = append(acquired, seatID)
	}
	return true, nil, nil
}

// ReleaseSeats drops the gates for all seats, returning the first error
// after attempting every seat.
func (g *Gate) ReleaseSeats(ctx context.Context, eventID string, seatIDs []string, attemptID string) error {
	var firstErr error
	for _, seatID := range seatIDs {
		if err := g.ReleaseSeat(ctx, eventID, seatID, attemptID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (g *Gate) rollback(ctx context.Context, eventID string, seatIDs []string, attemptID string) {
	for _, seatID := range seatIDs {
		if err := g.ReleaseSeat(ctx, eventID, seatID, attemptID); err != nil {
			g.Logger.Printf("GATE: failed to roll back gate for seat %s: %v", seatID, err)
		}
	}
}
