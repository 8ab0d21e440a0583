package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a Redis client backed by miniredis so no real
// server is needed.
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		mr.Close()
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}

	return client, mr
}

func cleanupTestRedis(client *redis.Client, mr *miniredis.Miniredis) {
	if client != nil {
		client.Close()
	}
	if mr != nil {
		mr.Close()
	}
}

func TestAcquireSeats_AllOrNothing(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer cleanupTestRedis(client, mr)

	g := NewGate(client, 10*time.Minute)
	ctx := context.Background()

	seatIDs := []string{"seat-1", "seat-2", "seat-3"}

	ok, conflicting, err := g.AcquireSeats(ctx, "event-1", seatIDs, "attempt-123")
	require.NoError(t, err)
	assert.True(t, ok, "should gate all seats")
	assert.Nil(t, conflicting)

	// Second attempt over the same seats fails and names the conflict.
	ok, conflicting, err = g.AcquireSeats(ctx, "event-1", seatIDs, "attempt-456")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"seat-1"}, conflicting)

	// The losing attempt must not have left partial gates; release and
	// retry succeeds.
	require.NoError(t, g.ReleaseSeats(ctx, "event-1", seatIDs, "attempt-123"))
	ok, _, err = g.AcquireSeats(ctx, "event-1", seatIDs, "attempt-789")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcquireSeats_PartialConflictRollsBack(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer cleanupTestRedis(client, mr)

	g := NewGate(client, 10*time.Minute)
	ctx := context.Background()

	// seat-2 is already gated by someone else.
	ok, _, err := g.AcquireSeats(ctx, "event-1", []string{"seat-2"}, "attempt-other")
	require.NoError(t, err)
	require.True(t, ok)

	ok, conflicting, err := g.AcquireSeats(ctx, "event-1", []string{"seat-1", "seat-2", "seat-3"}, "attempt-123")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"seat-2"}, conflicting)

	// seat-1 was rolled back, so it gates cleanly for a fresh attempt.
	ok, _, err = g.AcquireSeats(ctx, "event-1", []string{"seat-1"}, "attempt-456")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseSeat_OnlyOwnerReleases(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer cleanupTestRedis(client, mr)

	g := NewGate(client, 10*time.Minute)
	ctx := context.Background()

	ok, err := g.AcquireSeat(ctx, "event-1", "seat-1", "attempt-owner")
	require.NoError(t, err)
	require.True(t, ok)

	// A non-owner release is a no-op.
	require.NoError(t, g.ReleaseSeat(ctx, "event-1", "seat-1", "attempt-thief"))
	ok, err = g.AcquireSeat(ctx, "event-1", "seat-1", "attempt-new")
	require.NoError(t, err)
	assert.False(t, ok, "gate should still be held by the owner")

	require.NoError(t, g.ReleaseSeat(ctx, "event-1", "seat-1", "attempt-owner"))
	ok, err = g.AcquireSeat(ctx, "event-1", "seat-1", "attempt-new")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcquireSeats_EventScoping(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer cleanupTestRedis(client, mr)

	g := NewGate(client, 10*time.Minute)
	ctx := context.Background()

	ok, _, err := g.AcquireSeats(ctx, "event-1", []string{"seat-1"}, "attempt-1")
	require.NoError(t, err)
	require.True(t, ok)

	// The same seat for a different event is independent inventory.
	ok, _, err = g.AcquireSeats(ctx, "event-2", []string{"seat-1"}, "attempt-2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcquireSeats_GateExpires(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer cleanupTestRedis(client, mr)

	g := NewGate(client, 2*time.Second)
	ctx := context.Background()

	ok, _, err := g.AcquireSeats(ctx, "event-1", []string{"seat-1"}, "attempt-1")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(3 * time.Second)

	ok, _, err = g.AcquireSeats(ctx, "event-1", []string{"seat-1"}, "attempt-2")
	require.NoError(t, err)
	assert.True(t, ok, "gate should expire with the hold timeout")
}

func TestAcquireSeats_RaceOneWinner(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer cleanupTestRedis(client, mr)

	g := NewGate(client, 10*time.Minute)
	ctx := context.Background()

	seatIDs := []string{"seat-A", "seat-B", "seat-C"}

	const numGoroutines = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, _, err := g.AcquireSeats(ctx, "event-1", seatIDs, fmt.Sprintf("attempt-%d", n))
			if err == nil && ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners, "exactly one attempt should gate the seat set")
}
