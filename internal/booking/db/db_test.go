package db_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"cricverse-booking/internal/booking/db"
	"cricverse-booking/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) (*db.DB, *bun.DB) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	// The conditional updates rely on a single shared in-memory database.
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	ctx := context.Background()
	for _, model := range []interface{}{
		(*models.SeatReservation)(nil),
		(*models.ReservationAttempt)(nil),
	} {
		if _, err := bunDB.NewCreateTable().Model(model).Exec(ctx); err != nil {
			t.Fatalf("Failed to create table: %v", err)
		}
	}

	return &db.DB{Bun: bunDB}, bunDB
}

func TestEnsureReservations(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	err := store.EnsureReservations(ctx, bunDB, "event-1", []string{"s1", "s2"})
	require.NoError(t, err)

	rows, err := store.GetReservations(ctx, bunDB, "event-1", []string{"s1", "s2"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.StatusAvailable, rows[0].Status)
	assert.Equal(t, int64(0), rows[0].Version)

	// Re-ensuring must not reset existing rows.
	won, err := store.TransitionToHeld(ctx, bunDB, rows[0], "holder-1", "att-1", time.Now())
	require.NoError(t, err)
	require.True(t, won)

	err = store.EnsureReservations(ctx, bunDB, "event-1", []string{"s1", "s2"})
	require.NoError(t, err)

	rows, err = store.GetReservations(ctx, bunDB, "event-1", []string{"s1"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusHeld, rows[0].Status)
	assert.Equal(t, int64(1), rows[0].Version)
}

func TestTransitionToHeld_VersionConflict(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	require.NoError(t, store.EnsureReservations(ctx, bunDB, "event-1", []string{"s1"}))
	rows, err := store.GetReservations(ctx, bunDB, "event-1", []string{"s1"})
	require.NoError(t, err)
	stale := rows[0]

	won, err := store.TransitionToHeld(ctx, bunDB, stale, "holder-1", "att-1", time.Now())
	require.NoError(t, err)
	assert.True(t, won)

	// The second writer still holds the version-0 snapshot and must lose.
	won, err = store.TransitionToHeld(ctx, bunDB, stale, "holder-2", "att-2", time.Now())
	require.NoError(t, err)
	assert.False(t, won, "stale version must not win")

	rows, err = store.GetReservations(ctx, bunDB, "event-1", []string{"s1"})
	require.NoError(t, err)
	assert.Equal(t, "holder-1", rows[0].HolderID)
	assert.Equal(t, models.StatusHeld, rows[0].Status)
}

func TestReleaseAndRehold(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	require.NoError(t, store.EnsureReservations(ctx, bunDB, "event-1", []string{"s1"}))
	rows, _ := store.GetReservations(ctx, bunDB, "event-1", []string{"s1"})

	won, err := store.TransitionToHeld(ctx, bunDB, rows[0], "holder-1", "att-1", time.Now())
	require.NoError(t, err)
	require.True(t, won)

	rows, _ = store.GetReservations(ctx, bunDB, "event-1", []string{"s1"})
	won, err = store.ReleaseHold(ctx, bunDB, rows[0])
	require.NoError(t, err)
	assert.True(t, won)

	rows, _ = store.GetReservations(ctx, bunDB, "event-1", []string{"s1"})
	assert.Equal(t, models.StatusAvailable, rows[0].Status)
	assert.Empty(t, rows[0].HolderID)

	// A fresh holder can take the released seat.
	won, err = store.TransitionToHeld(ctx, bunDB, rows[0], "holder-2", "att-2", time.Now())
	require.NoError(t, err)
	assert.True(t, won)
}

func TestReleaseHold_WrongHolderLoses(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	require.NoError(t, store.EnsureReservations(ctx, bunDB, "event-1", []string{"s1"}))
	rows, _ := store.GetReservations(ctx, bunDB, "event-1", []string{"s1"})
	won, err := store.TransitionToHeld(ctx, bunDB, rows[0], "holder-1", "att-1", time.Now())
	require.NoError(t, err)
	require.True(t, won)

	rows, _ = store.GetReservations(ctx, bunDB, "event-1", []string{"s1"})
	imposter := rows[0]
	imposter.HolderID = "holder-2"
	won, err = store.ReleaseHold(ctx, bunDB, imposter)
	require.NoError(t, err)
	assert.False(t, won)
}

func TestTransitionToConfirmed(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	require.NoError(t, store.EnsureReservations(ctx, bunDB, "event-1", []string{"s1"}))
	rows, _ := store.GetReservations(ctx, bunDB, "event-1", []string{"s1"})
	won, err := store.TransitionToHeld(ctx, bunDB, rows[0], "holder-1", "att-1", time.Now())
	require.NoError(t, err)
	require.True(t, won)

	rows, _ = store.GetReservations(ctx, bunDB, "event-1", []string{"s1"})
	won, err = store.TransitionToConfirmed(ctx, bunDB, rows[0], time.Now())
	require.NoError(t, err)
	assert.True(t, won)

	rows, _ = store.GetReservations(ctx, bunDB, "event-1", []string{"s1"})
	assert.Equal(t, models.StatusConfirmed, rows[0].Status)
	assert.False(t, rows[0].ConfirmedAt.IsZero())

	// Confirmed rows cannot be released by anyone, sweeper included.
	won, err = store.ReleaseHold(ctx, bunDB, rows[0])
	require.NoError(t, err)
	assert.False(t, won)
}

func TestExpiredHolds_ExcludesConfirmed(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	longAgo := time.Now().Add(-1 * time.Hour)

	require.NoError(t, store.EnsureReservations(ctx, bunDB, "event-1", []string{"s1", "s2", "s3"}))
	rows, _ := store.GetReservations(ctx, bunDB, "event-1", []string{"s1", "s2", "s3"})

	// s1: stale hold. s2: stale hold that got confirmed. s3: available.
	for _, row := range rows[:2] {
		won, err := store.TransitionToHeld(ctx, bunDB, row, "holder-1", "att-1", longAgo)
		require.NoError(t, err)
		require.True(t, won)
	}
	rows, _ = store.GetReservations(ctx, bunDB, "event-1", []string{"s2"})
	won, err := store.TransitionToConfirmed(ctx, bunDB, rows[0], time.Now())
	require.NoError(t, err)
	require.True(t, won)

	expired, err := store.ExpiredHolds(ctx, time.Now().Add(-10*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "s1", expired[0].SeatID)
}

func TestLedgerAttempts(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	attempt := models.ReservationAttempt{
		AttemptID:   "att-1",
		EventID:     "event-1",
		SeatIDs:     []string{"s1", "s2"},
		HolderID:    "holder-1",
		RequestedAt: time.Now(),
		Outcome:     models.OutcomeCommitted,
	}
	require.NoError(t, store.InsertAttempt(ctx, bunDB, attempt))

	// Replaying the same key must fail on the primary key.
	err := store.InsertAttempt(ctx, bunDB, attempt)
	assert.Error(t, err)

	stored, err := store.GetAttempt(ctx, "att-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.OutcomeCommitted, stored.Outcome)
	assert.Equal(t, []string{"s1", "s2"}, stored.SeatIDs)

	missing, err := store.GetAttempt(ctx, "att-unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMarkAttemptExpired_GuardedOnOutcome(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	require.NoError(t, store.InsertAttempt(ctx, bunDB, models.ReservationAttempt{
		AttemptID:   "att-1",
		EventID:     "event-1",
		SeatIDs:     []string{"s1"},
		HolderID:    "holder-1",
		RequestedAt: time.Now(),
		Outcome:     models.OutcomeCommitted,
	}))
	require.NoError(t, store.InsertAttempt(ctx, bunDB, models.ReservationAttempt{
		AttemptID:   "att-2",
		EventID:     "event-1",
		SeatIDs:     []string{"s2"},
		HolderID:    "holder-2",
		RequestedAt: time.Now(),
		Outcome:     models.OutcomeRejected,
	}))

	won, err := store.MarkAttemptExpired(ctx, "att-1")
	require.NoError(t, err)
	assert.True(t, won)

	// Second expiry of the same attempt is a no-op, as is expiring a
	// rejected attempt.
	won, err = store.MarkAttemptExpired(ctx, "att-1")
	require.NoError(t, err)
	assert.False(t, won)
	won, err = store.MarkAttemptExpired(ctx, "att-2")
	require.NoError(t, err)
	assert.False(t, won)
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	require.NoError(t, store.EnsureReservations(ctx, bunDB, "event-1", []string{"s1"}))

	err := store.RunInTx(ctx, func(ctx context.Context, idb bun.IDB) error {
		rows, err := store.GetReservations(ctx, idb, "event-1", []string{"s1"})
		require.NoError(t, err)
		won, err := store.TransitionToHeld(ctx, idb, rows[0], "holder-1", "att-1", time.Now())
		require.NoError(t, err)
		require.True(t, won)
		return assert.AnError
	})
	assert.Error(t, err)

	rows, err := store.GetReservations(ctx, bunDB, "event-1", []string{"s1"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusAvailable, rows[0].Status, "transition must roll back with the transaction")
	assert.Equal(t, int64(0), rows[0].Version)
}
