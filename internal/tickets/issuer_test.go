package tickets_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"cricverse-booking/internal/models"
	"cricverse-booking/internal/tickets"
	"cricverse-booking/internal/tickets/qr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

func setupIssuer(t *testing.T) (*tickets.Issuer, *bun.DB) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	ctx := context.Background()
	for _, model := range []interface{}{
		(*models.Seat)(nil),
		(*models.Ticket)(nil),
	} {
		_, err := bunDB.NewCreateTable().Model(model).Exec(ctx)
		require.NoError(t, err)
	}

	seats := []models.Seat{
		{SeatID: "s1", VenueID: "venue-1", Section: "Premium", SeatType: "recliner", PriceCents: 150000},
		{SeatID: "s2", VenueID: "venue-1", Section: "General", SeatType: "standard", PriceCents: 50000},
	}
	_, err = bunDB.NewInsert().Model(&seats).Exec(ctx)
	require.NoError(t, err)

	return tickets.NewIssuer(bunDB, qr.NewGenerator("test-qr-secret")), bunDB
}

func committedAttempt(seatIDs ...string) models.ReservationAttempt {
	return models.ReservationAttempt{
		AttemptID:   "att-1",
		EventID:     "event-1",
		SeatIDs:     seatIDs,
		HolderID:    "holder-1",
		RequestedAt: time.Now(),
		Outcome:     models.OutcomeCommitted,
	}
}

func TestIssueTickets(t *testing.T) {
	issuer, bunDB := setupIssuer(t)
	defer bunDB.Close()

	issued, err := issuer.IssueTickets(context.Background(), committedAttempt("s1", "s2"))
	require.NoError(t, err)
	require.Len(t, issued, 2)

	byID := make(map[string]models.Ticket, len(issued))
	for _, tkt := range issued {
		assert.NotEmpty(t, tkt.TicketID)
		assert.NotEmpty(t, tkt.QRCode)
		assert.Equal(t, "holder-1", tkt.HolderID)
		byID[tkt.SeatID] = tkt
	}
	// Premium sections route through the members' gate.
	assert.Equal(t, "Gate A", byID["s1"].AccessGate)
	assert.Equal(t, "Gate B", byID["s2"].AccessGate)
	assert.Equal(t, int64(150000), byID["s1"].PriceCents)
}

func TestIssueTickets_RetrySkipsIssuedSeats(t *testing.T) {
	issuer, bunDB := setupIssuer(t)
	defer bunDB.Close()
	ctx := context.Background()

	first, err := issuer.IssueTickets(ctx, committedAttempt("s1", "s2"))
	require.NoError(t, err)
	require.Len(t, first, 2)

	// A retry returns the same tickets instead of minting duplicates.
	second, err := issuer.IssueTickets(ctx, committedAttempt("s1", "s2"))
	require.NoError(t, err)
	require.Len(t, second, 2)

	firstIDs := map[string]bool{}
	for _, tkt := range first {
		firstIDs[tkt.TicketID] = true
	}
	for _, tkt := range second {
		assert.True(t, firstIDs[tkt.TicketID], "retry must not mint new ticket IDs")
	}

	count, err := bunDB.NewSelect().Model((*models.Ticket)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestTicketsByHolder(t *testing.T) {
	issuer, bunDB := setupIssuer(t)
	defer bunDB.Close()
	ctx := context.Background()

	_, err := issuer.IssueTickets(ctx, committedAttempt("s1", "s2"))
	require.NoError(t, err)

	mine, err := issuer.TicketsByHolder(ctx, "holder-1")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	none, err := issuer.TicketsByHolder(ctx, "holder-ghost")
	require.NoError(t, err)
	assert.Empty(t, none)
}
