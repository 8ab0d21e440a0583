package db

import (
	"context"
	"log"

	"cricverse-booking/internal/models"

	"github.com/uptrace/bun"
)

// Migrate bootstraps the schema straight from the bun models, for local
// development without a migrations directory. Production deployments run
// the SQL migrations instead.
func Migrate(db *bun.DB) {
	ctx := context.Background()

	tables := []interface{}{
		(*models.Seat)(nil),
		(*models.SeatReservation)(nil),
		(*models.ReservationAttempt)(nil),
		(*models.Ticket)(nil),
	}
	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			log.Fatalf("create table failed: %v", err)
		}
	}

	log.Println("booking schema ready")
}
