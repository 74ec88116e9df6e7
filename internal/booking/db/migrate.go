package db

import (
	"context"
	"log"

	"lesson-booking/internal/models"

	"github.com/uptrace/bun"
)

func Migrate(db *bun.DB) {
	ctx := context.Background()

	_, err := db.NewCreateTable().Model((*models.Slot)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		log.Fatalf("create slots table failed: %v", err)
	}

	_, err = db.NewCreateTable().Model((*models.Booking)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		log.Fatalf("create bookings table failed: %v", err)
	}

	// Webhook reconciliation looks bookings up by checkout session id.
	_, err = db.NewCreateIndex().
		Model((*models.Booking)(nil)).
		Index("idx_bookings_external_payment_id").
		Column("external_payment_id").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		log.Fatalf("create booking index failed: %v", err)
	}

	log.Println("slots and bookings tables ready")
}
