package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lesson-booking/internal/booking"
	"lesson-booking/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// ---------------- SLOTS ----------------

func (d *DB) GetSlotByID(ctx context.Context, id string) (*models.Slot, error) {
	var slot models.Slot
	err := d.Bun.NewSelect().
		Model(&slot).
		Where("slot_id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrSlotNotFound
	}
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

func (d *DB) CreateSlot(ctx context.Context, slot models.Slot) error {
	_, err := d.Bun.NewInsert().Model(&slot).Exec(ctx)
	return err
}

func (d *DB) CreateSlots(ctx context.Context, slots []models.Slot) error {
	if len(slots) == 0 {
		return nil
	}
	_, err := d.Bun.NewInsert().Model(&slots).Exec(ctx)
	return err
}

// MarkPending reserves an available slot: a compare-and-swap on status. A
// slot that is missing, pending or booked leaves zero rows affected, which
// reports as ErrSlotUnavailable. The session id stays empty until the
// checkout session exists and AttachSessionID fills it in.
func (d *DB) MarkPending(ctx context.Context, id string, expiry time.Time) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Slot)(nil)).
		Set("status = ?", models.SlotPending).
		Set("pending_expiry = ?", expiry).
		Set("pending_session_id = NULL").
		Where("slot_id = ? AND status = ?", id, models.SlotAvailable).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, booking.ErrSlotUnavailable)
}

// AttachSessionID records which checkout session owns the pending
// reservation. Guarded on status so a swept or re-reserved slot is not
// overwritten.
func (d *DB) AttachSessionID(ctx context.Context, id, sessionID string) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Slot)(nil)).
		Set("pending_session_id = ?", sessionID).
		Where("slot_id = ? AND status = ?", id, models.SlotPending).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, booking.ErrSlotUnavailable)
}

// Release resets a pending slot to available, clearing the pending fields
// together. The status guard keeps the externally reachable cancel redirect
// from flipping a booked slot back onto the market.
func (d *DB) Release(ctx context.Context, id string) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Slot)(nil)).
		Set("status = ?", models.SlotAvailable).
		Set("pending_expiry = NULL").
		Set("pending_session_id = NULL").
		Where("slot_id = ? AND status = ?", id, models.SlotPending).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, booking.ErrSlotUnavailable)
}

// MarkBooked finalizes a slot. Guarded so a slot can transition to booked at
// most once.
func (d *DB) MarkBooked(ctx context.Context, id string) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Slot)(nil)).
		Set("status = ?", models.SlotBooked).
		Set("pending_expiry = NULL").
		Set("pending_session_id = NULL").
		Where("slot_id = ? AND status <> ?", id, models.SlotBooked).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, booking.ErrSlotUnavailable)
}

// SweepExpired releases every pending slot whose reservation lapsed before
// now. Returns how many slots were reclaimed.
func (d *DB) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Slot)(nil)).
		Set("status = ?", models.SlotAvailable).
		Set("pending_expiry = NULL").
		Set("pending_session_id = NULL").
		Where("status = ? AND pending_expiry IS NOT NULL AND pending_expiry < ?", models.SlotPending, now).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

func (d *DB) ListAvailable(ctx context.Context) ([]models.Slot, error) {
	var slots []models.Slot
	err := d.Bun.NewSelect().
		Model(&slots).
		Where("status = ?", models.SlotAvailable).
		Order("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return slots, nil
}

// ---------------- BOOKINGS ----------------

func (d *DB) CreateBooking(ctx context.Context, b models.Booking) error {
	_, err := d.Bun.NewInsert().Model(&b).Exec(ctx)
	return err
}

func (d *DB) GetBookingBySessionID(ctx context.Context, sessionID string) (*models.Booking, error) {
	var b models.Booking
	err := d.Bun.NewSelect().
		Model(&b).
		Where("external_payment_id = ?", sessionID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (d *DB) GetBookingsByUserID(ctx context.Context, userID string) ([]models.Booking, error) {
	var bookings []models.Booking
	err := d.Bun.NewSelect().
		Model(&bookings).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return bookings, nil
}

func requireRow(res sql.Result, missing error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return missing
	}
	return nil
}
