package models

import (
	"time"

	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingFailed    BookingStatus = "failed"
	BookingCancelled BookingStatus = "cancelled"
)

// Booking is the durable outcome of one checkout attempt. The slot fields are
// a snapshot taken at creation time and do not track later slot changes.
type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	BookingID         string        `bun:"booking_id,pk" json:"booking_id"`
	SlotID            string        `bun:"slot_id,notnull" json:"slot_id"`
	Start             time.Time     `bun:"start_time" json:"start"`
	End               time.Time     `bun:"end_time" json:"end"`
	Location          Location      `bun:"location" json:"location"`
	Category          Category      `bun:"category" json:"category"`
	Price             int64         `bun:"price" json:"price"`
	Status            BookingStatus `bun:"status,notnull" json:"status"`
	ExternalPaymentID string        `bun:"external_payment_id,notnull" json:"external_payment_id"`
	UserID            string        `bun:"user_id,nullzero" json:"user_id,omitempty"`
	Email             string        `bun:"email" json:"email"`
	CreatedAt         time.Time     `bun:"created_at,notnull" json:"created_at"`
	FailureReason     string        `bun:"failure_reason,nullzero" json:"failure_reason,omitempty"`
	Refunded          bool          `bun:"refunded" json:"refunded"`
}

// BookingEvent is the payload streamed to Kafka on booking outcomes.
type BookingEvent struct {
	Type      string    `json:"type"`
	BookingID string    `json:"booking_id"`
	SlotID    string    `json:"slot_id"`
	Booking   *Booking  `json:"booking,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
