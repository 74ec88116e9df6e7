package booking

import "errors"

var (
	// ErrSlotUnavailable means the slot is missing, pending or already booked
	// at the moment a reservation was attempted.
	ErrSlotUnavailable = errors.New("slot unavailable")

	ErrSlotNotFound    = errors.New("slot not found")
	ErrBookingNotFound = errors.New("booking not found")

	// ErrBadSignature means the webhook payload failed provider signature
	// verification. No domain action is taken for such events.
	ErrBadSignature = errors.New("webhook signature verification failed")
)
