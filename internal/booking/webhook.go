package booking

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"lesson-booking/internal/models"
	"lesson-booking/internal/utils"
)

// WebhookError carries the classification of a webhook processing failure.
type WebhookError struct {
	Category      string // "validation" or "processing"
	StatusCode    int    // HTTP status code
	PublicError   string // Safe to expose to the provider
	InternalError string // Detailed error for logs only
	OriginalErr   error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

// refundAttemptedErr wraps reconcile failures that happened after a refund was
// already issued, so the safety net does not refund the same payment twice.
type refundAttemptedErr struct {
	err error
}

func (e *refundAttemptedErr) Error() string { return e.err.Error() }
func (e *refundAttemptedErr) Unwrap() error { return e.err }

// HandleWebhook verifies and reconciles a provider event against local slot
// state. A nil booking with nil error means the event type is not one we act
// on; a non-nil booking is the recorded outcome (confirmed or failed), either
// of which the caller acknowledges with 200.
func (s *BookingService) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) (*models.Booking, error) {
	cc, err := s.Gateway.VerifyEvent(payload, sigHeader)
	if err != nil {
		if errors.Is(err, ErrBadSignature) {
			s.logger.Error("WEBHOOK", fmt.Sprintf("Signature verification failed: %v", err))
			return nil, &WebhookError{
				Category:      "validation",
				StatusCode:    http.StatusBadRequest,
				PublicError:   "Webhook signature verification failed",
				InternalError: err.Error(),
				OriginalErr:   err,
			}
		}
		return nil, &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid webhook payload",
			InternalError: fmt.Sprintf("failed to parse webhook payload: %v", err),
			OriginalErr:   err,
		}
	}
	if cc == nil {
		// Event type we do not handle; acknowledge without domain action.
		return nil, nil
	}
	if cc.SessionID == "" || cc.SlotID == "" {
		s.logger.Error("WEBHOOK", fmt.Sprintf("Completed checkout %q is missing correlation ids", cc.SessionID))
		return nil, &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Missing correlation id",
			InternalError: "checkout event has no session or slot reference in metadata",
		}
	}

	booking, err := s.reconcile(ctx, cc)
	if err != nil {
		// The provider has already confirmed payment, so try to hand the money
		// back before surfacing the error, unless the failing path refunded
		// already. A refund failure is logged and must not mask the original
		// error.
		var attempted *refundAttemptedErr
		if !errors.As(err, &attempted) {
			if refundErr := s.Gateway.Refund(ctx, cc.PaymentIntentID); refundErr != nil {
				s.logger.Error("REFUND", fmt.Sprintf("Safety-net refund for session %s failed: %v", cc.SessionID, refundErr))
			}
		}
		return nil, &WebhookError{
			Category:      "processing",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Failed to process payment event",
			InternalError: fmt.Sprintf("reconcile session %s: %v", cc.SessionID, err),
			OriginalErr:   err,
		}
	}
	return booking, nil
}

// reconcile re-reads the slot at event-receipt time and routes the completed
// checkout: finalize when this session legitimately owns the slot (or the slot
// is free again), refund-and-reject when someone else got there first.
func (s *BookingService) reconcile(ctx context.Context, cc *models.CompletedCheckout) (*models.Booking, error) {
	// Redelivered events are no-ops: the first delivery recorded the outcome.
	existing, err := s.Bookings.GetBookingBySessionID(ctx, cc.SessionID)
	if err == nil {
		s.logger.Info("WEBHOOK", fmt.Sprintf("Session %s already reconciled as %s, acknowledging duplicate", cc.SessionID, existing.Status))
		return existing, nil
	}
	if !errors.Is(err, ErrBookingNotFound) {
		return nil, fmt.Errorf("look up booking for session %s: %w", cc.SessionID, err)
	}

	slot, err := s.Slots.GetSlotByID(ctx, cc.SlotID)
	switch {
	case errors.Is(err, ErrSlotNotFound):
		return s.rejectCheckout(ctx, cc, nil, "slot no longer exists")
	case err != nil:
		return nil, fmt.Errorf("read slot %s: %w", cc.SlotID, err)
	}
	if slot.Start.IsZero() || slot.End.IsZero() {
		return s.rejectCheckout(ctx, cc, nil, "slot data missing")
	}

	switch {
	case slot.Status == models.SlotBooked:
		return s.rejectCheckout(ctx, cc, slot, "booked by someone else")
	case slot.Status == models.SlotPending && slot.PendingSessionID != cc.SessionID &&
		(slot.PendingExpiry == nil || s.now().Before(*slot.PendingExpiry)):
		// Another unexpired reservation owns the slot. An expired pending slot
		// falls through: its owner abandoned checkout and this payment wins.
		return s.rejectCheckout(ctx, cc, slot, "pending for another player")
	}

	return s.finalizeCheckout(ctx, cc, slot)
}

// rejectCheckout refunds the payment and records a failed booking so the
// outcome is auditable. The slot itself is left untouched.
func (s *BookingService) rejectCheckout(ctx context.Context, cc *models.CompletedCheckout, slot *models.Slot, reason string) (*models.Booking, error) {
	s.logger.Warn("WEBHOOK", fmt.Sprintf("Rejecting session %s for slot %s: %s", cc.SessionID, cc.SlotID, reason))

	refunded := true
	if err := s.Gateway.Refund(ctx, cc.PaymentIntentID); err != nil {
		refunded = false
		s.logger.Error("REFUND", fmt.Sprintf("Refund for session %s failed: %v", cc.SessionID, err))
	}

	b := models.Booking{
		BookingID:         utils.GenerateBookingID(),
		SlotID:            cc.SlotID,
		Status:            models.BookingFailed,
		ExternalPaymentID: cc.SessionID,
		UserID:            cc.UserID,
		Email:             cc.Email,
		CreatedAt:         s.now(),
		FailureReason:     reason,
		Refunded:          refunded,
	}
	if slot != nil {
		snap := slot.Snapshot()
		b.Start, b.End, b.Location, b.Category, b.Price = snap.Start, snap.End, snap.Location, snap.Category, snap.Price
	}
	if err := s.Bookings.CreateBooking(ctx, b); err != nil {
		return nil, &refundAttemptedErr{err: fmt.Errorf("record failed booking for session %s: %w", cc.SessionID, err)}
	}

	s.invalidateCustomerCache(ctx, cc.UserID)
	if err := s.Events.PublishBookingFailed(b); err != nil {
		s.logger.Warn("KAFKA", fmt.Sprintf("Failed to publish booking failure for %s: %v", b.BookingID, err))
	}
	return &b, nil
}

// finalizeCheckout claims the slot with the status-guarded MarkBooked first,
// then writes the confirmed booking with a snapshot of the slot. The guard is
// the serialization point between racing finalize-eligible sessions: the loser
// sees zero rows and is routed to the refund path instead of recording a
// second confirmed booking.
func (s *BookingService) finalizeCheckout(ctx context.Context, cc *models.CompletedCheckout, slot *models.Slot) (*models.Booking, error) {
	if err := s.Slots.MarkBooked(ctx, slot.SlotID); err != nil {
		if errors.Is(err, ErrSlotUnavailable) {
			return s.rejectCheckout(ctx, cc, slot, "booked by someone else")
		}
		return nil, fmt.Errorf("mark slot %s booked: %w", slot.SlotID, err)
	}

	snap := slot.Snapshot()
	b := models.Booking{
		BookingID:         utils.GenerateBookingID(),
		SlotID:            snap.SlotID,
		Start:             snap.Start,
		End:               snap.End,
		Location:          snap.Location,
		Category:          snap.Category,
		Price:             snap.Price,
		Status:            models.BookingConfirmed,
		ExternalPaymentID: cc.SessionID,
		UserID:            cc.UserID,
		Email:             cc.Email,
		CreatedAt:         s.now(),
	}
	if err := s.Bookings.CreateBooking(ctx, b); err != nil {
		return nil, fmt.Errorf("record confirmed booking for session %s: %w", cc.SessionID, err)
	}

	s.logger.Info("WEBHOOK", fmt.Sprintf("Confirmed booking %s for slot %s (session %s)", b.BookingID, slot.SlotID, cc.SessionID))
	s.invalidateCustomerCache(ctx, cc.UserID)
	if err := s.Events.PublishBookingConfirmed(b); err != nil {
		s.logger.Warn("KAFKA", fmt.Sprintf("Failed to publish booking confirmation for %s: %v", b.BookingID, err))
	}
	return &b, nil
}

func (s *BookingService) invalidateCustomerCache(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	if err := s.Cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("CACHE", fmt.Sprintf("Failed to invalidate booking cache for user %s: %v", userID, err))
	}
}
