package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lesson-booking/internal/logger"
	"lesson-booking/internal/models"

	"github.com/google/uuid"
)

// SlotStore is the persistence contract for slots. MarkPending and
// AttachSessionID are status-guarded conditional writes: they must fail with
// ErrSlotUnavailable instead of overwriting a slot whose status changed
// underneath the caller.
type SlotStore interface {
	GetSlotByID(ctx context.Context, id string) (*models.Slot, error)
	CreateSlot(ctx context.Context, slot models.Slot) error
	CreateSlots(ctx context.Context, slots []models.Slot) error
	MarkPending(ctx context.Context, id string, expiry time.Time) error
	AttachSessionID(ctx context.Context, id, sessionID string) error
	Release(ctx context.Context, id string) error
	MarkBooked(ctx context.Context, id string) error
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	ListAvailable(ctx context.Context) ([]models.Slot, error)
}

type BookingStore interface {
	CreateBooking(ctx context.Context, b models.Booking) error
	GetBookingBySessionID(ctx context.Context, sessionID string) (*models.Booking, error)
	GetBookingsByUserID(ctx context.Context, userID string) ([]models.Booking, error)
}

// PaymentGateway wraps the hosted-checkout provider. VerifyEvent returns
// (nil, nil) for event types the reconciler does not handle.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, slot models.Slot, customer models.Customer) (*models.CheckoutSession, error)
	Refund(ctx context.Context, paymentIntentID string) error
	VerifyEvent(payload []byte, sigHeader string) (*models.CompletedCheckout, error)
}

// BookingCache holds per-customer booking lists with a short TTL. It is
// injected so tests can run against isolated instances.
type BookingCache interface {
	GetBookings(ctx context.Context, userID string) ([]models.Booking, bool, error)
	SetBookings(ctx context.Context, userID string, bookings []models.Booking) error
	Invalidate(ctx context.Context, userID string) error
}

type EventPublisher interface {
	PublishBookingConfirmed(b models.Booking) error
	PublishBookingFailed(b models.Booking) error
	PublishSlotReleased(slotID string) error
}

type BookingService struct {
	Slots    SlotStore
	Bookings BookingStore
	Gateway  PaymentGateway
	Cache    BookingCache
	Events   EventPublisher
	TTL      time.Duration

	logger *logger.Logger
	now    func() time.Time
}

func NewBookingService(slots SlotStore, bookings BookingStore, gateway PaymentGateway, cache BookingCache, events EventPublisher, ttl time.Duration, log *logger.Logger) *BookingService {
	return &BookingService{
		Slots:    slots,
		Bookings: bookings,
		Gateway:  gateway,
		Cache:    cache,
		Events:   events,
		TTL:      ttl,
		logger:   log,
		now:      time.Now,
	}
}

// ---------------- RESERVATION ----------------

// Reserve transitions an available slot to pending with a fresh expiry. The
// store's conditional write is the only serialization point: of N concurrent
// callers exactly one gets nil, the rest get ErrSlotUnavailable.
func (s *BookingService) Reserve(ctx context.Context, slotID string) (*models.Slot, error) {
	expiry := s.now().Add(s.TTL)
	if err := s.Slots.MarkPending(ctx, slotID, expiry); err != nil {
		return nil, err
	}
	s.logger.Info("BOOKING", fmt.Sprintf("Reserved slot %s until %s", slotID, expiry.Format(time.RFC3339)))
	return s.Slots.GetSlotByID(ctx, slotID)
}

// Release returns a pending slot to available and clears the pending fields.
// Called on explicit checkout abandonment; a slot that is not pending (never
// reserved, already swept, or booked) is left alone and reported as a no-op.
func (s *BookingService) Release(ctx context.Context, slotID string) error {
	if err := s.Slots.Release(ctx, slotID); err != nil {
		if errors.Is(err, ErrSlotUnavailable) {
			s.logger.Info("BOOKING", fmt.Sprintf("Slot %s has no pending reservation to release", slotID))
			return nil
		}
		return fmt.Errorf("release slot %s: %w", slotID, err)
	}
	s.logger.Info("BOOKING", fmt.Sprintf("Released slot %s back to available", slotID))
	if err := s.Events.PublishSlotReleased(slotID); err != nil {
		s.logger.Warn("KAFKA", fmt.Sprintf("Failed to publish slot release for %s: %v", slotID, err))
	}
	return nil
}

// ListOfferable sweeps expired pending reservations back to available, then
// returns the slots a customer may book right now. The sweep reclaims slots
// for future listings; only slots already available are offered on this call.
func (s *BookingService) ListOfferable(ctx context.Context) ([]models.Slot, error) {
	swept, err := s.Slots.SweepExpired(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("sweep expired reservations: %w", err)
	}
	if swept > 0 {
		s.logger.Info("SWEEP", fmt.Sprintf("Reclaimed %d expired pending slots", swept))
	}
	return s.Slots.ListAvailable(ctx)
}

// ---------------- CHECKOUT ----------------

// CreateCheckout runs the reserve-then-pay sequence for one slot: reserve the
// slot locally, create the hosted checkout session, then attach the
// provider-assigned session id to the pending slot. The slot is never
// externally payable without being reserved first.
func (s *BookingService) CreateCheckout(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutResponse, error) {
	slot, err := s.Slots.GetSlotByID(ctx, req.SlotID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSlotUnavailable, req.SlotID)
	}
	if slot.Status != models.SlotAvailable {
		return nil, fmt.Errorf("%w: slot %s is %s", ErrSlotUnavailable, slot.SlotID, slot.Status)
	}
	if slot.Price <= 0 || slot.Capacity <= 0 {
		return nil, fmt.Errorf("slot %s has invalid price or capacity", slot.SlotID)
	}

	reserved, err := s.Reserve(ctx, req.SlotID)
	if err != nil {
		return nil, err
	}

	customer := models.Customer{UserID: req.UserID, Email: req.Email}
	session, err := s.Gateway.CreateCheckoutSession(ctx, *reserved, customer)
	if err != nil {
		// No payment session exists, so the reservation has nothing to wait for.
		if relErr := s.Slots.Release(ctx, req.SlotID); relErr != nil {
			s.logger.Error("BOOKING", fmt.Sprintf("Failed to roll back reservation for %s: %v", req.SlotID, relErr))
		}
		return nil, fmt.Errorf("create checkout session for slot %s: %w", req.SlotID, err)
	}

	if err := s.Slots.AttachSessionID(ctx, req.SlotID, session.SessionID); err != nil {
		// The reservation no longer owns a session id the reconciler can match,
		// so release it; the finalize-time re-check still protects the slot.
		if relErr := s.Slots.Release(ctx, req.SlotID); relErr != nil {
			s.logger.Error("BOOKING", fmt.Sprintf("Failed to roll back reservation for %s: %v", req.SlotID, relErr))
		}
		return nil, fmt.Errorf("attach session %s to slot %s: %w", session.SessionID, req.SlotID, err)
	}

	s.logger.Info("CHECKOUT", fmt.Sprintf("Created checkout session %s for slot %s", session.SessionID, req.SlotID))
	return &models.CheckoutResponse{URL: session.URL, SessionID: session.SessionID}, nil
}

// ---------------- SLOT ADMIN ----------------

func (s *BookingService) CreateSlot(ctx context.Context, req models.SlotRequest) (*models.Slot, error) {
	if err := validateSlotFields(req.Start, req.End, req.Capacity, req.Price, req.Location, req.Category); err != nil {
		return nil, err
	}
	slot := models.Slot{
		SlotID:    uuid.NewString(),
		Start:     req.Start,
		End:       req.End,
		Capacity:  req.Capacity,
		Price:     req.Price,
		Location:  req.Location,
		Category:  req.Category,
		Status:    models.SlotAvailable,
		CreatedAt: s.now(),
	}
	if err := s.Slots.CreateSlot(ctx, slot); err != nil {
		return nil, fmt.Errorf("create slot: %w", err)
	}
	return &slot, nil
}

// GenerateHourlySlots creates one slot per full hour in [From, To).
func (s *BookingService) GenerateHourlySlots(ctx context.Context, req models.SlotBatchRequest) ([]models.Slot, error) {
	if err := validateSlotFields(req.From, req.To, req.Capacity, req.Price, req.Location, req.Category); err != nil {
		return nil, err
	}
	var slots []models.Slot
	for start := req.From; start.Add(time.Hour).Before(req.To) || start.Add(time.Hour).Equal(req.To); start = start.Add(time.Hour) {
		slots = append(slots, models.Slot{
			SlotID:    uuid.NewString(),
			Start:     start,
			End:       start.Add(time.Hour),
			Capacity:  req.Capacity,
			Price:     req.Price,
			Location:  req.Location,
			Category:  req.Category,
			Status:    models.SlotAvailable,
			CreatedAt: s.now(),
		})
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("range %s - %s does not cover a full hour", req.From.Format(time.RFC3339), req.To.Format(time.RFC3339))
	}
	if err := s.Slots.CreateSlots(ctx, slots); err != nil {
		return nil, fmt.Errorf("create slot batch: %w", err)
	}
	s.logger.Info("BOOKING", fmt.Sprintf("Generated %d hourly slots at %s", len(slots), req.Location))
	return slots, nil
}

func validateSlotFields(start, end time.Time, capacity int, price int64, location models.Location, category models.Category) error {
	if !end.After(start) {
		return fmt.Errorf("slot end %s must be after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	if capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", capacity)
	}
	if price < 0 {
		return fmt.Errorf("price must not be negative, got %d", price)
	}
	if !location.Valid() {
		return fmt.Errorf("unknown location %q", location)
	}
	if !category.Valid() {
		return fmt.Errorf("unknown category %q", category)
	}
	return nil
}

// ---------------- BOOKING READS ----------------

func (s *BookingService) GetBookingBySession(ctx context.Context, sessionID string) (*models.Booking, error) {
	return s.Bookings.GetBookingBySessionID(ctx, sessionID)
}

// GetBookingsForUser reads through the per-customer cache. Reconciler writes
// invalidate the affected customer so a stale list lives at most one TTL.
func (s *BookingService) GetBookingsForUser(ctx context.Context, userID string) ([]models.Booking, error) {
	if cached, ok, err := s.Cache.GetBookings(ctx, userID); err != nil {
		s.logger.Warn("CACHE", fmt.Sprintf("Booking cache read for user %s failed: %v", userID, err))
	} else if ok {
		return cached, nil
	}

	bookings, err := s.Bookings.GetBookingsByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load bookings for user %s: %w", userID, err)
	}
	if err := s.Cache.SetBookings(ctx, userID, bookings); err != nil {
		s.logger.Warn("CACHE", fmt.Sprintf("Booking cache write for user %s failed: %v", userID, err))
	}
	return bookings, nil
}
