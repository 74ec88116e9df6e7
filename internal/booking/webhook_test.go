package booking_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"lesson-booking/internal/booking"
	"lesson-booking/internal/logger"
	"lesson-booking/internal/models"

	"github.com/stretchr/testify/assert"
)

// In-memory fakes with the same conditional-write semantics as the real store.

type fakeSlotStore struct {
	mu    sync.Mutex
	slots map[string]*models.Slot
}

func newFakeSlotStore(slots ...*models.Slot) *fakeSlotStore {
	f := &fakeSlotStore{slots: make(map[string]*models.Slot)}
	for _, s := range slots {
		copied := *s
		f.slots[s.SlotID] = &copied
	}
	return f
}

func (f *fakeSlotStore) GetSlotByID(_ context.Context, id string) (*models.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.slots[id]
	if !ok {
		return nil, booking.ErrSlotNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSlotStore) CreateSlot(_ context.Context, slot models.Slot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[slot.SlotID] = &slot
	return nil
}

func (f *fakeSlotStore) CreateSlots(ctx context.Context, slots []models.Slot) error {
	for _, s := range slots {
		if err := f.CreateSlot(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSlotStore) MarkPending(_ context.Context, id string, expiry time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.slots[id]
	if !ok || s.Status != models.SlotAvailable {
		return booking.ErrSlotUnavailable
	}
	s.Status = models.SlotPending
	s.PendingExpiry = &expiry
	s.PendingSessionID = ""
	return nil
}

func (f *fakeSlotStore) AttachSessionID(_ context.Context, id, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.slots[id]
	if !ok || s.Status != models.SlotPending {
		return booking.ErrSlotUnavailable
	}
	s.PendingSessionID = sessionID
	return nil
}

func (f *fakeSlotStore) Release(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.slots[id]
	if !ok || s.Status != models.SlotPending {
		return booking.ErrSlotUnavailable
	}
	s.Status = models.SlotAvailable
	s.PendingExpiry = nil
	s.PendingSessionID = ""
	return nil
}

func (f *fakeSlotStore) MarkBooked(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.slots[id]
	if !ok {
		return booking.ErrSlotNotFound
	}
	if s.Status == models.SlotBooked {
		return booking.ErrSlotUnavailable
	}
	s.Status = models.SlotBooked
	s.PendingExpiry = nil
	s.PendingSessionID = ""
	return nil
}

func (f *fakeSlotStore) SweepExpired(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	swept := 0
	for _, s := range f.slots {
		if s.Status == models.SlotPending && s.PendingExpiry != nil && s.PendingExpiry.Before(now) {
			s.Status = models.SlotAvailable
			s.PendingExpiry = nil
			s.PendingSessionID = ""
			swept++
		}
	}
	return swept, nil
}

func (f *fakeSlotStore) ListAvailable(_ context.Context) ([]models.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Slot
	for _, s := range f.slots {
		if s.Status == models.SlotAvailable {
			out = append(out, *s)
		}
	}
	return out, nil
}

type fakeBookingStore struct {
	mu       sync.Mutex
	bookings []models.Booking
}

func (f *fakeBookingStore) CreateBooking(_ context.Context, b models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookings = append(f.bookings, b)
	return nil
}

func (f *fakeBookingStore) GetBookingBySessionID(_ context.Context, sessionID string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.bookings {
		if f.bookings[i].ExternalPaymentID == sessionID {
			copied := f.bookings[i]
			return &copied, nil
		}
	}
	return nil, booking.ErrBookingNotFound
}

func (f *fakeBookingStore) GetBookingsByUserID(_ context.Context, userID string) ([]models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Booking
	for _, b := range f.bookings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

type fakeGateway struct {
	mu        sync.Mutex
	completed *models.CompletedCheckout
	verifyErr error
	refunds   []string
	refundErr error
}

func (f *fakeGateway) CreateCheckoutSession(_ context.Context, slot models.Slot, _ models.Customer) (*models.CheckoutSession, error) {
	return &models.CheckoutSession{SessionID: "cs_" + slot.SlotID, URL: "https://checkout.example/" + slot.SlotID}, nil
}

func (f *fakeGateway) Refund(_ context.Context, paymentIntentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, paymentIntentID)
	return f.refundErr
}

func (f *fakeGateway) VerifyEvent(_ []byte, _ string) (*models.CompletedCheckout, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.completed, nil
}

func (f *fakeGateway) refundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refunds)
}

type fakeCache struct {
	mu    sync.Mutex
	items map[string][]models.Booking
}

func newFakeCache() *fakeCache {
	return &fakeCache{items: make(map[string][]models.Booking)}
}

func (f *fakeCache) GetBookings(_ context.Context, userID string) ([]models.Booking, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	got, ok := f.items[userID]
	return got, ok, nil
}

func (f *fakeCache) SetBookings(_ context.Context, userID string, bookings []models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[userID] = bookings
	return nil
}

func (f *fakeCache) Invalidate(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, userID)
	return nil
}

type fakeEvents struct {
	mu        sync.Mutex
	confirmed []models.Booking
	failed    []models.Booking
	released  []string
}

func (f *fakeEvents) PublishBookingConfirmed(b models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, b)
	return nil
}

func (f *fakeEvents) PublishBookingFailed(b models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, b)
	return nil
}

func (f *fakeEvents) PublishSlotReleased(slotID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, slotID)
	return nil
}

type webhookFixture struct {
	svc      *booking.BookingService
	slots    *fakeSlotStore
	bookings *fakeBookingStore
	gateway  *fakeGateway
	cache    *fakeCache
	events   *fakeEvents
}

func newWebhookFixture(slot *models.Slot, cc *models.CompletedCheckout) *webhookFixture {
	f := &webhookFixture{
		slots:    newFakeSlotStore(),
		bookings: &fakeBookingStore{},
		gateway:  &fakeGateway{completed: cc},
		cache:    newFakeCache(),
		events:   &fakeEvents{},
	}
	if slot != nil {
		f.slots = newFakeSlotStore(slot)
	}
	f.svc = booking.NewBookingService(f.slots, f.bookings, f.gateway, f.cache, f.events, 30*time.Minute, logger.NewLogger())
	return f
}

func completedCheckoutFor(slot *models.Slot) *models.CompletedCheckout {
	return &models.CompletedCheckout{
		SessionID:       "cs_test_1",
		PaymentIntentID: "pi_test_1",
		SlotID:          slot.SlotID,
		UserID:          "user-1",
		Email:           "player@example.com",
	}
}

func TestWebhookFinalizesOwnPendingReservation(t *testing.T) {
	slot := availableSlot()
	slot.Status = models.SlotPending
	slot.PendingSessionID = "cs_test_1"
	expiry := time.Now().Add(20 * time.Minute)
	slot.PendingExpiry = &expiry

	f := newWebhookFixture(slot, completedCheckoutFor(slot))

	b, err := f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig")

	assert.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, b.Status)
	assert.Equal(t, "cs_test_1", b.ExternalPaymentID)
	assert.Equal(t, slot.Price, b.Price)

	stored, _ := f.slots.GetSlotByID(context.Background(), slot.SlotID)
	assert.Equal(t, models.SlotBooked, stored.Status)
	assert.Empty(t, stored.PendingSessionID)
	assert.Nil(t, stored.PendingExpiry)
	assert.Len(t, f.events.confirmed, 1)
	assert.Zero(t, f.gateway.refundCount())
}

func TestWebhookFinalizesWhenReservationAlreadyLapsed(t *testing.T) {
	// The sweep released the slot before the payment event arrived. The payment
	// is for this slot and nobody else holds it, so it still wins.
	slot := availableSlot()
	f := newWebhookFixture(slot, completedCheckoutFor(slot))

	b, err := f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig")

	assert.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, b.Status)
	stored, _ := f.slots.GetSlotByID(context.Background(), slot.SlotID)
	assert.Equal(t, models.SlotBooked, stored.Status)
}

func TestWebhookFinalizesOverExpiredForeignReservation(t *testing.T) {
	slot := availableSlot()
	slot.Status = models.SlotPending
	slot.PendingSessionID = "cs_somebody_else"
	expiry := time.Now().Add(-time.Minute)
	slot.PendingExpiry = &expiry

	f := newWebhookFixture(slot, completedCheckoutFor(slot))

	b, err := f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig")

	assert.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, b.Status)
	assert.Zero(t, f.gateway.refundCount())
}

func TestWebhookRefundsWhenSlotBookedBySomeoneElse(t *testing.T) {
	slot := availableSlot()
	slot.Status = models.SlotBooked

	f := newWebhookFixture(slot, completedCheckoutFor(slot))

	b, err := f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig")

	assert.NoError(t, err)
	assert.Equal(t, models.BookingFailed, b.Status)
	assert.True(t, b.Refunded)
	assert.Equal(t, "booked by someone else", b.FailureReason)
	assert.Equal(t, []string{"pi_test_1"}, f.gateway.refunds)
	assert.Len(t, f.events.failed, 1)

	// The losing payment must not flip the slot.
	stored, _ := f.slots.GetSlotByID(context.Background(), slot.SlotID)
	assert.Equal(t, models.SlotBooked, stored.Status)
}

func TestWebhookRefundsWhenAnotherReservationIsActive(t *testing.T) {
	slot := availableSlot()
	slot.Status = models.SlotPending
	slot.PendingSessionID = "cs_somebody_else"
	expiry := time.Now().Add(10 * time.Minute)
	slot.PendingExpiry = &expiry

	f := newWebhookFixture(slot, completedCheckoutFor(slot))

	b, err := f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig")

	assert.NoError(t, err)
	assert.Equal(t, models.BookingFailed, b.Status)
	assert.Equal(t, "pending for another player", b.FailureReason)
	assert.Equal(t, 1, f.gateway.refundCount())

	stored, _ := f.slots.GetSlotByID(context.Background(), slot.SlotID)
	assert.Equal(t, models.SlotPending, stored.Status)
	assert.Equal(t, "cs_somebody_else", stored.PendingSessionID)
}

func TestWebhookRefundsWhenSlotIsGone(t *testing.T) {
	slot := availableSlot()
	cc := completedCheckoutFor(slot)
	f := newWebhookFixture(nil, cc)

	b, err := f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig")

	assert.NoError(t, err)
	assert.Equal(t, models.BookingFailed, b.Status)
	assert.Equal(t, "slot no longer exists", b.FailureReason)
	assert.True(t, b.Refunded)
	// No snapshot exists for a vanished slot.
	assert.True(t, b.Start.IsZero())
}

func TestWebhookRefundsWhenSlotDataIsCorrupt(t *testing.T) {
	slot := availableSlot()
	slot.Start = time.Time{}
	slot.End = time.Time{}

	f := newWebhookFixture(slot, completedCheckoutFor(slot))

	b, err := f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig")

	assert.NoError(t, err)
	assert.Equal(t, models.BookingFailed, b.Status)
	assert.Equal(t, "slot data missing", b.FailureReason)
	assert.Equal(t, 1, f.gateway.refundCount())
}

func TestWebhookDuplicateDeliveryIsNoOp(t *testing.T) {
	slot := availableSlot()
	slot.Status = models.SlotPending
	slot.PendingSessionID = "cs_test_1"
	expiry := time.Now().Add(20 * time.Minute)
	slot.PendingExpiry = &expiry

	f := newWebhookFixture(slot, completedCheckoutFor(slot))

	first, err := f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig")
	assert.NoError(t, err)

	second, err := f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig")
	assert.NoError(t, err)
	assert.Equal(t, first.BookingID, second.BookingID)

	f.bookings.mu.Lock()
	total := len(f.bookings.bookings)
	f.bookings.mu.Unlock()
	assert.Equal(t, 1, total)
	assert.Len(t, f.events.confirmed, 1)
	assert.Zero(t, f.gateway.refundCount())
}

func TestWebhookBadSignatureReturns400(t *testing.T) {
	f := newWebhookFixture(nil, nil)
	f.gateway.verifyErr = fmt.Errorf("%w: tampered payload", booking.ErrBadSignature)

	_, err := f.svc.HandleWebhook(context.Background(), []byte("{}"), "bad-sig")

	var whErr *booking.WebhookError
	assert.ErrorAs(t, err, &whErr)
	assert.Equal(t, http.StatusBadRequest, whErr.StatusCode)
	assert.Equal(t, "validation", whErr.Category)
	assert.Zero(t, f.gateway.refundCount())
}

func TestWebhookMissingCorrelationIDReturns400(t *testing.T) {
	f := newWebhookFixture(nil, &models.CompletedCheckout{SessionID: "cs_test_1"})

	_, err := f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig")

	var whErr *booking.WebhookError
	assert.ErrorAs(t, err, &whErr)
	assert.Equal(t, http.StatusBadRequest, whErr.StatusCode)
	assert.Equal(t, "Missing correlation id", whErr.PublicError)
}

func TestWebhookIgnoredEventTypeIsAcknowledged(t *testing.T) {
	f := newWebhookFixture(nil, nil)

	b, err := f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig")

	assert.NoError(t, err)
	assert.Nil(t, b)
}

// staleSlotStore serves a fixed stale snapshot for one slot id, standing in
// for a read that raced an in-flight finalize.
type staleSlotStore struct {
	*fakeSlotStore
	stale *models.Slot
}

func (s *staleSlotStore) GetSlotByID(ctx context.Context, id string) (*models.Slot, error) {
	if s.stale != nil && s.stale.SlotID == id {
		copied := *s.stale
		return &copied, nil
	}
	return s.fakeSlotStore.GetSlotByID(ctx, id)
}

func TestWebhookRacingFinalizesConfirmAtMostOne(t *testing.T) {
	slot := availableSlot()
	f := newWebhookFixture(slot, nil)

	sessionA := &models.CompletedCheckout{
		SessionID:       "cs_first",
		PaymentIntentID: "pi_first",
		SlotID:          slot.SlotID,
		UserID:          "user-a",
		Email:           "a@example.com",
	}
	sessionB := &models.CompletedCheckout{
		SessionID:       "cs_second",
		PaymentIntentID: "pi_second",
		SlotID:          slot.SlotID,
		UserID:          "user-b",
		Email:           "b@example.com",
	}

	f.gateway.completed = sessionA
	first, err := f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig")
	assert.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, first.Status)

	// The second session read the slot before the first finalize committed;
	// its reconcile runs against that stale available snapshot.
	staleCopy := *slot
	f.svc.Slots = &staleSlotStore{fakeSlotStore: f.slots, stale: &staleCopy}
	f.gateway.completed = sessionB

	second, err := f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig")
	assert.NoError(t, err)
	assert.Equal(t, models.BookingFailed, second.Status)
	assert.True(t, second.Refunded)
	assert.Equal(t, []string{"pi_second"}, f.gateway.refunds)

	f.bookings.mu.Lock()
	confirmed := 0
	for _, b := range f.bookings.bookings {
		if b.Status == models.BookingConfirmed {
			confirmed++
		}
	}
	f.bookings.mu.Unlock()
	assert.Equal(t, 1, confirmed)

	// Redelivery of the losing session acknowledges its recorded failure.
	redelivered, err := f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig")
	assert.NoError(t, err)
	assert.Equal(t, models.BookingFailed, redelivered.Status)
	assert.Equal(t, 1, f.gateway.refundCount())
}

func TestWebhookRejectPathRefundsOnlyOnce(t *testing.T) {
	slot := availableSlot()
	slot.Status = models.SlotBooked
	f := newWebhookFixture(slot, completedCheckoutFor(slot))
	f.svc.Bookings = &failingBookingStore{}

	_, err := f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig")

	var whErr *booking.WebhookError
	assert.ErrorAs(t, err, &whErr)
	assert.Equal(t, http.StatusInternalServerError, whErr.StatusCode)
	assert.Equal(t, 1, f.gateway.refundCount())
}

func TestWebhookUnexpectedErrorTriggersSafetyNetRefund(t *testing.T) {
	slot := availableSlot()
	cc := completedCheckoutFor(slot)
	f := newWebhookFixture(slot, cc)
	f.svc.Bookings = &failingBookingStore{}

	_, err := f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig")

	var whErr *booking.WebhookError
	assert.ErrorAs(t, err, &whErr)
	assert.Equal(t, http.StatusInternalServerError, whErr.StatusCode)
	assert.Equal(t, "processing", whErr.Category)
	assert.Equal(t, 1, f.gateway.refundCount())
}

type failingBookingStore struct{}

func (failingBookingStore) CreateBooking(context.Context, models.Booking) error {
	return errors.New("write timeout")
}

func (failingBookingStore) GetBookingBySessionID(context.Context, string) (*models.Booking, error) {
	return nil, booking.ErrBookingNotFound
}

func (failingBookingStore) GetBookingsByUserID(context.Context, string) ([]models.Booking, error) {
	return nil, errors.New("write timeout")
}

func TestConcurrentReservesAdmitExactlyOne(t *testing.T) {
	slot := availableSlot()
	f := newWebhookFixture(slot, nil)

	const callers = 16
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Reserve(context.Background(), slot.SlotID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, booking.ErrSlotUnavailable)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestSweepReclaimsOnlyExpiredReservations(t *testing.T) {
	expired := availableSlot()
	expired.Status = models.SlotPending
	pastExpiry := time.Now().Add(-time.Minute)
	expired.PendingExpiry = &pastExpiry
	expired.PendingSessionID = "cs_old"

	active := availableSlot()
	active.Status = models.SlotPending
	futureExpiry := time.Now().Add(25 * time.Minute)
	active.PendingExpiry = &futureExpiry
	active.PendingSessionID = "cs_live"

	f := newWebhookFixture(nil, nil)
	f.slots = newFakeSlotStore(expired, active)
	f.svc = booking.NewBookingService(f.slots, f.bookings, f.gateway, f.cache, f.events, 30*time.Minute, logger.NewLogger())

	offerable, err := f.svc.ListOfferable(context.Background())

	assert.NoError(t, err)
	assert.Len(t, offerable, 1)
	assert.Equal(t, expired.SlotID, offerable[0].SlotID)

	stillPending, _ := f.slots.GetSlotByID(context.Background(), active.SlotID)
	assert.Equal(t, models.SlotPending, stillPending.Status)
}
