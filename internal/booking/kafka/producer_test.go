package kafka_test

import (
	"testing"

	"lesson-booking/internal/booking"
	"lesson-booking/internal/booking/kafka"
	"lesson-booking/internal/models"

	"github.com/stretchr/testify/assert"
)

var _ booking.EventPublisher = kafka.NoopProducer{}
var _ booking.EventPublisher = (*kafka.Producer)(nil)

func TestNoopProducerPublishesNothingAndNeverFails(t *testing.T) {
	p := kafka.NoopProducer{}

	assert.NoError(t, p.PublishBookingConfirmed(models.Booking{BookingID: "bk_1"}))
	assert.NoError(t, p.PublishBookingFailed(models.Booking{BookingID: "bk_1"}))
	assert.NoError(t, p.PublishSlotReleased("slot-1"))
}
