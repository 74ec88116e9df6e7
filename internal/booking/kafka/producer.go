package kafka

import (
	"context"
	"encoding/json"
	"time"

	"lesson-booking/internal/config"
	"lesson-booking/internal/models"

	"github.com/segmentio/kafka-go"
)

// Producer streams booking lifecycle events, one writer per topic.
type Producer struct {
	confirmed *kafka.Writer
	failed    *kafka.Writer
	released  *kafka.Writer
}

func NewProducer(brokers []string, topics config.TopicConfig) *Producer {
	newWriter := func(topic string) *kafka.Writer {
		return kafka.NewWriter(kafka.WriterConfig{
			Brokers: brokers,
			Topic:   topic,
		})
	}
	return &Producer{
		confirmed: newWriter(topics.BookingConfirmed),
		failed:    newWriter(topics.BookingFailed),
		released:  newWriter(topics.SlotReleased),
	}
}

func (p *Producer) publish(w *kafka.Writer, key string, event models.BookingEvent) error {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return w.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(key),
			Value: msgBytes,
		},
	)
}

func (p *Producer) PublishBookingConfirmed(b models.Booking) error {
	return p.publish(p.confirmed, b.BookingID, models.BookingEvent{
		Type:      "booking.confirmed",
		BookingID: b.BookingID,
		SlotID:    b.SlotID,
		Booking:   &b,
		Timestamp: time.Now(),
	})
}

func (p *Producer) PublishBookingFailed(b models.Booking) error {
	return p.publish(p.failed, b.BookingID, models.BookingEvent{
		Type:      "booking.failed",
		BookingID: b.BookingID,
		SlotID:    b.SlotID,
		Booking:   &b,
		Timestamp: time.Now(),
	})
}

func (p *Producer) PublishSlotReleased(slotID string) error {
	return p.publish(p.released, slotID, models.BookingEvent{
		Type:      "slot.released",
		SlotID:    slotID,
		Timestamp: time.Now(),
	})
}

func (p *Producer) Close() error {
	for _, w := range []*kafka.Writer{p.confirmed, p.failed, p.released} {
		if err := w.Close(); err != nil {
			return err
		}
	}
	return nil
}

// NoopProducer stands in for Producer when Kafka is disabled, so booking
// flows don't log publish failures against a broker that isn't there.
type NoopProducer struct{}

func (NoopProducer) PublishBookingConfirmed(models.Booking) error { return nil }

func (NoopProducer) PublishBookingFailed(models.Booking) error { return nil }

func (NoopProducer) PublishSlotReleased(string) error { return nil }
