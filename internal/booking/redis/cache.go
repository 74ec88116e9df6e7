package redis

import (
	"context"
	"encoding/json"
	"time"

	"lesson-booking/internal/models"

	"github.com/go-redis/redis/v8"
)

const bookingKeyPrefix = "bookings:user:"

// BookingCache is a read-through cache of per-customer booking lists. Entries
// expire after TTL; reconciler writes invalidate the affected customer
// explicitly so the list is only ever one TTL stale.
type BookingCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewBookingCache(client *redis.Client, ttl time.Duration) *BookingCache {
	return &BookingCache{Client: client, TTL: ttl}
}

func (c *BookingCache) GetBookings(ctx context.Context, userID string) ([]models.Booking, bool, error) {
	raw, err := c.Client.Get(ctx, bookingKeyPrefix+userID).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var bookings []models.Booking
	if err := json.Unmarshal([]byte(raw), &bookings); err != nil {
		// A corrupt entry behaves like a miss; the next set overwrites it.
		return nil, false, err
	}
	return bookings, true, nil
}

func (c *BookingCache) SetBookings(ctx context.Context, userID string, bookings []models.Booking) error {
	raw, err := json.Marshal(bookings)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, bookingKeyPrefix+userID, raw, c.TTL).Err()
}

func (c *BookingCache) Invalidate(ctx context.Context, userID string) error {
	return c.Client.Del(ctx, bookingKeyPrefix+userID).Err()
}
