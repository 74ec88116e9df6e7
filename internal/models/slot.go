package models

import (
	"time"

	"github.com/uptrace/bun"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotPending   SlotStatus = "pending"
	SlotBooked    SlotStatus = "booked"
)

// Location is one of the fixed set of venues lessons run at.
type Location string

const (
	LocationRiversidePark Location = "riverside-park"
	LocationIndoorCentre  Location = "indoor-centre"
	LocationHillsideClub  Location = "hillside-club"
)

var locationNames = map[Location]string{
	LocationRiversidePark: "Riverside Park",
	LocationIndoorCentre:  "Indoor Centre",
	LocationHillsideClub:  "Hillside Club",
}

func (l Location) Valid() bool {
	_, ok := locationNames[l]
	return ok
}

// DisplayName returns the human-readable venue name used in checkout descriptions.
func (l Location) DisplayName() string {
	if name, ok := locationNames[l]; ok {
		return name
	}
	return string(l)
}

type Category string

const (
	CategoryPrivate Category = "private"
	CategoryGroup   Category = "group"
)

func (c Category) Valid() bool {
	return c == CategoryPrivate || c == CategoryGroup
}

// Slot is a bookable lesson time window. PendingExpiry and PendingSessionID
// are set together while status is pending and cleared together otherwise.
type Slot struct {
	bun.BaseModel `bun:"table:slots"`

	SlotID           string     `bun:"slot_id,pk" json:"slot_id"`
	Start            time.Time  `bun:"start_time,notnull" json:"start"`
	End              time.Time  `bun:"end_time,notnull" json:"end"`
	Capacity         int        `bun:"capacity,notnull" json:"capacity"`
	Price            int64      `bun:"price,notnull" json:"price"`
	Location         Location   `bun:"location,notnull" json:"location"`
	Category         Category   `bun:"category,notnull" json:"category"`
	Status           SlotStatus `bun:"status,notnull" json:"status"`
	PendingExpiry    *time.Time `bun:"pending_expiry,nullzero" json:"pending_expiry,omitempty"`
	PendingSessionID string     `bun:"pending_session_id,nullzero" json:"pending_session_id,omitempty"`
	CreatedAt        time.Time  `bun:"created_at,notnull" json:"created_at"`
}

// SlotSnapshot is the subset of slot fields carried through the checkout
// success URL and copied onto bookings.
type SlotSnapshot struct {
	SlotID   string    `json:"slot_id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Location Location  `json:"location"`
	Category Category  `json:"category"`
	Price    int64     `json:"price"`
}

func (s *Slot) Snapshot() SlotSnapshot {
	return SlotSnapshot{
		SlotID:   s.SlotID,
		Start:    s.Start,
		End:      s.End,
		Location: s.Location,
		Category: s.Category,
		Price:    s.Price,
	}
}

// SlotRequest is the admin payload for creating a single slot.
type SlotRequest struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Capacity int       `json:"capacity"`
	Price    int64     `json:"price"`
	Location Location  `json:"location"`
	Category Category  `json:"category"`
}

// SlotBatchRequest generates one slot per hour in [From, To).
type SlotBatchRequest struct {
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Capacity int       `json:"capacity"`
	Price    int64     `json:"price"`
	Location Location  `json:"location"`
	Category Category  `json:"category"`
}
