package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

type BookingSeat struct {
	Seat          SeatRef         `json:"seat"`
	CategoryID    string          `json:"category_id"`
	SubcategoryID string          `json:"subcategory_id,omitempty"`
	Price         decimal.Decimal `json:"price"`
}

// Booking is the durable record of a purchase attempt. It is created
// pending and transitions exactly once to confirmed or cancelled.
type Booking struct {
	ID            string          `json:"id"`
	EventID       string          `json:"event_id"`
	UserID        string          `json:"user_id"`
	Seats         []BookingSeat   `json:"seats"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	Status        BookingStatus   `json:"status"`
	BookingNumber string          `json:"booking_number"`
	PaymentRef    string          `json:"payment_ref,omitempty"`
	CancelReason  string          `json:"cancel_reason,omitempty"`
	// ExpiresAt is non-nil exactly while the booking is pending.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Expired reports whether a pending booking's TTL has passed. A
// pending booking past its TTL must be treated as cancelled before any
// further transition.
func (b *Booking) Expired(now time.Time) bool {
	return b.Status == BookingPending && b.ExpiresAt != nil && now.After(*b.ExpiresAt)
}

func (b *Booking) SeatRefs() []SeatRef {
	refs := make([]SeatRef, len(b.Seats))
	for i, s := range b.Seats {
		refs[i] = s.Seat
	}
	return refs
}
