package models

import "time"

type SeatEventType string

const (
	SeatEventHeld     SeatEventType = "held"
	SeatEventReleased SeatEventType = "released"
	SeatEventReserved SeatEventType = "reserved"
	SeatEventBooked   SeatEventType = "booked"
)

// SeatEvent is the realtime broadcast payload for a batch of seat
// state changes. Delivery is best-effort; viewers reconcile against
// the grid endpoint.
type SeatEvent struct {
	Type       SeatEventType `json:"type"`
	EventID    string        `json:"event_id"`
	Seats      []SeatRef     `json:"seats"`
	ClaimantID string        `json:"claimant_id,omitempty"`
	Ts         time.Time     `json:"ts"`
}
