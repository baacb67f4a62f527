package status

import (
	"errors"
	"fmt"
	"strings"

	"seat-booking/models"
)

var (
	ErrNotFound         = errors.New("status: not found")
	ErrValidation       = errors.New("status: invalid request")
	ErrBusy             = errors.New("status: busy, retry later")
	ErrExpired          = errors.New("status: expired")
	ErrHoldExpired      = errors.New("hold: hold expired")
	ErrHoldNotFound     = errors.New("hold: hold not found")
	ErrNoActiveHold     = errors.New("booking: no active hold for seats")
	ErrAlreadyConfirmed = errors.New("booking: already confirmed")
	ErrAlreadyCancelled = errors.New("booking: already cancelled")
	ErrCapacity         = errors.New("booking: capacity exceeded")
	ErrNumberExhausted  = errors.New("booking: could not allocate booking number")
)

// BlockReason says why a single seat blocked a batch claim.
type BlockReason string

const (
	BlockAlreadyBooked BlockReason = "already_booked"
	BlockHeldByOther   BlockReason = "held_by_other"
	BlockExpired       BlockReason = "expired"
	BlockNotFound      BlockReason = "not_found"
	BlockNoCategory    BlockReason = "no_category"
	BlockDuplicate     BlockReason = "duplicate"
)

type BlockedSeat struct {
	Seat   models.SeatRef `json:"seat"`
	Reason BlockReason    `json:"reason"`
}

// ClaimError reports the exact set of seats that blocked an
// all-or-nothing batch claim. No seat in the batch was mutated.
type ClaimError struct {
	EventID string        `json:"event_id"`
	Blocked []BlockedSeat `json:"blocked"`
}

func (e *ClaimError) Error() string {
	parts := make([]string, len(e.Blocked))
	for i, b := range e.Blocked {
		parts[i] = fmt.Sprintf("%s(%s)", b.Seat, b.Reason)
	}
	return fmt.Sprintf("claim blocked on event %s: %s", e.EventID, strings.Join(parts, ", "))
}

// Retryable reports whether the caller may retry the same request
// unchanged. Only transient lock contention qualifies.
func Retryable(err error) bool {
	return errors.Is(err, ErrBusy)
}
