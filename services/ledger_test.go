package services

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seat-booking/internal/status"
	"seat-booking/models"
)

func setupTestLedger(t *testing.T, eventID string, capacity int) (*Ledger, *HoldManager, *Inventory, *fakeClock) {
	t.Helper()

	m, inv, clk := setupTestHoldManager(t, eventID)
	l := NewLedger(inv, m, nil, nil, 15*time.Minute)
	l.now = clk.Now
	l.RegisterEvent(&models.Event{
		ID:       eventID,
		Name:     "Test Concert",
		Capacity: capacity,
		Prices: []models.CategoryPrice{
			{CategoryID: "vip", Price: decimal.NewFromInt(50)},
		},
	})
	return l, m, inv, clk
}

// Two clients race for overlapping seats; the loser gets the exact
// blocking seat back, the winner checks out and pays.
func TestLedger_BookingFlow(t *testing.T) {
	l, m, inv, _ := setupTestLedger(t, "concert", 100)
	ctx := context.Background()

	holdA, err := m.Hold(ctx, "concert", []models.SeatRef{seat(0, 0), seat(0, 1)}, "client-a", 0)
	require.NoError(t, err)

	_, err = m.Hold(ctx, "concert", []models.SeatRef{seat(0, 1), seat(0, 2)}, "client-b", 0)
	require.Error(t, err)
	claimErr, ok := err.(*status.ClaimError)
	require.True(t, ok)
	require.Len(t, claimErr.Blocked, 1)
	assert.Equal(t, seat(0, 1), claimErr.Blocked[0].Seat)

	booking, err := l.CreatePendingBooking(ctx, "concert", "client-a", holdA.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingPending, booking.Status)
	assert.True(t, booking.TotalPrice.Equal(decimal.NewFromInt(100)))
	require.NotNil(t, booking.ExpiresAt)

	cell, err := inv.GetSeat("concert", seat(0, 0))
	require.NoError(t, err)
	assert.Equal(t, models.SeatReserved, cell.Status)

	confirmed, err := l.Confirm(ctx, booking.ID, "sim_123")
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, confirmed.Status)
	assert.Equal(t, "sim_123", confirmed.PaymentRef)
	assert.Nil(t, confirmed.ExpiresAt)

	cell, err = inv.GetSeat("concert", seat(0, 1))
	require.NoError(t, err)
	assert.Equal(t, models.SeatBooked, cell.Status)
	assert.Equal(t, booking.ID, cell.BookingID)

	ev, err := l.Event("concert")
	require.NoError(t, err)
	assert.Equal(t, 2, ev.TicketsSold)

	// The freed-up seat is still sellable to client-b.
	_, err = m.Hold(ctx, "concert", []models.SeatRef{seat(0, 2)}, "client-b", 0)
	assert.NoError(t, err)
}

func TestLedger_CreatePendingBooking_NoActiveHold(t *testing.T) {
	l, m, _, _ := setupTestLedger(t, "concert", 100)
	ctx := context.Background()

	_, err := l.CreatePendingBooking(ctx, "concert", "client-a", "no-such-hold")
	assert.ErrorIs(t, err, status.ErrNoActiveHold)

	// A hold owned by someone else does not count either.
	hold, err := m.Hold(ctx, "concert", []models.SeatRef{seat(0, 0)}, "client-b", 0)
	require.NoError(t, err)

	_, err = l.CreatePendingBooking(ctx, "concert", "client-a", hold.ID)
	assert.ErrorIs(t, err, status.ErrNoActiveHold)
}

func TestLedger_CreatePendingBooking_ExpiredHold(t *testing.T) {
	l, m, inv, clk := setupTestLedger(t, "concert", 100)
	ctx := context.Background()

	hold, err := m.Hold(ctx, "concert", []models.SeatRef{seat(0, 0)}, "client-a", time.Minute)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)

	_, err = l.CreatePendingBooking(ctx, "concert", "client-a", hold.ID)
	assert.ErrorIs(t, err, status.ErrHoldExpired)

	cell, err := inv.GetSeat("concert", seat(0, 0))
	require.NoError(t, err)
	assert.Equal(t, models.SeatAvailable, cell.Status)
}

func TestLedger_Confirm_Idempotency(t *testing.T) {
	l, m, _, _ := setupTestLedger(t, "concert", 100)
	ctx := context.Background()

	hold, err := m.Hold(ctx, "concert", []models.SeatRef{seat(0, 0)}, "client-a", 0)
	require.NoError(t, err)
	booking, err := l.CreatePendingBooking(ctx, "concert", "client-a", hold.ID)
	require.NoError(t, err)

	_, err = l.Confirm(ctx, booking.ID, "pay-1")
	require.NoError(t, err)

	_, err = l.Confirm(ctx, booking.ID, "pay-2")
	assert.ErrorIs(t, err, status.ErrAlreadyConfirmed)

	// ticketsSold was bumped exactly once.
	ev, err := l.Event("concert")
	require.NoError(t, err)
	assert.Equal(t, 1, ev.TicketsSold)
}

func TestLedger_Confirm_Expired(t *testing.T) {
	l, m, inv, clk := setupTestLedger(t, "concert", 100)
	ctx := context.Background()

	hold, err := m.Hold(ctx, "concert", []models.SeatRef{seat(0, 0)}, "client-a", 0)
	require.NoError(t, err)
	booking, err := l.CreatePendingBooking(ctx, "concert", "client-a", hold.ID)
	require.NoError(t, err)

	clk.Advance(20 * time.Minute)

	_, err = l.Confirm(ctx, booking.ID, "too-late")
	assert.ErrorIs(t, err, status.ErrExpired)

	got, err := l.GetBooking(booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, got.Status)

	cell, err := inv.GetSeat("concert", seat(0, 0))
	require.NoError(t, err)
	assert.Equal(t, models.SeatAvailable, cell.Status)

	ev, err := l.Event("concert")
	require.NoError(t, err)
	assert.Equal(t, 0, ev.TicketsSold)
}

// A checkout that times out reaches exactly one terminal state no
// matter whether the sweep or the payment confirmation runs first.
func TestLedger_ConfirmVersusSweep(t *testing.T) {
	l, m, _, clk := setupTestLedger(t, "concert", 100)
	ctx := context.Background()

	hold, err := m.Hold(ctx, "concert", []models.SeatRef{seat(0, 0)}, "client-a", 0)
	require.NoError(t, err)
	booking, err := l.CreatePendingBooking(ctx, "concert", "client-a", hold.ID)
	require.NoError(t, err)

	clk.Advance(20 * time.Minute)

	expired := l.ExpireStale(ctx)
	assert.Equal(t, 1, expired)

	_, err = l.Confirm(ctx, booking.ID, "sim_123")
	assert.ErrorIs(t, err, status.ErrAlreadyCancelled)

	got, err := l.GetBooking(booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, got.Status)
	assert.Equal(t, "expired", got.CancelReason)
}

func TestLedger_Cancel(t *testing.T) {
	l, m, inv, _ := setupTestLedger(t, "concert", 100)
	ctx := context.Background()

	hold, err := m.Hold(ctx, "concert", []models.SeatRef{seat(0, 0)}, "client-a", 0)
	require.NoError(t, err)
	booking, err := l.CreatePendingBooking(ctx, "concert", "client-a", hold.ID)
	require.NoError(t, err)

	cancelled, err := l.Cancel(ctx, booking.ID, "changed_mind")
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, cancelled.Status)
	assert.Equal(t, "changed_mind", cancelled.CancelReason)

	cell, err := inv.GetSeat("concert", seat(0, 0))
	require.NoError(t, err)
	assert.Equal(t, models.SeatAvailable, cell.Status)

	_, err = l.Cancel(ctx, booking.ID, "again")
	assert.ErrorIs(t, err, status.ErrAlreadyCancelled)
}

func TestLedger_Cancel_ConfirmedRejected(t *testing.T) {
	l, m, _, _ := setupTestLedger(t, "concert", 100)
	ctx := context.Background()

	hold, err := m.Hold(ctx, "concert", []models.SeatRef{seat(0, 0)}, "client-a", 0)
	require.NoError(t, err)
	booking, err := l.CreatePendingBooking(ctx, "concert", "client-a", hold.ID)
	require.NoError(t, err)
	_, err = l.Confirm(ctx, booking.ID, "pay-1")
	require.NoError(t, err)

	_, err = l.Cancel(ctx, booking.ID, "refund-me")
	assert.ErrorIs(t, err, status.ErrAlreadyConfirmed)
}

func TestLedger_BookingNumberFormat(t *testing.T) {
	l, m, _, clk := setupTestLedger(t, "concert", 100)
	ctx := context.Background()

	hold, err := m.Hold(ctx, "concert", []models.SeatRef{seat(0, 0)}, "client-a", 0)
	require.NoError(t, err)
	booking, err := l.CreatePendingBooking(ctx, "concert", "client-a", hold.ID)
	require.NoError(t, err)

	// Clock is fixed at June 2025.
	assert.Regexp(t, regexp.MustCompile(`^BK2506-\d{4}$`), booking.BookingNumber)
	assert.Equal(t, clk.Now().Add(15*time.Minute), *booking.ExpiresAt)

	// Lookup by public number resolves the same booking.
	got, err := l.GetBooking(booking.BookingNumber)
	require.NoError(t, err)
	assert.Equal(t, booking.ID, got.ID)
}

func TestLedger_Capacity(t *testing.T) {
	l, m, inv, _ := setupTestLedger(t, "concert", 2)
	ctx := context.Background()

	hold, err := m.Hold(ctx, "concert", []models.SeatRef{seat(0, 0), seat(0, 1), seat(0, 2)}, "client-a", 0)
	require.NoError(t, err)

	_, err = l.CreatePendingBooking(ctx, "concert", "client-a", hold.ID)
	assert.ErrorIs(t, err, status.ErrCapacity)

	// The hold survives a capacity rejection; the client can release
	// some seats and retry.
	got, err := m.Get(hold.ID)
	require.NoError(t, err)
	assert.Equal(t, HoldActive, got.State)

	cell, err := inv.GetSeat("concert", seat(0, 0))
	require.NoError(t, err)
	assert.Equal(t, models.SeatHeld, cell.Status)
}

func TestLedger_CapacityCountsPending(t *testing.T) {
	l, m, _, _ := setupTestLedger(t, "concert", 2)
	ctx := context.Background()

	holdA, err := m.Hold(ctx, "concert", []models.SeatRef{seat(0, 0), seat(0, 1)}, "client-a", 0)
	require.NoError(t, err)
	_, err = l.CreatePendingBooking(ctx, "concert", "client-a", holdA.ID)
	require.NoError(t, err)

	holdB, err := m.Hold(ctx, "concert", []models.SeatRef{seat(1, 0)}, "client-b", 0)
	require.NoError(t, err)

	_, err = l.CreatePendingBooking(ctx, "concert", "client-b", holdB.ID)
	assert.ErrorIs(t, err, status.ErrCapacity)
}

func TestLedger_CategoryLimit(t *testing.T) {
	l, m, _, _ := setupTestLedger(t, "concert", 100)
	l.RegisterEvent(&models.Event{
		ID:       "concert",
		Capacity: 100,
		Prices: []models.CategoryPrice{
			{CategoryID: "vip", Price: decimal.NewFromInt(50), Limit: 1},
		},
	})
	ctx := context.Background()

	hold, err := m.Hold(ctx, "concert", []models.SeatRef{seat(0, 0), seat(0, 1)}, "client-a", 0)
	require.NoError(t, err)

	_, err = l.CreatePendingBooking(ctx, "concert", "client-a", hold.ID)
	assert.ErrorIs(t, err, status.ErrCapacity)
}

func TestLedger_GetBooking_LazyExpiry(t *testing.T) {
	l, m, _, clk := setupTestLedger(t, "concert", 100)
	ctx := context.Background()

	hold, err := m.Hold(ctx, "concert", []models.SeatRef{seat(0, 0)}, "client-a", 0)
	require.NoError(t, err)
	booking, err := l.CreatePendingBooking(ctx, "concert", "client-a", hold.ID)
	require.NoError(t, err)

	clk.Advance(20 * time.Minute)

	// Before any sweep runs, reads already report the booking as
	// cancelled.
	got, err := l.GetBooking(booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, got.Status)
	assert.Equal(t, "expired", got.CancelReason)
}

func TestLedger_GetBooking_ReservedNumberNotFound(t *testing.T) {
	l, _, _, _ := setupTestLedger(t, "concert", 100)

	// A number reserved by an in-flight create has no booking record
	// yet; looking it up must report not found, never resolve to a nil
	// record.
	l.mu.Lock()
	number, err := l.allocateNumberLocked(l.now())
	l.mu.Unlock()
	require.NoError(t, err)

	_, err = l.GetBooking(number)
	assert.ErrorIs(t, err, status.ErrNotFound)
}

// reregisterMirror swaps the event's registration in the window
// between the reservation landing and the booking record insert.
type reregisterMirror struct {
	ledger *Ledger
	event  *models.Event
	done   bool
}

func (r *reregisterMirror) SaveSeats(ctx context.Context, eventID string, seats []models.SeatRef, cells []models.SeatCell) error {
	if r.done {
		return nil
	}
	for _, cell := range cells {
		if cell.Status == models.SeatReserved {
			r.done = true
			r.ledger.RegisterEvent(r.event)
			return nil
		}
	}
	return nil
}

func TestLedger_CapacityRecheckSeesReregisteredEvent(t *testing.T) {
	clk := newFakeClock()
	mirror := &reregisterMirror{}
	inv := NewInventory(nil, mirror, nil, 500*time.Millisecond)
	inv.now = clk.Now
	inv.Register(testLayout("concert", 10, 10))

	m := NewHoldManager(inv, nil, 15*time.Minute)
	m.now = clk.Now
	l := NewLedger(inv, m, nil, nil, 15*time.Minute)
	l.now = clk.Now

	prices := []models.CategoryPrice{{CategoryID: "vip", Price: decimal.NewFromInt(50)}}
	l.RegisterEvent(&models.Event{ID: "concert", Capacity: 5, Prices: prices})

	// An admin shrinks the event to capacity 1 mid-create.
	mirror.ledger = l
	mirror.event = &models.Event{ID: "concert", Capacity: 1, Prices: prices}

	ctx := context.Background()
	hold, err := m.Hold(ctx, "concert", []models.SeatRef{seat(0, 0), seat(0, 1)}, "client-a", 0)
	require.NoError(t, err)

	_, err = l.CreatePendingBooking(ctx, "concert", "client-a", hold.ID)
	assert.ErrorIs(t, err, status.ErrCapacity)

	// The rollback freed the seats.
	cell, err := inv.GetSeat("concert", seat(0, 0))
	require.NoError(t, err)
	assert.Equal(t, models.SeatAvailable, cell.Status)
}

func TestLedger_TicketsSoldMatchesConfirmedSeats(t *testing.T) {
	l, m, _, clk := setupTestLedger(t, "concert", 100)
	ctx := context.Background()

	// A checkout that times out before paying.
	holdC, err := m.Hold(ctx, "concert", []models.SeatRef{seat(5, 0)}, "client-c", 0)
	require.NoError(t, err)
	expired, err := l.CreatePendingBooking(ctx, "concert", "client-c", holdC.ID)
	require.NoError(t, err)

	clk.Advance(20 * time.Minute)
	l.ExpireStale(ctx)
	m.ExpireStale(ctx)

	// Two checkouts that pay.
	holdA, err := m.Hold(ctx, "concert", []models.SeatRef{seat(0, 0), seat(0, 1)}, "client-a", 0)
	require.NoError(t, err)
	bookingA, err := l.CreatePendingBooking(ctx, "concert", "client-a", holdA.ID)
	require.NoError(t, err)

	holdD, err := m.Hold(ctx, "concert", []models.SeatRef{seat(2, 0), seat(2, 1), seat(2, 2)}, "client-d", 0)
	require.NoError(t, err)
	bookingD, err := l.CreatePendingBooking(ctx, "concert", "client-d", holdD.ID)
	require.NoError(t, err)

	// One cancelled, one left pending.
	holdB, err := m.Hold(ctx, "concert", []models.SeatRef{seat(1, 0)}, "client-b", 0)
	require.NoError(t, err)
	bookingB, err := l.CreatePendingBooking(ctx, "concert", "client-b", holdB.ID)
	require.NoError(t, err)
	_, err = l.Cancel(ctx, bookingB.ID, "changed_mind")
	require.NoError(t, err)

	holdE, err := m.Hold(ctx, "concert", []models.SeatRef{seat(3, 0)}, "client-e", 0)
	require.NoError(t, err)
	_, err = l.CreatePendingBooking(ctx, "concert", "client-e", holdE.ID)
	require.NoError(t, err)

	_, err = l.Confirm(ctx, bookingA.ID, "pay-a")
	require.NoError(t, err)

	// Many callers race to confirm the same booking; exactly one wins.
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Confirm(ctx, bookingD.ID, "pay-d"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)

	// A late double confirm and a final sweep change nothing.
	_, err = l.Confirm(ctx, bookingA.ID, "pay-a-again")
	assert.ErrorIs(t, err, status.ErrAlreadyConfirmed)
	l.ExpireStale(ctx)
	m.ExpireStale(ctx)

	confirmedSeats := 0
	for _, id := range []string{expired.ID, bookingA.ID, bookingB.ID, bookingD.ID} {
		b, err := l.GetBooking(id)
		require.NoError(t, err)
		if b.Status == models.BookingConfirmed {
			confirmedSeats += len(b.Seats)
		}
	}

	ev, err := l.Event("concert")
	require.NoError(t, err)
	assert.Equal(t, confirmedSeats, ev.TicketsSold)
	assert.Equal(t, 5, ev.TicketsSold)
}

func TestLedger_UnknownEvent(t *testing.T) {
	l, m, _, _ := setupTestLedger(t, "concert", 100)
	ctx := context.Background()

	hold, err := m.Hold(ctx, "concert", []models.SeatRef{seat(0, 0)}, "client-a", 0)
	require.NoError(t, err)

	_, err = l.CreatePendingBooking(ctx, "other-event", "client-a", hold.ID)
	assert.ErrorIs(t, err, status.ErrNoActiveHold)

	_, err = l.GetBooking("nope")
	assert.ErrorIs(t, err, status.ErrNotFound)
}
