package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seat-booking/internal/status"
	"seat-booking/models"
)

func setupTestHoldManager(t *testing.T, eventID string) (*HoldManager, *Inventory, *fakeClock) {
	t.Helper()

	inv, clk := setupTestInventory(t, eventID, 10, 10)
	m := NewHoldManager(inv, nil, 15*time.Minute)
	m.now = clk.Now
	return m, inv, clk
}

func TestHoldManager_Hold(t *testing.T) {
	m, inv, clk := setupTestHoldManager(t, "concert")
	ctx := context.Background()

	hold, err := m.Hold(ctx, "concert", []models.SeatRef{seat(0, 0), seat(0, 1)}, "client-a", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, hold.ID)
	assert.Equal(t, HoldActive, hold.State)
	assert.Equal(t, clk.Now().Add(15*time.Minute), hold.ExpiresAt)

	cell, err := inv.GetSeat("concert", seat(0, 0))
	require.NoError(t, err)
	assert.Equal(t, models.SeatHeld, cell.Status)
	assert.Equal(t, "client-a", cell.ClaimantID)
}

func TestHoldManager_Hold_Conflict(t *testing.T) {
	m, _, _ := setupTestHoldManager(t, "concert")
	ctx := context.Background()

	_, err := m.Hold(ctx, "concert", []models.SeatRef{seat(0, 1)}, "client-a", 0)
	require.NoError(t, err)

	_, err = m.Hold(ctx, "concert", []models.SeatRef{seat(0, 1), seat(0, 2)}, "client-b", 0)
	require.Error(t, err)

	claimErr, ok := err.(*status.ClaimError)
	require.True(t, ok)
	require.Len(t, claimErr.Blocked, 1)
	assert.Equal(t, seat(0, 1), claimErr.Blocked[0].Seat)
}

func TestHoldManager_Release(t *testing.T) {
	m, inv, _ := setupTestHoldManager(t, "concert")
	ctx := context.Background()

	hold, err := m.Hold(ctx, "concert", []models.SeatRef{seat(1, 0)}, "client-a", 0)
	require.NoError(t, err)

	require.NoError(t, m.Release(ctx, hold.ID, "client-a"))

	cell, err := inv.GetSeat("concert", seat(1, 0))
	require.NoError(t, err)
	assert.Equal(t, models.SeatAvailable, cell.Status)

	got, err := m.Get(hold.ID)
	require.NoError(t, err)
	assert.Equal(t, HoldReleased, got.State)

	// Releasing again is a no-op.
	require.NoError(t, m.Release(ctx, hold.ID, "client-a"))
}

func TestHoldManager_Release_WrongOwner(t *testing.T) {
	m, _, _ := setupTestHoldManager(t, "concert")
	ctx := context.Background()

	hold, err := m.Hold(ctx, "concert", []models.SeatRef{seat(1, 1)}, "client-a", 0)
	require.NoError(t, err)

	err = m.Release(ctx, hold.ID, "client-b")
	assert.ErrorIs(t, err, status.ErrNotFound)

	got, err := m.Get(hold.ID)
	require.NoError(t, err)
	assert.Equal(t, HoldActive, got.State)
}

func TestHoldManager_ConvertToReservation(t *testing.T) {
	m, inv, clk := setupTestHoldManager(t, "concert")
	ctx := context.Background()

	hold, err := m.Hold(ctx, "concert", []models.SeatRef{seat(2, 0), seat(2, 1)}, "client-a", 0)
	require.NoError(t, err)

	converted, expiresAt, err := m.ConvertToReservation(ctx, hold.ID, "client-a", "bk1", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, HoldConverted, converted.State)
	assert.Equal(t, clk.Now().Add(10*time.Minute), expiresAt)

	cell, err := inv.GetSeat("concert", seat(2, 0))
	require.NoError(t, err)
	assert.Equal(t, models.SeatReserved, cell.Status)
	assert.Equal(t, "bk1", cell.BookingID)

	// A converted hold cannot be converted again.
	_, _, err = m.ConvertToReservation(ctx, hold.ID, "client-a", "bk2", 10*time.Minute)
	assert.ErrorIs(t, err, status.ErrNoActiveHold)
}

func TestHoldManager_ConvertExpired(t *testing.T) {
	m, inv, clk := setupTestHoldManager(t, "concert")
	ctx := context.Background()

	hold, err := m.Hold(ctx, "concert", []models.SeatRef{seat(3, 0)}, "client-a", time.Minute)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)

	_, _, err = m.ConvertToReservation(ctx, hold.ID, "client-a", "bk1", 10*time.Minute)
	assert.ErrorIs(t, err, status.ErrHoldExpired)

	// The seats went back to the pool.
	cell, err := inv.GetSeat("concert", seat(3, 0))
	require.NoError(t, err)
	assert.Equal(t, models.SeatAvailable, cell.Status)

	got, err := m.Get(hold.ID)
	require.NoError(t, err)
	assert.Equal(t, HoldExpired, got.State)
}

func TestHoldManager_ConvertAfterSeatStolen(t *testing.T) {
	m, _, clk := setupTestHoldManager(t, "concert")
	ctx := context.Background()

	hold, err := m.Hold(ctx, "concert", []models.SeatRef{seat(4, 0)}, "client-a", time.Minute)
	require.NoError(t, err)

	// Lazy expiry lets client-b in; the hold record itself has not been
	// swept yet. Roll the manager clock back so the hold still looks
	// live when convert starts.
	clk.Advance(2 * time.Minute)
	_, err = m.Hold(ctx, "concert", []models.SeatRef{seat(4, 0)}, "client-b", 15*time.Minute)
	require.NoError(t, err)
	clk.Advance(-90 * time.Second)

	_, _, err = m.ConvertToReservation(ctx, hold.ID, "client-a", "bk1", 10*time.Minute)
	assert.ErrorIs(t, err, status.ErrHoldExpired)
}

func TestHoldManager_ExpireStale(t *testing.T) {
	m, inv, clk := setupTestHoldManager(t, "concert")
	ctx := context.Background()

	hold, err := m.Hold(ctx, "concert", []models.SeatRef{seat(1, 1)}, "client-a", time.Minute)
	require.NoError(t, err)

	keep, err := m.Hold(ctx, "concert", []models.SeatRef{seat(5, 5)}, "client-b", 30*time.Minute)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)

	expired := m.ExpireStale(ctx)
	assert.Equal(t, 1, expired)

	cell, err := inv.GetSeat("concert", seat(1, 1))
	require.NoError(t, err)
	assert.Equal(t, models.SeatAvailable, cell.Status)

	got, err := m.Get(hold.ID)
	require.NoError(t, err)
	assert.Equal(t, HoldExpired, got.State)

	kept, err := m.Get(keep.ID)
	require.NoError(t, err)
	assert.Equal(t, HoldActive, kept.State)

	// A second sweep finds nothing.
	assert.Equal(t, 0, m.ExpireStale(ctx))
}

func TestHoldManager_ExpireStale_SkipsConverted(t *testing.T) {
	m, inv, clk := setupTestHoldManager(t, "concert")
	ctx := context.Background()

	hold, err := m.Hold(ctx, "concert", []models.SeatRef{seat(6, 0)}, "client-a", time.Minute)
	require.NoError(t, err)

	_, _, err = m.ConvertToReservation(ctx, hold.ID, "client-a", "bk1", 10*time.Minute)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	assert.Equal(t, 0, m.ExpireStale(ctx))

	cell, err := inv.GetSeat("concert", seat(6, 0))
	require.NoError(t, err)
	assert.Equal(t, models.SeatReserved, cell.Status)
}

func TestHoldManager_ExpireStale_KeepsFreshReservation(t *testing.T) {
	m, inv, clk := setupTestHoldManager(t, "concert")
	ctx := context.Background()

	hold, err := m.Hold(ctx, "concert", []models.SeatRef{seat(7, 0)}, "client-a", time.Minute)
	require.NoError(t, err)

	// The seats were just re-claimed as a reservation with a fresh
	// expiry (checkout in progress) when the hold's own TTL lapses.
	reservedUntil := clk.Now().Add(15 * time.Minute)
	require.NoError(t, inv.TryClaim(ctx, Claim{
		EventID:    "concert",
		Seats:      hold.Seats,
		From:       []models.SeatStatus{models.SeatHeld},
		To:         models.SeatReserved,
		ClaimantID: "client-a",
		BookingID:  "bk1",
		ExpiresAt:  &reservedUntil,
	}))

	clk.Advance(2 * time.Minute)
	m.ExpireStale(ctx)

	// The sweep must not free an unexpired reservation.
	cell, err := inv.GetSeat("concert", seat(7, 0))
	require.NoError(t, err)
	assert.Equal(t, models.SeatReserved, cell.Status)
	assert.Equal(t, "bk1", cell.BookingID)
}

func TestHoldManager_ConvertVersusSweep(t *testing.T) {
	m, inv, clk := setupTestHoldManager(t, "concert")
	ctx := context.Background()

	hold, err := m.Hold(ctx, "concert", []models.SeatRef{seat(8, 0)}, "client-a", time.Minute)
	require.NoError(t, err)

	// Fire the sweep between convert's expiry check and its claim: the
	// TTL lapses right after convert decided the hold was still live.
	fired := false
	inv.now = func() time.Time {
		if !fired {
			fired = true
			clk.Advance(2 * time.Minute)
			m.ExpireStale(ctx)
			return clk.Now().Add(-2 * time.Minute)
		}
		return clk.Now()
	}

	_, _, err = m.ConvertToReservation(ctx, hold.ID, "client-a", "bk1", 10*time.Minute)
	assert.ErrorIs(t, err, status.ErrHoldExpired)

	// The sweep won; convert must not resurrect the hold.
	got, err := m.Get(hold.ID)
	require.NoError(t, err)
	assert.Equal(t, HoldExpired, got.State)

	// The reservation was undone and the seat is sellable again.
	cell, err := inv.GetSeat("concert", seat(8, 0))
	require.NoError(t, err)
	assert.Equal(t, models.SeatAvailable, cell.Status)

	_, err = m.Hold(ctx, "concert", []models.SeatRef{seat(8, 0)}, "client-b", 0)
	assert.NoError(t, err)
}

func TestHoldManager_Hold_Validation(t *testing.T) {
	m, _, _ := setupTestHoldManager(t, "concert")
	ctx := context.Background()

	_, err := m.Hold(ctx, "concert", nil, "client-a", 0)
	assert.ErrorIs(t, err, status.ErrValidation)

	_, err = m.Hold(ctx, "concert", []models.SeatRef{seat(0, 0)}, "", 0)
	assert.ErrorIs(t, err, status.ErrValidation)
}
