package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"seat-booking/internal/status"
	"seat-booking/models"
	"seat-booking/monitoring"
	"seat-booking/utils"
)

type HoldState string

const (
	HoldActive    HoldState = "active"
	HoldConverted HoldState = "converted"
	HoldReleased  HoldState = "released"
	HoldExpired   HoldState = "expired"
)

// Hold is a time-boxed exclusive claim on seats during interactive
// selection. The server-side seat list is the only one checkout will
// trust.
type Hold struct {
	ID         string           `json:"id"`
	EventID    string           `json:"event_id"`
	ClaimantID string           `json:"claimant_id"`
	Seats      []models.SeatRef `json:"seats"`
	ExpiresAt  time.Time        `json:"expires_at"`
	State      HoldState        `json:"state"`
	CreatedAt  time.Time        `json:"created_at"`
}

const DefaultHoldTTL = 15 * time.Minute

// HoldManager turns seat selection into TTL-bounded claims and owns
// their expiry. Every state flip of a hold happens exactly once under
// the manager's lock, so a racing sweep and convert cannot both win.
type HoldManager struct {
	inv     *Inventory
	monitor *monitoring.Monitor

	mu    sync.Mutex
	holds map[string]*Hold

	ttl time.Duration
	now func() time.Time
}

func NewHoldManager(inv *Inventory, monitor *monitoring.Monitor, ttl time.Duration) *HoldManager {
	if ttl <= 0 {
		ttl = DefaultHoldTTL
	}
	return &HoldManager{
		inv:     inv,
		monitor: monitor,
		holds:   make(map[string]*Hold),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Hold claims the batch available->held. On conflict the ClaimError
// from the inventory names exactly the blocking seats and nothing was
// mutated.
func (m *HoldManager) Hold(ctx context.Context, eventID string, seats []models.SeatRef, claimantID string, ttl time.Duration) (*Hold, error) {
	if claimantID == "" || len(seats) == 0 {
		return nil, status.ErrValidation
	}
	if ttl <= 0 {
		ttl = m.ttl
	}

	now := m.now()
	expiresAt := now.Add(ttl)

	err := m.inv.TryClaim(ctx, Claim{
		EventID:    eventID,
		Seats:      seats,
		From:       []models.SeatStatus{models.SeatAvailable},
		To:         models.SeatHeld,
		ClaimantID: claimantID,
		ExpiresAt:  &expiresAt,
	})
	if err != nil {
		return nil, err
	}

	id, err := utils.GenerateCode(8)
	if err != nil {
		return nil, fmt.Errorf("hold: generating id: %w", err)
	}

	hold := &Hold{
		ID:         id,
		EventID:    eventID,
		ClaimantID: claimantID,
		Seats:      canonicalize(seats),
		ExpiresAt:  expiresAt,
		State:      HoldActive,
		CreatedAt:  now,
	}

	m.mu.Lock()
	m.holds[id] = hold
	active := m.activeCountLocked(eventID)
	m.mu.Unlock()

	m.monitor.SetActiveHolds(eventID, active)
	return hold, nil
}

// Get returns a copy of the hold.
func (m *HoldManager) Get(holdID string) (*Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hold, ok := m.holds[holdID]
	if !ok {
		return nil, status.ErrHoldNotFound
	}
	cp := *hold
	return &cp, nil
}

// Release gives the seats back and retires the hold. Releasing a hold
// that is no longer active is a no-op.
func (m *HoldManager) Release(ctx context.Context, holdID, claimantID string) error {
	m.mu.Lock()
	hold, ok := m.holds[holdID]
	if !ok {
		m.mu.Unlock()
		return status.ErrHoldNotFound
	}
	if hold.ClaimantID != claimantID {
		m.mu.Unlock()
		return status.ErrNotFound
	}
	if hold.State != HoldActive {
		m.mu.Unlock()
		return nil
	}
	hold.State = HoldReleased
	eventID, seats, createdAt := hold.EventID, hold.Seats, hold.CreatedAt
	active := m.activeCountLocked(eventID)
	m.mu.Unlock()

	m.monitor.SetActiveHolds(eventID, active)
	m.monitor.TrackHoldDuration(eventID, m.now().Sub(createdAt))
	return m.inv.Release(ctx, eventID, seats, claimantID)
}

// ConvertToReservation flips an unexpired hold's seats held->reserved
// and binds them to the pending booking. A hold past its TTL fails
// with HoldExpired and its seats go back to the pool; the caller must
// restart seat selection.
func (m *HoldManager) ConvertToReservation(ctx context.Context, holdID, claimantID, bookingID string, checkoutTTL time.Duration) (*Hold, time.Time, error) {
	now := m.now()

	m.mu.Lock()
	hold, ok := m.holds[holdID]
	if !ok {
		m.mu.Unlock()
		return nil, time.Time{}, status.ErrHoldNotFound
	}
	if hold.ClaimantID != claimantID {
		m.mu.Unlock()
		return nil, time.Time{}, status.ErrNoActiveHold
	}
	switch hold.State {
	case HoldActive:
	case HoldConverted:
		m.mu.Unlock()
		return nil, time.Time{}, status.ErrNoActiveHold
	default:
		m.mu.Unlock()
		return nil, time.Time{}, status.ErrHoldExpired
	}
	if now.After(hold.ExpiresAt) {
		// One-shot flip; the sweep will skip this hold.
		hold.State = HoldExpired
		eventID, seats := hold.EventID, hold.Seats
		m.mu.Unlock()

		if err := m.inv.ReleaseStale(ctx, eventID, seats, claimantID); err != nil {
			log.Printf("hold: releasing expired hold %s: %v", holdID, err)
		}
		return nil, time.Time{}, status.ErrHoldExpired
	}
	m.mu.Unlock()

	expiresAt := now.Add(checkoutTTL)
	err := m.inv.TryClaim(ctx, Claim{
		EventID:    hold.EventID,
		Seats:      hold.Seats,
		From:       []models.SeatStatus{models.SeatHeld},
		To:         models.SeatReserved,
		ClaimantID: claimantID,
		BookingID:  bookingID,
		ExpiresAt:  &expiresAt,
	})
	if err != nil {
		if _, ok := err.(*status.ClaimError); ok {
			// The seats slipped away (lazy expiry let another claimant
			// in). The hold is dead either way.
			m.expireHold(ctx, holdID)
			return nil, time.Time{}, status.ErrHoldExpired
		}
		return nil, time.Time{}, err
	}

	m.mu.Lock()
	if hold.State != HoldActive {
		// The sweep expired the hold while its seats were being
		// reserved. Exactly one side may win, so undo the reservation.
		m.mu.Unlock()
		if err := m.inv.Release(ctx, hold.EventID, hold.Seats, claimantID); err != nil {
			log.Printf("hold: undoing reservation of expired hold %s: %v", holdID, err)
		}
		return nil, time.Time{}, status.ErrHoldExpired
	}
	hold.State = HoldConverted
	cp := *hold
	active := m.activeCountLocked(hold.EventID)
	m.mu.Unlock()

	m.monitor.SetActiveHolds(cp.EventID, active)
	m.monitor.TrackHoldDuration(cp.EventID, now.Sub(cp.CreatedAt))
	return &cp, expiresAt, nil
}

func (m *HoldManager) expireHold(ctx context.Context, holdID string) {
	m.mu.Lock()
	hold, ok := m.holds[holdID]
	if !ok || hold.State != HoldActive {
		m.mu.Unlock()
		return
	}
	hold.State = HoldExpired
	eventID, seats, claimantID := hold.EventID, hold.Seats, hold.ClaimantID
	m.mu.Unlock()

	if err := m.inv.ReleaseStale(ctx, eventID, seats, claimantID); err != nil {
		log.Printf("hold: releasing seats of expired hold %s: %v", holdID, err)
	}
}

// ExpireStale flips every active hold past its TTL and frees its
// seats. Safe to race with Hold/ConvertToReservation: the state flip
// under the lock decides the winner, and the release only touches
// cells whose claim TTL has actually passed, so a reservation placed
// by a racing convert keeps its seats.
func (m *HoldManager) ExpireStale(ctx context.Context) int {
	now := m.now()

	m.mu.Lock()
	var stale []*Hold
	for _, hold := range m.holds {
		if hold.State == HoldActive && now.After(hold.ExpiresAt) {
			hold.State = HoldExpired
			stale = append(stale, hold)
		}
	}
	m.mu.Unlock()

	for _, hold := range stale {
		if err := m.inv.ReleaseStale(ctx, hold.EventID, hold.Seats, hold.ClaimantID); err != nil {
			log.Printf("hold: sweep release for hold %s: %v", hold.ID, err)
		}
		m.monitor.TrackSweepExpiration(hold.EventID, "hold")
	}
	return len(stale)
}

func (m *HoldManager) activeCountLocked(eventID string) int {
	n := 0
	for _, hold := range m.holds {
		if hold.EventID == eventID && hold.State == HoldActive {
			n++
		}
	}
	return n
}
