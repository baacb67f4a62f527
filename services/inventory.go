package services

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"seat-booking/internal/status"
	"seat-booking/models"
	"seat-booking/monitoring"
	"seat-booking/realtime"
)

// SeatMirror receives best-effort copies of seat transitions. The
// Redis mirror implements it; tests pass nil.
type SeatMirror interface {
	SaveSeats(ctx context.Context, eventID string, seats []models.SeatRef, cells []models.SeatCell) error
}

const defaultLockWait = 2 * time.Second

// Inventory is the source of truth for whether seats can be claimed
// right now. Each event's grid has a single active writer at a time;
// batches validate and apply in canonical (row,col) order and either
// every seat transitions or none does.
type Inventory struct {
	mu    sync.RWMutex
	grids map[string]*eventGrid

	notifier realtime.Notifier
	mirror   SeatMirror
	monitor  *monitoring.Monitor
	lockWait time.Duration

	now func() time.Time
}

type eventGrid struct {
	// writer is a 1-slot token: holding it makes the goroutine the
	// grid's only mutator. Acquisition is bounded, contention past the
	// bound surfaces as Busy instead of queueing.
	writer chan struct{}
	mu     sync.RWMutex
	layout *models.VenueLayout
}

func NewInventory(notifier realtime.Notifier, mirror SeatMirror, monitor *monitoring.Monitor, lockWait time.Duration) *Inventory {
	if lockWait <= 0 {
		lockWait = defaultLockWait
	}
	return &Inventory{
		grids:    make(map[string]*eventGrid),
		notifier: notifier,
		mirror:   mirror,
		monitor:  monitor,
		lockWait: lockWait,
		now:      time.Now,
	}
}

// Register installs an externally authored layout. Re-registering an
// event replaces its grid; sales for the event restart from scratch.
func (inv *Inventory) Register(layout *models.VenueLayout) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	inv.grids[layout.EventID] = &eventGrid{
		writer: make(chan struct{}, 1),
		layout: layout,
	}
}

func (inv *Inventory) grid(eventID string) (*eventGrid, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	g, ok := inv.grids[eventID]
	if !ok {
		return nil, status.ErrNotFound
	}
	return g, nil
}

func (g *eventGrid) acquire(ctx context.Context, wait time.Duration) error {
	select {
	case g.writer <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case g.writer <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return status.ErrBusy
	}
}

func (g *eventGrid) release() {
	<-g.writer
}

// GetSeat returns a copy of one cell, or NotFound when the seat is out
// of grid bounds or the event is unknown.
func (inv *Inventory) GetSeat(eventID string, ref models.SeatRef) (models.SeatCell, error) {
	g, err := inv.grid(eventID)
	if err != nil {
		return models.SeatCell{}, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.layout.InBounds(ref) {
		return models.SeatCell{}, status.ErrNotFound
	}
	return *g.layout.Cell(ref), nil
}

// Grid returns a deep copy of the event's layout for full-grid
// fetches. Viewers reconcile their realtime stream against this.
func (inv *Inventory) Grid(eventID string) (*models.VenueLayout, error) {
	g, err := inv.grid(eventID)
	if err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	cp := &models.VenueLayout{
		EventID: g.layout.EventID,
		Rows:    g.layout.Rows,
		Cols:    g.layout.Cols,
		Cells:   make([][]models.SeatCell, g.layout.Rows),
	}
	for r := range g.layout.Cells {
		cp.Cells[r] = make([]models.SeatCell, g.layout.Cols)
		copy(cp.Cells[r], g.layout.Cells[r])
	}
	return cp, nil
}

// Claim describes one all-or-nothing batch transition.
type Claim struct {
	EventID    string
	Seats      []models.SeatRef
	From       []models.SeatStatus
	To         models.SeatStatus
	ClaimantID string
	// BookingID is attached when reserving and must match when a
	// reserved seat transitions onward.
	BookingID string
	// ExpiresAt bounds the new claim for held and reserved seats.
	ExpiresAt *time.Time
}

// TryClaim transitions every seat of the batch or none of them. On
// failure the returned ClaimError names exactly the blocking seats; no
// seat was mutated. Contention past the bounded lock wait returns
// Busy, which is the only retryable failure.
func (inv *Inventory) TryClaim(ctx context.Context, c Claim) error {
	if len(c.Seats) == 0 {
		return status.ErrValidation
	}

	g, err := inv.grid(c.EventID)
	if err != nil {
		inv.monitor.TrackClaim("claim", c.EventID, "not_found")
		return err
	}

	seats := canonicalize(c.Seats)

	if err := g.acquire(ctx, inv.lockWait); err != nil {
		inv.monitor.TrackClaim("claim", c.EventID, "busy")
		return err
	}
	defer g.release()

	now := inv.now()

	// Validate the whole batch first. Writers are serialized by the
	// token, so the snapshot cannot shift under us.
	g.mu.RLock()
	blocked := inv.validate(g.layout, seats, c, now)
	g.mu.RUnlock()

	if len(blocked) > 0 {
		inv.monitor.TrackClaim("claim", c.EventID, "blocked")
		return &status.ClaimError{EventID: c.EventID, Blocked: blocked}
	}

	// Apply all mutations together.
	g.mu.Lock()
	cells := make([]models.SeatCell, len(seats))
	for i, ref := range seats {
		cell := g.layout.Cell(ref)
		cell.Status = c.To
		cell.Version++
		switch c.To {
		case models.SeatAvailable:
			cell.ClaimantID = ""
			cell.BookingID = ""
			cell.ExpiresAt = nil
		case models.SeatBooked:
			cell.ClaimantID = c.ClaimantID
			cell.BookingID = c.BookingID
			cell.ExpiresAt = nil
		default:
			cell.ClaimantID = c.ClaimantID
			cell.BookingID = c.BookingID
			cell.ExpiresAt = c.ExpiresAt
		}
		cells[i] = *cell
	}
	g.mu.Unlock()

	inv.monitor.TrackClaim("claim", c.EventID, "success")
	inv.afterTransition(ctx, c.EventID, c.To, seats, cells, c.ClaimantID, now)
	return nil
}

func (inv *Inventory) validate(layout *models.VenueLayout, seats []models.SeatRef, c Claim, now time.Time) []status.BlockedSeat {
	var blocked []status.BlockedSeat

	seen := make(map[models.SeatRef]bool, len(seats))
	for _, ref := range seats {
		if seen[ref] {
			blocked = append(blocked, status.BlockedSeat{Seat: ref, Reason: status.BlockDuplicate})
			continue
		}
		seen[ref] = true

		if !layout.InBounds(ref) {
			blocked = append(blocked, status.BlockedSeat{Seat: ref, Reason: status.BlockNotFound})
			continue
		}

		cell := layout.Cell(ref)
		if cell.CategoryID == "" {
			blocked = append(blocked, status.BlockedSeat{Seat: ref, Reason: status.BlockNoCategory})
			continue
		}

		if reason := blockReason(cell, c, now); reason != "" {
			blocked = append(blocked, status.BlockedSeat{Seat: ref, Reason: reason})
		}
	}

	return blocked
}

// blockReason decides whether one cell satisfies the claim's required
// from-statuses, treating a held or reserved cell past its TTL as
// already released. Empty string means the seat is claimable.
func blockReason(cell *models.SeatCell, c Claim, now time.Time) status.BlockReason {
	stale := cell.Stale(now)

	effective := cell.Status
	if stale {
		effective = models.SeatAvailable
	}

	for _, from := range c.From {
		if effective != from {
			continue
		}
		// Ownership must match when taking over an existing claim.
		if from == models.SeatHeld || from == models.SeatReserved {
			if cell.ClaimantID != c.ClaimantID {
				return status.BlockHeldByOther
			}
			if from == models.SeatReserved && c.BookingID != "" && cell.BookingID != c.BookingID {
				return status.BlockHeldByOther
			}
		}
		return ""
	}

	// The cell is not in any accepted from-status; name the cause.
	switch {
	case cell.Status == models.SeatBooked:
		return status.BlockAlreadyBooked
	case stale:
		// The caller expected its own live claim but the TTL passed.
		return status.BlockExpired
	case cell.Status == models.SeatHeld || cell.Status == models.SeatReserved:
		if cell.ClaimantID == c.ClaimantID {
			return status.BlockExpired
		}
		return status.BlockHeldByOther
	default:
		// Available seat where the caller expected its claim: the
		// claim lapsed and was released or taken over meanwhile.
		return status.BlockExpired
	}
}

// Release reverts seats held or reserved by the claimant back to
// available. Seats already available, or owned by someone else, are
// skipped; the operation is idempotent.
func (inv *Inventory) Release(ctx context.Context, eventID string, seats []models.SeatRef, claimantID string) error {
	return inv.releaseSeats(ctx, eventID, seats, claimantID, false)
}

// ReleaseStale reverts only the claimant's seats whose claim TTL has
// passed. The expiry sweep uses it, so a hold whose seats were just
// re-claimed with a fresh expiry keeps them.
func (inv *Inventory) ReleaseStale(ctx context.Context, eventID string, seats []models.SeatRef, claimantID string) error {
	return inv.releaseSeats(ctx, eventID, seats, claimantID, true)
}

func (inv *Inventory) releaseSeats(ctx context.Context, eventID string, seats []models.SeatRef, claimantID string, staleOnly bool) error {
	g, err := inv.grid(eventID)
	if err != nil {
		return err
	}

	ordered := canonicalize(seats)

	if err := g.acquire(ctx, inv.lockWait); err != nil {
		inv.monitor.TrackClaim("release", eventID, "busy")
		return err
	}
	defer g.release()

	now := inv.now()

	g.mu.Lock()
	var released []models.SeatRef
	var cells []models.SeatCell
	for _, ref := range ordered {
		if !g.layout.InBounds(ref) {
			continue
		}
		cell := g.layout.Cell(ref)
		if cell.Status != models.SeatHeld && cell.Status != models.SeatReserved {
			continue
		}
		if cell.ClaimantID != claimantID {
			continue
		}
		if staleOnly && !cell.Stale(now) {
			continue
		}
		cell.Status = models.SeatAvailable
		cell.ClaimantID = ""
		cell.BookingID = ""
		cell.ExpiresAt = nil
		cell.Version++
		released = append(released, ref)
		cells = append(cells, *cell)
	}
	g.mu.Unlock()

	if len(released) > 0 {
		inv.monitor.TrackClaim("release", eventID, "success")
		inv.afterTransition(ctx, eventID, models.SeatAvailable, released, cells, claimantID, now)
	}
	return nil
}

// RestoredSeat re-installs a booked seat recovered from the mirror
// after a restart.
type RestoredSeat struct {
	Seat       models.SeatRef
	ClaimantID string
	BookingID  string
}

func (inv *Inventory) RestoreBooked(eventID string, seats []RestoredSeat) error {
	g, err := inv.grid(eventID)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, rs := range seats {
		if !g.layout.InBounds(rs.Seat) {
			continue
		}
		cell := g.layout.Cell(rs.Seat)
		cell.Status = models.SeatBooked
		cell.ClaimantID = rs.ClaimantID
		cell.BookingID = rs.BookingID
		cell.ExpiresAt = nil
		cell.Version++
	}
	return nil
}

// StatusCounts tallies the grid by status for metrics and the grid
// endpoint summary.
func (inv *Inventory) StatusCounts(eventID string) (map[models.SeatStatus]int, error) {
	g, err := inv.grid(eventID)
	if err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	now := inv.now()
	counts := make(map[models.SeatStatus]int)
	for r := range g.layout.Cells {
		for c := range g.layout.Cells[r] {
			cell := &g.layout.Cells[r][c]
			if cell.Stale(now) {
				counts[models.SeatAvailable]++
				continue
			}
			counts[cell.Status]++
		}
	}
	return counts, nil
}

func (inv *Inventory) afterTransition(ctx context.Context, eventID string, to models.SeatStatus, seats []models.SeatRef, cells []models.SeatCell, claimantID string, ts time.Time) {
	if inv.notifier != nil {
		inv.notifier.Publish(ctx, models.SeatEvent{
			Type:       eventTypeFor(to),
			EventID:    eventID,
			Seats:      seats,
			ClaimantID: claimantID,
			Ts:         ts,
		})
	}

	if inv.mirror != nil {
		if err := inv.mirror.SaveSeats(ctx, eventID, seats, cells); err != nil {
			log.Printf("inventory: seat mirror write failed for event %s: %v", eventID, err)
		}
	}

	if counts, err := inv.StatusCounts(eventID); err == nil {
		for st, n := range counts {
			inv.monitor.SetSeatStatus(eventID, string(st), n)
		}
	}
}

func eventTypeFor(to models.SeatStatus) models.SeatEventType {
	switch to {
	case models.SeatHeld:
		return models.SeatEventHeld
	case models.SeatReserved:
		return models.SeatEventReserved
	case models.SeatBooked:
		return models.SeatEventBooked
	default:
		return models.SeatEventReleased
	}
}

func canonicalize(seats []models.SeatRef) []models.SeatRef {
	ordered := make([]models.SeatRef, len(seats))
	copy(ordered, seats)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Less(ordered[j]) })
	return ordered
}
