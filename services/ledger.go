package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"seat-booking/internal/status"
	"seat-booking/models"
	"seat-booking/monitoring"
	"seat-booking/utils"
)

// BookingMirror receives best-effort copies of booking records.
type BookingMirror interface {
	SaveBooking(ctx context.Context, b *models.Booking) error
}

const bookingNumberAttempts = 5

// Ledger owns the booking lifecycle and the capacity bookkeeping
// around it. Confirm re-checks expiry inside the same critical section
// it uses to transition, so a booking that just expired can never be
// confirmed even when the sweep fires concurrently.
type Ledger struct {
	inv     *Inventory
	holds   *HoldManager
	mirror  BookingMirror
	monitor *monitoring.Monitor

	mu       sync.Mutex
	bookings map[string]*models.Booking
	byNumber map[string]string
	events   map[string]*models.Event

	checkoutTTL time.Duration
	now         func() time.Time
}

func NewLedger(inv *Inventory, holds *HoldManager, mirror BookingMirror, monitor *monitoring.Monitor, checkoutTTL time.Duration) *Ledger {
	if checkoutTTL <= 0 {
		checkoutTTL = DefaultHoldTTL
	}
	return &Ledger{
		inv:         inv,
		holds:       holds,
		mirror:      mirror,
		monitor:     monitor,
		bookings:    make(map[string]*models.Booking),
		byNumber:    make(map[string]string),
		events:      make(map[string]*models.Event),
		checkoutTTL: checkoutTTL,
		now:         time.Now,
	}
}

// RegisterEvent installs the read-mostly event inputs: capacity and
// the fixed category price list.
func (l *Ledger) RegisterEvent(ev *models.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := *ev
	l.events[ev.ID] = &cp
}

// Event returns a copy of the event bookkeeping, including the current
// ticketsSold counter.
func (l *Ledger) Event(eventID string) (*models.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev, ok := l.events[eventID]
	if !ok {
		return nil, status.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

// CreatePendingBooking converts the claimant's hold into a reservation
// attached to a new pending booking. The total is recomputed from the
// event's current price list; client-submitted prices are never
// trusted.
func (l *Ledger) CreatePendingBooking(ctx context.Context, eventID, userID, holdID string) (*models.Booking, error) {
	if eventID == "" || userID == "" || holdID == "" {
		return nil, status.ErrValidation
	}

	hold, err := l.holds.Get(holdID)
	if err != nil {
		return nil, status.ErrNoActiveHold
	}
	if hold.EventID != eventID || hold.ClaimantID != userID {
		return nil, status.ErrNoActiveHold
	}
	if hold.State != HoldActive {
		return nil, status.ErrNoActiveHold
	}

	now := l.now()

	l.mu.Lock()
	ev, ok := l.events[eventID]
	if !ok {
		l.mu.Unlock()
		return nil, status.ErrNotFound
	}
	if err := l.checkCapacityLocked(ev, hold.Seats, now); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	number, err := l.allocateNumberLocked(now)
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}
	l.mu.Unlock()

	bookingID, err := utils.GenerateCode(8)
	if err != nil {
		return nil, fmt.Errorf("booking: generating id: %w", err)
	}
	bookingID = strings.ToLower(bookingID)

	converted, expiresAt, err := l.holds.ConvertToReservation(ctx, holdID, userID, bookingID, l.checkoutTTL)
	if err != nil {
		l.releaseNumber(number)
		return nil, err
	}

	seats, total, err := l.priceSeats(eventID, converted.Seats)
	if err != nil {
		// Pricing failed after the seats were reserved; give them back
		// rather than strand the reservation.
		l.releaseNumber(number)
		if relErr := l.inv.Release(ctx, eventID, converted.Seats, userID); relErr != nil {
			log.Printf("booking: releasing unpriceable reservation %s: %v", bookingID, relErr)
		}
		return nil, err
	}

	booking := &models.Booking{
		ID:            bookingID,
		EventID:       eventID,
		UserID:        userID,
		Seats:         seats,
		TotalPrice:    total,
		Status:        models.BookingPending,
		BookingNumber: number,
		ExpiresAt:     &expiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	l.mu.Lock()
	// Re-check capacity now that the seats are reserved: two creates
	// racing past the first check must not both land. The event entry
	// is re-fetched in case it was re-registered meanwhile.
	ev, ok = l.events[eventID]
	if !ok {
		delete(l.byNumber, number)
		l.mu.Unlock()
		if relErr := l.inv.Release(ctx, eventID, converted.Seats, userID); relErr != nil {
			log.Printf("booking: releasing reservation %s for deregistered event: %v", bookingID, relErr)
		}
		return nil, status.ErrNotFound
	}
	if err := l.checkCapacityLocked(ev, converted.Seats, now); err != nil {
		delete(l.byNumber, number)
		l.mu.Unlock()
		if relErr := l.inv.Release(ctx, eventID, converted.Seats, userID); relErr != nil {
			log.Printf("booking: releasing over-capacity reservation %s: %v", bookingID, relErr)
		}
		return nil, err
	}
	l.bookings[bookingID] = booking
	l.byNumber[number] = bookingID
	cp := *booking
	l.mu.Unlock()

	l.saveMirror(ctx, &cp)
	return &cp, nil
}

// Confirm moves a pending, unexpired booking to confirmed, its seats
// reserved->booked, and bumps ticketsSold, all in one critical
// section. A booking past its TTL is cancelled instead and reported
// Expired.
func (l *Ledger) Confirm(ctx context.Context, bookingID, paymentRef string) (*models.Booking, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.bookings[bookingID]
	if !ok {
		return nil, status.ErrNotFound
	}

	switch b.Status {
	case models.BookingConfirmed:
		return nil, status.ErrAlreadyConfirmed
	case models.BookingCancelled:
		return nil, status.ErrAlreadyCancelled
	}

	if b.Expired(now) {
		// The sweep lost the race; finish its job and report failure.
		l.cancelLocked(ctx, b, "expired", now)
		return nil, status.ErrExpired
	}

	err := l.inv.TryClaim(ctx, Claim{
		EventID:    b.EventID,
		Seats:      b.SeatRefs(),
		From:       []models.SeatStatus{models.SeatReserved},
		To:         models.SeatBooked,
		ClaimantID: b.UserID,
		BookingID:  b.ID,
	})
	if err != nil {
		return nil, err
	}

	b.Status = models.BookingConfirmed
	b.PaymentRef = paymentRef
	b.ExpiresAt = nil
	b.UpdatedAt = now

	if ev, ok := l.events[b.EventID]; ok {
		ev.TicketsSold += len(b.Seats)
	}

	cp := *b
	l.saveMirror(ctx, &cp)
	return &cp, nil
}

// Cancel retires a pending booking and frees its seats. Confirmed
// bookings cannot be cancelled here; refunds are a separate flow.
func (l *Ledger) Cancel(ctx context.Context, bookingID, reason string) (*models.Booking, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.bookings[bookingID]
	if !ok {
		return nil, status.ErrNotFound
	}

	switch b.Status {
	case models.BookingConfirmed:
		return nil, status.ErrAlreadyConfirmed
	case models.BookingCancelled:
		return nil, status.ErrAlreadyCancelled
	}

	l.cancelLocked(ctx, b, reason, now)
	cp := *b
	return &cp, nil
}

// GetBooking resolves by internal id first, then by the public
// booking number.
func (l *Ledger) GetBooking(idOrNumber string) (*models.Booking, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.bookings[idOrNumber]
	if !ok {
		id, found := l.byNumber[idOrNumber]
		if !found || id == "" {
			// An empty id is a number reserved by an in-flight create;
			// its booking record does not exist yet.
			return nil, status.ErrNotFound
		}
		b = l.bookings[id]
	}

	cp := *b
	// Lazy expiry on read: a pending booking past its TTL reports as
	// cancelled even before the sweep gets to it.
	if cp.Expired(l.now()) {
		cp.Status = models.BookingCancelled
		cp.CancelReason = "expired"
	}
	return &cp, nil
}

// ExpireStale cancels every pending booking past its TTL and releases
// its seats. Confirm and the sweep serialize on the ledger lock, so
// each booking reaches exactly one terminal state.
func (l *Ledger) ExpireStale(ctx context.Context) int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, b := range l.bookings {
		if b.Expired(now) {
			l.cancelLocked(ctx, b, "expired", now)
			l.monitor.TrackSweepExpiration(b.EventID, "booking")
			n++
		}
	}
	return n
}

// cancelLocked flips the booking and frees its seats. Callers hold
// l.mu and have verified the booking is pending.
func (l *Ledger) cancelLocked(ctx context.Context, b *models.Booking, reason string, now time.Time) {
	b.Status = models.BookingCancelled
	b.CancelReason = reason
	b.ExpiresAt = nil
	b.UpdatedAt = now

	if err := l.inv.Release(ctx, b.EventID, b.SeatRefs(), b.UserID); err != nil {
		log.Printf("booking: releasing seats of cancelled booking %s: %v", b.ID, err)
	}

	cp := *b
	l.saveMirror(ctx, &cp)
}

// checkCapacityLocked rejects a booking that would push confirmed plus
// unexpired-pending seats past the event capacity or a category cap.
func (l *Ledger) checkCapacityLocked(ev *models.Event, seats []models.SeatRef, now time.Time) error {
	pending := 0
	pendingByCategory := make(map[string]int)
	for _, b := range l.bookings {
		if b.EventID != ev.ID {
			continue
		}
		if b.Status == models.BookingPending && !b.Expired(now) {
			pending += len(b.Seats)
			for _, s := range b.Seats {
				pendingByCategory[s.CategoryID]++
			}
		}
	}

	if ev.Capacity > 0 && ev.TicketsSold+pending+len(seats) > ev.Capacity {
		return status.ErrCapacity
	}

	requested := make(map[string]int)
	for _, ref := range seats {
		cell, err := l.inv.GetSeat(ev.ID, ref)
		if err != nil {
			return err
		}
		requested[cell.CategoryID]++
	}

	for categoryID, count := range requested {
		limit := ev.LimitFor(categoryID)
		if limit <= 0 {
			continue
		}
		sold := l.confirmedByCategoryLocked(ev.ID, categoryID)
		if sold+pendingByCategory[categoryID]+count > limit {
			return status.ErrCapacity
		}
	}
	return nil
}

func (l *Ledger) confirmedByCategoryLocked(eventID, categoryID string) int {
	n := 0
	for _, b := range l.bookings {
		if b.EventID != eventID || b.Status != models.BookingConfirmed {
			continue
		}
		for _, s := range b.Seats {
			if s.CategoryID == categoryID {
				n++
			}
		}
	}
	return n
}

func (l *Ledger) priceSeats(eventID string, refs []models.SeatRef) ([]models.BookingSeat, decimal.Decimal, error) {
	ev, err := l.Event(eventID)
	if err != nil {
		return nil, decimal.Decimal{}, err
	}

	seats := make([]models.BookingSeat, 0, len(refs))
	total := decimal.Zero
	for _, ref := range refs {
		cell, err := l.inv.GetSeat(eventID, ref)
		if err != nil {
			return nil, decimal.Decimal{}, err
		}
		price, ok := ev.PriceFor(cell.CategoryID, cell.SubcategoryID)
		if !ok {
			return nil, decimal.Decimal{}, fmt.Errorf("booking: no price for category %q: %w", cell.CategoryID, status.ErrValidation)
		}
		seats = append(seats, models.BookingSeat{
			Seat:          ref,
			CategoryID:    cell.CategoryID,
			SubcategoryID: cell.SubcategoryID,
			Price:         price,
		})
		total = total.Add(price)
	}
	return seats, total, nil
}

// allocateNumberLocked reserves a fresh public booking number in the
// BK<YY><MM>-<4 digits> format, retrying on collision a bounded number
// of times.
func (l *Ledger) allocateNumberLocked(now time.Time) (string, error) {
	prefix := fmt.Sprintf("BK%02d%02d", now.Year()%100, int(now.Month()))

	for attempt := 0; attempt < bookingNumberAttempts; attempt++ {
		digits, err := utils.GenerateDigits(4)
		if err != nil {
			return "", fmt.Errorf("booking: generating number: %w", err)
		}
		number := fmt.Sprintf("%s-%s", prefix, digits)
		if _, taken := l.byNumber[number]; taken {
			continue
		}
		// Reserve immediately so a concurrent create cannot race to
		// the same number before the booking record lands.
		l.byNumber[number] = ""
		return number, nil
	}
	return "", status.ErrNumberExhausted
}

func (l *Ledger) releaseNumber(number string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id, ok := l.byNumber[number]; ok && id == "" {
		delete(l.byNumber, number)
	}
}

func (l *Ledger) saveMirror(ctx context.Context, b *models.Booking) {
	if l.mirror == nil {
		return
	}
	if err := l.mirror.SaveBooking(ctx, b); err != nil {
		log.Printf("booking: mirror write failed for %s: %v", b.ID, err)
	}
}
