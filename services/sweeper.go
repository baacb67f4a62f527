package services

import (
	"context"
	"log"
	"sync"
	"time"
)

// Sweeper is the centralized expiry loop: one goroutine for all events
// and all holds, instead of one timer per claim. Expiry is also
// re-checked lazily on every read, so a delayed tick can never cause a
// stale hold to be honored.
type Sweeper struct {
	holds    *HoldManager
	ledger   *Ledger
	interval time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewSweeper(holds *HoldManager, ledger *Ledger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sweeper{
		holds:    holds,
		ledger:   ledger,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
	log.Println("Expiry sweeper started")
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stopChan:
			log.Println("Expiry sweeper stopping")
			return
		}
	}
}

// Sweep runs one expiry pass. Bookings first so a pending booking and
// its reservation retire together, then any leftover stale holds.
func (s *Sweeper) Sweep(ctx context.Context) {
	expiredBookings := s.ledger.ExpireStale(ctx)
	expiredHolds := s.holds.ExpireStale(ctx)

	if expiredBookings > 0 || expiredHolds > 0 {
		log.Printf("Sweep expired %d bookings, %d holds", expiredBookings, expiredHolds)
	}
}

// Shutdown stops the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Shutdown() {
	close(s.stopChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Println("Timeout waiting for sweeper to stop")
	}
}
