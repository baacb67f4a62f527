package realtime

import (
	"context"
	"log"
	"sync"

	"seat-booking/models"
)

// Notifier broadcasts seat-state changes to viewers of an event.
// Delivery is best-effort: a dropped message is never the sole source
// of truth, viewers reconcile against the grid endpoint.
type Notifier interface {
	Publish(ctx context.Context, ev models.SeatEvent)
	Subscribe(eventID string) *Subscription
	Close()
}

// Subscription is one viewer's stream of seat events. Events arrive on
// C until Unsubscribe or Notifier shutdown closes it.
type Subscription struct {
	C      <-chan models.SeatEvent
	cancel func()
}

func (s *Subscription) Unsubscribe() {
	s.cancel()
}

const subscriberBuffer = 64

// Hub is the in-process notifier. It fans each event's changes out to
// local subscribers; slow subscribers lose messages rather than block
// the claim path.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan models.SeatEvent
	nextID int
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan models.SeatEvent)}
}

func (h *Hub) Publish(ctx context.Context, ev models.SeatEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	for id, ch := range h.subs[ev.EventID] {
		select {
		case ch <- ev:
		default:
			log.Printf("realtime: dropping seat event for slow subscriber %d on event %s", id, ev.EventID)
		}
	}
}

func (h *Hub) Subscribe(eventID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan models.SeatEvent, subscriberBuffer)
	if h.closed {
		close(ch)
		return &Subscription{C: ch, cancel: func() {}}
	}

	h.nextID++
	id := h.nextID
	if h.subs[eventID] == nil {
		h.subs[eventID] = make(map[int]chan models.SeatEvent)
	}
	h.subs[eventID][id] = ch

	return &Subscription{
		C: ch,
		cancel: func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs, ok := h.subs[eventID]; ok {
				if c, ok := subs[id]; ok {
					delete(subs, id)
					close(c)
				}
				if len(subs) == 0 {
					delete(h.subs, eventID)
				}
			}
		},
	}
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for eventID, subs := range h.subs {
		for id, ch := range subs {
			delete(subs, id)
			close(ch)
		}
		delete(h.subs, eventID)
	}
}
