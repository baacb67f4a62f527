package realtime

import (
	"context"
	"fmt"
	"log"

	pubnub "github.com/pubnub/go"

	"seat-booking/models"
	"seat-booking/utils"
)

// PubNubNotifier forwards every seat event to the per-event PubNub
// channel on top of local hub delivery, so seat pickers on other
// instances see the same stream. A circuit breaker keeps a degraded
// PubNub connection from slowing down claims.
type PubNubNotifier struct {
	hub     *Hub
	pn      *pubnub.PubNub
	breaker *utils.CircuitBreaker
}

func NewPubNubNotifier(hub *Hub, pn *pubnub.PubNub) *PubNubNotifier {
	return &PubNubNotifier{
		hub:     hub,
		pn:      pn,
		breaker: utils.NewCircuitBreaker("pubnub-publish"),
	}
}

func (n *PubNubNotifier) Publish(ctx context.Context, ev models.SeatEvent) {
	n.hub.Publish(ctx, ev)

	seats := make([]string, len(ev.Seats))
	for i, s := range ev.Seats {
		seats[i] = s.String()
	}

	err := n.breaker.Do(func() error {
		channel := fmt.Sprintf("event-%s", ev.EventID)
		_, _, err := n.pn.Publish().
			Channel(channel).
			Message(map[string]any{
				"type":        string(ev.Type),
				"event_id":    ev.EventID,
				"seats":       seats,
				"claimant_id": ev.ClaimantID,
				"ts":          ev.Ts.Unix(),
			}).
			Execute()
		return err
	})
	if err != nil {
		log.Printf("realtime: pubnub publish failed for event %s: %v", ev.EventID, err)
	}
}

func (n *PubNubNotifier) Subscribe(eventID string) *Subscription {
	return n.hub.Subscribe(eventID)
}

func (n *PubNubNotifier) Close() {
	n.hub.Close()
	n.pn.UnsubscribeAll()
}
