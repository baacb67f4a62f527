package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	seatStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "seat_status_total",
			Help: "Current number of seats per event and status",
		},
		[]string{"event_id", "status"},
	)

	claimOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claim_operations_total",
			Help: "Total batch claim operations",
		},
		[]string{"operation", "event_id", "status"},
	)

	activeHolds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "active_holds_total",
			Help: "Current number of unexpired holds per event",
		},
		[]string{"event_id"},
	)

	sweepExpirations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_expirations_total",
			Help: "Holds and pending bookings expired by the sweep",
		},
		[]string{"event_id", "kind"},
	)

	holdDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hold_duration_seconds",
			Help:    "Lifetime of holds from claim to conversion or release",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"event_id"},
	)
)

// Monitor is the metrics sink shared by the engine services. A nil
// Monitor is valid and drops everything, which keeps tests quiet.
type Monitor struct{}

func NewMonitor() *Monitor {
	return &Monitor{}
}

func (m *Monitor) TrackClaim(operation, eventID, status string) {
	if m == nil {
		return
	}
	claimOperations.WithLabelValues(operation, eventID, status).Inc()
}

func (m *Monitor) SetSeatStatus(eventID, status string, count int) {
	if m == nil {
		return
	}
	seatStatus.WithLabelValues(eventID, status).Set(float64(count))
}

func (m *Monitor) SetActiveHolds(eventID string, count int) {
	if m == nil {
		return
	}
	activeHolds.WithLabelValues(eventID).Set(float64(count))
}

func (m *Monitor) TrackSweepExpiration(eventID, kind string) {
	if m == nil {
		return
	}
	sweepExpirations.WithLabelValues(eventID, kind).Inc()
}

func (m *Monitor) TrackHoldDuration(eventID string, d time.Duration) {
	if m == nil {
		return
	}
	holdDuration.WithLabelValues(eventID).Observe(d.Seconds())
}
