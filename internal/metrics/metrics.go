package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	locationPings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mealroute",
			Name:      "location_pings_total",
			Help:      "Count of driver location pings accepted.",
		},
	)

	etaRecalcs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mealroute",
			Name:      "eta_recalc_total",
			Help:      "Count of route ETA recalculations by outcome.",
		},
		[]string{"outcome"},
	)

	bookings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mealroute",
			Name:      "booking_total",
			Help:      "Count of delivery window bookings by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(locationPings, etaRecalcs, bookings)
	})
}

func IncPing() {
	locationPings.Inc()
}

func IncRecalc(outcome string) {
	etaRecalcs.WithLabelValues(outcome).Inc()
}

func IncBooking(outcome string) {
	bookings.WithLabelValues(outcome).Inc()
}
