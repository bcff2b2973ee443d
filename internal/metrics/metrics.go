package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsStoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citysync_events_stored_total",
			Help: "Sync events appended to the event log by type",
		},
		[]string{"type"}, // CREATED|UPDATED|DELETED|ACTIVATED|DEACTIVATED
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citysync_deliveries_total",
			Help: "Outbound event deliveries by endpoint, path and outcome",
		},
		[]string{"endpoint", "path", "outcome"}, // publish|replay|resync , ok|failed|skipped
	)

	DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "citysync_delivery_duration_seconds",
			Help:    "Latency of single event deliveries",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"endpoint"},
	)

	EndpointUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "citysync_endpoint_up",
			Help: "1 if the last health probe of the endpoint succeeded",
		},
		[]string{"endpoint"},
	)

	IngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citysync_ingested_total",
			Help: "Events received by the reference receiver by result",
		},
		[]string{"result"}, // applied|duplicate|stale|rejected
	)
)

var once sync.Once

// MustRegister registers every collector once; later calls are no-ops.
func MustRegister(r prometheus.Registerer) {
	once.Do(func() {
		r.MustRegister(
			EventsStoredTotal,
			DeliveriesTotal,
			DeliveryDuration,
			EndpointUp,
			IngestedTotal,
		)
	})
}
