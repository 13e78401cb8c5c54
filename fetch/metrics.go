package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the fetch counters shared by the coordinators of a viewer.
type Metrics struct {
	ElementFetches  prometheus.Counter
	CentroidFetches prometheus.Counter
	Errors          *prometheus.CounterVec
	InFlight        prometheus.Gauge
	Duration        *prometheus.HistogramVec
}

// NewMetrics creates the fetch metrics and registers them on reg. A nil reg
// leaves them unregistered. Registering twice on the same registerer
// panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ElementFetches: f.NewCounter(prometheus.CounterOpts{
			Name: "annot_element_fetches_total",
			Help: "Total number of element queries issued",
		}),
		CentroidFetches: f.NewCounter(prometheus.CounterOpts{
			Name: "annot_centroid_fetches_total",
			Help: "Total number of centroid summary fetches issued",
		}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "annot_fetch_errors_total",
			Help: "Failed fetches by kind and cause",
		}, []string{"kind", "cause"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "annot_fetches_in_flight",
			Help: "Number of outstanding fetches",
		}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "annot_fetch_duration_seconds",
			Help:    "Duration of fetch calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"kind"}),
	}
}
