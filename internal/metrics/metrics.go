package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drip_messages_total",
			Help: "Funnel delivery attempts by outcome",
		},
		[]string{"outcome"}, // sent|failed
	)

	EnrollmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drip_enrollments_total",
			Help: "Enrollment requests by result",
		},
		[]string{"result"}, // enrolled|duplicate|invalid
	)

	PassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drip_passes_total",
			Help: "Funnel passes by result",
		},
		[]string{"result"}, // processed|skipped|locked|error
	)

	PassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drip_pass_duration_seconds",
			Help:    "Duration of a single funnel pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	registerOnce sync.Once
)

// MustRegister registers collectors once; serve and workers may both call it.
func MustRegister(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(
			MessagesTotal,
			EnrollmentsTotal,
			PassesTotal,
			PassDuration,
		)
	})
}
