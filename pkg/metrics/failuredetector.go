package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	phiObserved = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gossip_phi_value",
			Help:    "Observed phi suspicion score at state-refresh time",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
		},
		[]string{},
	)

	arrivalsReported = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gossip_failure_detector_arrivals_total",
			Help: "Total number of inter-arrival samples reported to the failure detector",
		},
	)
)

func init() {
	MustRegister(phiObserved, arrivalsReported)
}

// ObservePhi records a phi score computed for some peer.
func ObservePhi(v float64) {
	phiObserved.WithLabelValues().Observe(v)
}

// RecordArrival records a reported inter-arrival sample.
func RecordArrival() {
	arrivalsReported.Inc()
}
