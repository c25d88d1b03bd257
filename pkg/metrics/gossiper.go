package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	pushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gossip_pushes_total",
			Help: "Total number of outbound gossip pushes by tier and kind",
		},
		[]string{"tier", "kind"}, // tier: rack|dc|remote|flat|dead
	)

	workerPoolDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gossip_worker_pool_dropped_total",
			Help: "Total number of push tasks discarded by the drop-oldest overflow policy",
		},
	)

	workerPoolDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gossip_worker_pool_depth",
			Help: "Current number of queued push tasks",
		},
	)
)

func init() {
	MustRegister(pushesTotal, workerPoolDropped, workerPoolDepth)
}

// RecordPush records one outbound push by tier and payload kind.
func RecordPush(tier, kind string) {
	pushesTotal.WithLabelValues(tier, kind).Inc()
}

// RecordWorkerPoolDrop records a drop-oldest overflow event.
func RecordWorkerPoolDrop() {
	workerPoolDropped.Inc()
}

// SetWorkerPoolDepth reports the current queue depth.
func SetWorkerPoolDepth(depth float64) {
	workerPoolDepth.Set(depth)
}
