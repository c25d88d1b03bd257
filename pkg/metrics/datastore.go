package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	dataEntriesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gossip_data_entries_total",
			Help: "Current number of entries held by the data store",
		},
		[]string{"kind"}, // per_node | shared
	)

	dataWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gossip_data_writes_total",
			Help: "Total number of accepted or dropped writes to the data store",
		},
		[]string{"kind", "result"}, // result: accepted | dropped_stale | merged
	)

	reaperEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gossip_reaper_evictions_total",
			Help: "Total number of expired entries evicted by the reaper",
		},
		[]string{"kind"},
	)
)

func init() {
	MustRegister(dataEntriesTotal, dataWritesTotal, reaperEvictionsTotal)
}

// SetDataEntries reports the current size of a data store map.
func SetDataEntries(kind string, count float64) {
	dataEntriesTotal.WithLabelValues(kind).Set(count)
}

// RecordDataWrite records the outcome of an addPerNode/addShared/merge call.
func RecordDataWrite(kind, result string) {
	dataWritesTotal.WithLabelValues(kind, result).Inc()
}

// RecordReaperEviction records one entry removed by the reaper sweep.
func RecordReaperEviction(kind string) {
	reaperEvictionsTotal.WithLabelValues(kind).Inc()
}
