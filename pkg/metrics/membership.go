package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	membershipTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gossip_membership_total",
			Help: "Current number of known peers by state",
		},
		[]string{"state"},
	)

	membershipTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gossip_membership_transitions_total",
			Help: "Total number of UP/DOWN state transitions",
		},
		[]string{"to"},
	)

	heartbeatsIgnored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gossip_heartbeats_ignored_total",
			Help: "Total number of inbound heartbeats ignored for being stale",
		},
	)
)

func init() {
	MustRegister(membershipTotal, membershipTransitions, heartbeatsIgnored)
}

// SetMembershipCount reports the current UP/DOWN population sizes.
func SetMembershipCount(state string, count float64) {
	membershipTotal.WithLabelValues(state).Set(count)
}

// RecordMembershipTransition records a state change fired to listeners.
func RecordMembershipTransition(to string) {
	membershipTransitions.WithLabelValues(to).Inc()
}

// RecordHeartbeatIgnored records a stale heartbeat drop.
func RecordHeartbeatIgnored() {
	heartbeatsIgnored.Inc()
}
