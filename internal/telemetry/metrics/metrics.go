// Package metrics instruments the replica with Prometheus counters and
// gauges, grounded on thenexusengine's internal/metrics package in the
// retrieval pack. This is purely an ambient diagnostic surface: spec.md
// names observability as an out-of-scope collaborator, but the ambient
// stack is carried regardless (see SPEC_FULL.md §A3).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge exported by a replica process.
type Metrics struct {
	BidsTotal              *prometheus.CounterVec
	ElectionsTotal         prometheus.Counter
	HeartbeatsSentTotal    prometheus.Counter
	HeartbeatsMissedTotal  prometheus.Counter
	SyncFramesSentTotal    prometheus.Counter
	SessionsCompletedTotal prometheus.Counter
	CurrentHighBid         prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics under the given namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "auctionring"
	}
	m := &Metrics{
		BidsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bids_total",
			Help:      "Bids processed by outcome.",
		}, []string{"outcome"}),
		ElectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "elections_total",
			Help:      "Leader elections run by this replica.",
		}),
		HeartbeatsSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_sent_total",
			Help:      "Heartbeat frames sent while leader.",
		}),
		HeartbeatsMissedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_missed_total",
			Help:      "Heartbeat timeouts detected on a follower.",
		}),
		SyncFramesSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_frames_sent_total",
			Help:      "SYNC_ESTADO replication frames sent as leader.",
		}),
		SessionsCompletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_completed_total",
			Help:      "Auction sessions that reached Completed.",
		}),
		CurrentHighBid: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_high_bid",
			Help:      "High bid last applied from a peer's SYNC_ESTADO frame; local bids, full-state syncs and session resets do not update it.",
		}),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		m.BidsTotal,
		m.ElectionsTotal,
		m.HeartbeatsSentTotal,
		m.HeartbeatsMissedTotal,
		m.SyncFramesSentTotal,
		m.SessionsCompletedTotal,
		m.CurrentHighBid,
	)
	m.registry = reg
	return m
}

// Handler returns an HTTP handler serving this Metrics' registry. Wired
// behind --metrics-addr in cmd/replica; never shares a listener with the
// bidder-facing or peer-facing sockets.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
