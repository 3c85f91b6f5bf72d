// Package metrics exposes Prometheus instrumentation for the supervisor:
// running-server gauges, NAT install failures, and coalesced-event
// emission counts. Grounded on pkg/metrics/metrics.go's package-scope
// prometheus.New* variable declarations and promhttp.Handler() wiring.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ServersRunning reports the number of servers currently in each
	// RuntimeState status.
	ServersRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vpnsupervisor_servers_running",
			Help: "Number of servers by run status",
		},
		[]string{"status"},
	)

	// NATInstallFailuresTotal counts Plumber.Install failures.
	NATInstallFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vpnsupervisor_nat_install_failures_total",
			Help: "Total number of NAT rule install failures",
		},
	)

	// CoalescedEventsTotal counts emissions from the Event Coalescer, by
	// event type.
	CoalescedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vpnsupervisor_coalesced_events_total",
			Help: "Total number of coalesced events emitted, by type",
		},
		[]string{"type"},
	)

	// HandshakeTimeoutsTotal counts lifecycle operations that failed to
	// observe the supervisor's handshake within THREAD_EVENT_TIMEOUT.
	HandshakeTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vpnsupervisor_handshake_timeouts_total",
			Help: "Total number of handshake wait timeouts, by operation",
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(
		ServersRunning,
		NATInstallFailuresTotal,
		CoalescedEventsTotal,
		HandshakeTimeoutsTotal,
	)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
