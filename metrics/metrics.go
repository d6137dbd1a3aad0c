// Package metrics provides Prometheus metrics for sshexplorer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	listingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sshexplorer_listings_total",
			Help: "Total number of remote directory listings",
		},
		[]string{"status"},
	)

	transfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sshexplorer_transfers_total",
			Help: "Total number of whole-file transfers",
		},
		[]string{"direction", "status"},
	)

	transferBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sshexplorer_transfer_bytes_total",
			Help: "Total bytes moved by completed transfers",
		},
		[]string{"direction"},
	)

	connectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sshexplorer_connects_total",
			Help: "Total number of connection attempts",
		},
		[]string{"status"},
	)

	trustDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sshexplorer_trust_decisions_total",
			Help: "Host key verification outcomes",
		},
		[]string{"outcome"},
	)

	connected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sshexplorer_connected",
			Help: "1 if the last liveness check succeeded",
		},
	)

	treeNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sshexplorer_tree_nodes",
			Help: "Number of nodes held by the remote directory cache",
		},
	)
)

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// RecordListing records the outcome of a directory listing.
func RecordListing(ok bool) {
	listingsTotal.WithLabelValues(status(ok)).Inc()
}

// RecordTransfer records a download or upload and, on success, its size.
func RecordTransfer(direction string, ok bool, bytes int64) {
	transfersTotal.WithLabelValues(direction, status(ok)).Inc()
	if ok && bytes > 0 {
		transferBytes.WithLabelValues(direction).Add(float64(bytes))
	}
}

// RecordConnect records the outcome of a connection attempt.
func RecordConnect(ok bool) {
	connectsTotal.WithLabelValues(status(ok)).Inc()
}

// RecordTrust records a host key verification outcome.
func RecordTrust(outcome string) {
	trustDecisions.WithLabelValues(outcome).Inc()
}

// SetConnected sets the liveness gauge.
func SetConnected(up bool) {
	if up {
		connected.Set(1)
	} else {
		connected.Set(0)
	}
}

// SetTreeNodes sets the cache size gauge.
func SetTreeNodes(n int) {
	treeNodes.Set(float64(n))
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
