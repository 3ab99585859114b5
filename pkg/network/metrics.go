package network

import "github.com/prometheus/client_golang/prometheus"

// Metrics used in monitoring a running NetworkManager.
var (
	connectedPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Number of currently connected peers",
			Name:      "connected_peer_count",
			Namespace: "meridian",
		},
	)
	handshakeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Help:      "Number of handshakes that failed, by reason",
			Name:      "handshake_failures_total",
			Namespace: "meridian",
		},
		[]string{"reason"},
	)
	bytesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Total bytes read from peer sockets",
			Name:      "bytes_received_total",
			Namespace: "meridian",
		},
	)
	bytesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Total bytes written to peer sockets",
			Name:      "bytes_sent_total",
			Namespace: "meridian",
		},
	)
	broadcastDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Help:      "Wall-clock duration of a full broadcast fan-out",
			Name:      "broadcast_duration_seconds",
			Namespace: "meridian",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// RegisterMetrics adds every network metric to reg. Call once per process;
// this package never registers itself on import so a caller embedding it
// into a larger node can control the registry (or skip metrics entirely —
// §1 Non-goals excludes an HTTP /metrics exposer from this package).
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		connectedPeers, handshakeFailures, bytesReceived, bytesSent, broadcastDuration,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
