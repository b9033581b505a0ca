package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wser",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served by the listener.",
		},
		[]string{"role", "method", "path", "status"},
	)
	transmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wser",
			Name:      "transmissions_total",
			Help:      "Protocol transmissions by direction and kind.",
		},
		[]string{"direction", "kind"},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wser",
			Name:      "frames_total",
			Help:      "WebSocket framing frames by direction and kind.",
		},
		[]string{"direction", "kind"},
	)
	reassemblyAborts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wser",
			Name:      "reassembly_aborts_total",
			Help:      "Segmented messages discarded before delivery.",
		},
		[]string{"reason"},
	)
	invocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wser",
			Name:      "invocations_total",
			Help:      "Outbound command invocations by terminal outcome.",
		},
		[]string{"command", "outcome"},
	)
	invocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wser",
			Name:      "invocation_duration_seconds",
			Help:      "Outbound command invocation latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"command", "outcome"},
	)
	peersConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "wser",
			Name:      "peers_connected",
			Help:      "Currently connected peers by role.",
		},
		[]string{"role"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			transmissions,
			frames,
			reassemblyAborts,
			invocations,
			invocationDuration,
			peersConnected,
		)
	})
}

func RecordHTTPRequest(role, method, path string, status int) {
	RegisterMetrics()
	httpRequests.WithLabelValues(role, method, path, strconv.Itoa(status)).Inc()
}

func RecordTransmission(direction, kind string) {
	RegisterMetrics()
	transmissions.WithLabelValues(direction, kind).Inc()
}

func RecordFrame(direction, kind string) {
	RegisterMetrics()
	frames.WithLabelValues(direction, kind).Inc()
}

func RecordReassemblyAbort(reason string) {
	RegisterMetrics()
	reassemblyAborts.WithLabelValues(reason).Inc()
}

func RecordInvocation(command, outcome string, duration time.Duration) {
	RegisterMetrics()
	invocations.WithLabelValues(command, outcome).Inc()
	invocationDuration.WithLabelValues(command, outcome).Observe(duration.Seconds())
}

func PeerConnected(role string) {
	RegisterMetrics()
	peersConnected.WithLabelValues(role).Inc()
}

func PeerDisconnected(role string) {
	RegisterMetrics()
	peersConnected.WithLabelValues(role).Dec()
}
