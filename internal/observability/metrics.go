package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	datagramsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkctl",
			Subsystem: "transport",
			Name:      "datagrams_sent_total",
			Help:      "Datagrams written to the socket.",
		},
		[]string{"node"},
	)
	datagramsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkctl",
			Subsystem: "transport",
			Name:      "datagrams_received_total",
			Help:      "Datagrams read from the socket.",
		},
		[]string{"node"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkctl",
			Subsystem: "transport",
			Name:      "frames_dropped_total",
			Help:      "Inbound datagrams discarded before dispatch.",
		},
		[]string{"node", "reason"},
	)
	sendQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "linkctl",
			Subsystem: "transport",
			Name:      "send_queue_depth",
			Help:      "Packets waiting in the outbound queue.",
		},
		[]string{"node"},
	)
	connectedPeers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "linkctl",
			Subsystem: "controller",
			Name:      "connected_peers",
			Help:      "Peer records currently tracked by the registry.",
		},
		[]string{"node"},
	)
	negotiations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkctl",
			Subsystem: "controller",
			Name:      "negotiations_total",
			Help:      "Negotiation requests handled, by outcome.",
		},
		[]string{"node", "outcome"},
	)
	evictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkctl",
			Subsystem: "controller",
			Name:      "evictions_total",
			Help:      "Peer records removed by the sweeper.",
		},
		[]string{"node"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "linkctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			datagramsSent, datagramsReceived, framesDropped, sendQueueDepth,
			connectedPeers, negotiations, evictions,
			httpRequests, httpDuration,
		)
	})
}

func RecordDatagramSent(node string) {
	RegisterMetrics()
	datagramsSent.WithLabelValues(node).Inc()
}

func RecordDatagramReceived(node string) {
	RegisterMetrics()
	datagramsReceived.WithLabelValues(node).Inc()
}

func RecordFrameDropped(node, reason string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(node, reason).Inc()
}

func SetSendQueueDepth(node string, depth int) {
	RegisterMetrics()
	sendQueueDepth.WithLabelValues(node).Set(float64(depth))
}

func SetConnectedPeers(node string, count int) {
	RegisterMetrics()
	connectedPeers.WithLabelValues(node).Set(float64(count))
}

func RecordNegotiation(node, outcome string) {
	RegisterMetrics()
	negotiations.WithLabelValues(node, outcome).Inc()
}

func RecordEviction(node string) {
	RegisterMetrics()
	evictions.WithLabelValues(node).Inc()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
