package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	arbiterMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callmux",
			Subsystem: "arbiter",
			Name:      "messages_total",
			Help:      "Messages read off the transport, by kind and outcome.",
		},
		[]string{"arbiter", "kind", "outcome"},
	)
	arbiterPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "callmux",
			Subsystem: "arbiter",
			Name:      "pending_calls",
			Help:      "Calls registered and awaiting a reply.",
		},
		[]string{"arbiter"},
	)
	arbiterCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callmux",
			Subsystem: "arbiter",
			Name:      "calls_total",
			Help:      "Completed calls by result.",
		},
		[]string{"arbiter", "result"},
	)
	arbiterCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "callmux",
			Subsystem: "arbiter",
			Name:      "call_duration_seconds",
			Help:      "Time from register to outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"arbiter", "result"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callmux",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "callmux",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

// Message outcomes recorded by the receive loop.
const (
	OutcomeDelivered = "delivered"
	OutcomeResolved  = "resolved"
	OutcomeUnmatched = "unmatched"
	OutcomeMalformed = "malformed"
)

// Call results.
const (
	ResultOK      = "ok"
	ResultRemote  = "remote_error"
	ResultTimeout = "timeout"
	ResultClosed  = "closed"
	ResultCancel  = "canceled"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(arbiterMessages, arbiterPending, arbiterCalls, arbiterCallDuration, httpRequests, httpDuration)
	})
}

func RecordMessage(arbiter, kind, outcome string) {
	RegisterMetrics()
	arbiterMessages.WithLabelValues(arbiter, kind, outcome).Inc()
}

func SetPending(arbiter string, n int) {
	RegisterMetrics()
	arbiterPending.WithLabelValues(arbiter).Set(float64(n))
}

func RecordCall(arbiter, result string, duration time.Duration) {
	RegisterMetrics()
	arbiterCalls.WithLabelValues(arbiter, result).Inc()
	arbiterCallDuration.WithLabelValues(arbiter, result).Observe(duration.Seconds())
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
