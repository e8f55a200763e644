// Package metrics holds the Prometheus collectors shared by the binding
// dispatcher, the stream relay and the server endpoints. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	relayBytes   *prometheus.CounterVec
	requests     *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		calls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cmis",
				Subsystem: "binding",
				Name:      "calls_total",
				Help:      "Remote calls issued through the binding dispatcher.",
			},
			[]string{"service", "operation", "status"},
		),
		callDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cmis",
				Subsystem: "binding",
				Name:      "call_duration_seconds",
				Help:      "Remote call latency in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"service", "operation"},
		),
		relayBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cmis",
				Subsystem: "relay",
				Name:      "bytes_total",
				Help:      "Content bytes relayed, by outcome.",
			},
			[]string{"outcome"},
		),
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cmis",
				Subsystem: "endpoint",
				Name:      "requests_total",
				Help:      "Server endpoint requests by action and response status.",
			},
			[]string{"action", "status"},
		),
	}
}

// ObserveCall records one dispatched call. status 0 means no response was
// received.
func (m *Metrics) ObserveCall(service, operation string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(service, operation, strconv.Itoa(status)).Inc()
	m.callDuration.WithLabelValues(service, operation).Observe(d.Seconds())
}

// AddRelayed counts n bytes moved by a relay that ended with err.
func (m *Metrics) AddRelayed(n int64, err error) {
	if m == nil || n <= 0 {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.relayBytes.WithLabelValues(outcome).Add(float64(n))
}

// ObserveRequest records a served endpoint request.
func (m *Metrics) ObserveRequest(action string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(action, strconv.Itoa(status)).Inc()
}
