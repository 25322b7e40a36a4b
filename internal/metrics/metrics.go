// Package metrics provides Prometheus metrics for the bot.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the bot.
type Metrics struct {
	// Inbound update metrics
	UpdatesTotal    *prometheus.CounterVec
	DispatchesTotal *prometheus.CounterVec

	// Backend metrics
	BackendRequestsTotal   *prometheus.CounterVec
	BackendRequestDuration *prometheus.HistogramVec
	BackendTokensTotal     *prometheus.CounterVec

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	StartTime time.Time
}

// New creates the metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{StartTime: time.Now()}

	m.UpdatesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookbot_updates_total",
			Help: "Total number of inbound updates by outcome",
		},
		[]string{"outcome"},
	)

	m.DispatchesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookbot_dispatches_total",
			Help: "Total number of dispatched messages by command",
		},
		[]string{"command"},
	)

	m.BackendRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookbot_backend_requests_total",
			Help: "Total number of text-generation backend calls",
		},
		[]string{"provider", "status"},
	)

	m.BackendRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hookbot_backend_request_duration_seconds",
			Help:    "Duration of text-generation backend calls in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider", "status"},
	)

	m.BackendTokensTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookbot_backend_tokens_total",
			Help: "Tokens consumed by backend calls",
		},
		[]string{"provider", "direction"},
	)

	m.StoreOperationsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookbot_store_operations_total",
			Help: "Total number of key-value store operations",
		},
		[]string{"operation", "status"},
	)

	m.StoreOperationDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hookbot_store_operation_duration_seconds",
			Help:    "Duration of key-value store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	f.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "hookbot_uptime_seconds",
			Help: "Seconds since the process started",
		},
		func() float64 { return time.Since(m.StartTime).Seconds() },
	)

	return m
}

// RecordUpdate counts one inbound update.
func (m *Metrics) RecordUpdate(outcome string) {
	m.UpdatesTotal.WithLabelValues(outcome).Inc()
}

// RecordDispatch counts one dispatch decision.
func (m *Metrics) RecordDispatch(command string) {
	m.DispatchesTotal.WithLabelValues(command).Inc()
}

// RecordBackend records one backend call.
func (m *Metrics) RecordBackend(provider string, elapsed time.Duration, inputTokens, outputTokens int, err error) {
	status := statusOf(err)
	m.BackendRequestsTotal.WithLabelValues(provider, status).Inc()
	m.BackendRequestDuration.WithLabelValues(provider, status).Observe(elapsed.Seconds())
	if inputTokens > 0 {
		m.BackendTokensTotal.WithLabelValues(provider, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.BackendTokensTotal.WithLabelValues(provider, "output").Add(float64(outputTokens))
	}
}

// RecordStoreOp records one store operation. Its signature matches
// kv.ObserveFunc.
func (m *Metrics) RecordStoreOp(op string, elapsed time.Duration, err error) {
	m.StoreOperationsTotal.WithLabelValues(op, statusOf(err)).Inc()
	m.StoreOperationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
