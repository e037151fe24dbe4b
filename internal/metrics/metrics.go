package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for session operations.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Operations      *prometheus.CounterVec
	OperationTime   *prometheus.HistogramVec
	Reconciliations *prometheus.CounterVec
	Swept           prometheus.Counter
	Revoked         *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_operations_total",
				Help: "Total number of session operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		OperationTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "session_operation_duration_seconds",
				Help:    "Session operation duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 3},
			},
			[]string{"operation"},
		),
		Reconciliations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_reconciliations_total",
				Help: "Corrections applied to cached session projections",
			},
			[]string{"action"},
		),
		Swept: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "session_swept_total",
				Help: "Sessions marked expired by the sweeper",
			},
		),
		Revoked: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_revoked_total",
				Help: "Sessions revoked by logout or bulk revoke",
			},
			[]string{"reason"},
		),
	}
}

// NewRegistry creates a private registry with metrics registered on it.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, NewMetrics(reg)
}

// HandlerFor exposes reg on an HTTP endpoint.
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ObserveOperation records one finished operation. outcome is an error code
// or "ok".
func (m *Metrics) ObserveOperation(operation, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
	m.OperationTime.WithLabelValues(operation).Observe(took.Seconds())
}

func (m *Metrics) Reconciled(action string) {
	if m == nil {
		return
	}
	m.Reconciliations.WithLabelValues(action).Inc()
}

func (m *Metrics) SessionsSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Swept.Add(float64(n))
}

func (m *Metrics) SessionsRevoked(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Revoked.WithLabelValues(reason).Add(float64(n))
}
