package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vinayprograms/orderclaim/errors"
)

// Metrics holds the coordinator's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Claims        *prometheus.CounterVec
	Transitions   *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	CounterWrites *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg. Pass
// prometheus.DefaultRegisterer in the daemon and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Claims: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orderclaim",
			Name:      "claims_total",
			Help:      "Claim attempts, labelled by result code (ok on success).",
		}, []string{"result"}),

		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orderclaim",
			Name:      "transitions_total",
			Help:      "Lifecycle actions, labelled by record kind, action and result code.",
		}, []string{"kind", "action", "result"}),

		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orderclaim",
			Name:      "notifications_total",
			Help:      "Notification deliveries, labelled by result (sent, failed, dropped).",
		}, []string{"result"}),

		CounterWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orderclaim",
			Subsystem: "provider",
			Name:      "counter_writes_total",
			Help:      "Provider job counter increments, labelled by counter and result.",
		}, []string{"counter", "result"}),

		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orderclaim",
			Name:      "operation_seconds",
			Help:      "Façade operation latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"op"}),
	}
}

// Result maps an error to a metric label.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	if code := errors.Code(err); code != "" {
		return string(code)
	}
	return string(errors.ErrCodeInternal)
}

// ObserveClaim counts one claim attempt.
func (m *Metrics) ObserveClaim(err error) {
	if m == nil {
		return
	}
	m.Claims.WithLabelValues(Result(err)).Inc()
}

// ObserveTransition counts one lifecycle action.
func (m *Metrics) ObserveTransition(kind, action string, err error) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(kind, action, Result(err)).Inc()
}

// ObserveNotification counts one delivery outcome.
func (m *Metrics) ObserveNotification(result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(result).Inc()
}

// ObserveCounterWrite counts one provider counter increment.
func (m *Metrics) ObserveCounterWrite(counter string, err error) {
	if m == nil {
		return
	}
	m.CounterWrites.WithLabelValues(counter, Result(err)).Inc()
}

// ObserveDuration records how long op took since start.
func (m *Metrics) ObserveDuration(op string, start time.Time) {
	if m == nil {
		return
	}
	m.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
