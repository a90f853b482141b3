package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the protection engine. All helpers are
// nil-safe so tests can pass a nil *Metrics.
type Metrics struct {
	ActionsRecorded  *prometheus.CounterVec
	Violations       *prometheus.CounterVec
	ResponseFailures *prometheus.CounterVec
	AuditFailures    prometheus.Counter
	DispatchLatency  prometheus.Histogram
	LedgerKeys       prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		ActionsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nukeguard_actions_recorded_total",
			Help: "Administrative actions recorded by the ledger, by action type",
		}, []string{"action"}),

		Violations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nukeguard_violations_total",
			Help: "Threshold violations detected, by action type and response",
		}, []string{"action", "response"}),

		ResponseFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nukeguard_response_failures_total",
			Help: "Mitigating responses that failed to execute, by response type",
		}, []string{"response"}),

		AuditFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nukeguard_audit_write_failures_total",
			Help: "Violation events that could not be persisted",
		}),

		DispatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "nukeguard_dispatch_duration_seconds",
			Help:    "Duration of response dispatch including the platform call",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		LedgerKeys: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "nukeguard_ledger_keys",
			Help: "Live (guild, actor, action) keys held by the ledger",
		}),
	}
}

func (m *Metrics) IncActionRecorded(action string) {
	if m != nil {
		m.ActionsRecorded.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) IncViolation(action, response string) {
	if m != nil {
		m.Violations.WithLabelValues(action, response).Inc()
	}
}

func (m *Metrics) IncResponseFailure(response string) {
	if m != nil {
		m.ResponseFailures.WithLabelValues(response).Inc()
	}
}

func (m *Metrics) IncAuditFailure() {
	if m != nil {
		m.AuditFailures.Inc()
	}
}

func (m *Metrics) ObserveDispatchLatency(d time.Duration) {
	if m != nil {
		m.DispatchLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) SetLedgerKeys(n int) {
	if m != nil {
		m.LedgerKeys.Set(float64(n))
	}
}
