package risk

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricRiskAssessments      = "risk_assessments_total"
	MetricRiskDegraded         = "risk_degraded_total"
	MetricRiskSignalErrors     = "risk_signal_errors_total"
	MetricRiskAuditErrors      = "risk_audit_errors_total"
	MetricRiskAssessDuration   = "risk_assessment_duration_seconds"
	MetricRiskBlockedDecisions = "risk_blocked_total"
)

// Degradation reasons.
const (
	ReasonPanic         = "panic"
	ReasonUnknownAction = "unknown_action"
	ReasonCancelled     = "cancelled"
)

// Metrics contains Prometheus metrics for risk scoring.
// All operations are thread-safe and no-ops on a nil receiver.
type Metrics struct {
	assessments  *prometheus.CounterVec
	degraded     *prometheus.CounterVec
	signalErrors *prometheus.CounterVec
	auditErrors  prometheus.Counter
	duration     *prometheus.HistogramVec
	blocked      *prometheus.CounterVec
}

// NewMetrics creates unregistered risk metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRiskAssessments,
			Help: "Total number of risk assessments by action and level",
		}, []string{"action", "level"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRiskDegraded,
			Help: "Total number of assessments that fell back to manual review, by reason",
		}, []string{"reason"}),
		signalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRiskSignalErrors,
			Help: "Total number of signals skipped because their data could not be read",
		}, []string{"signal"}),
		auditErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRiskAuditErrors,
			Help: "Total number of assessments that could not be written to the audit log",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricRiskAssessDuration,
			Help:    "Risk assessment duration in seconds by action",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 3.0},
		}, []string{"action"}),
		blocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRiskBlockedDecisions,
			Help: "Total number of assessments that recommended blocking, by action",
		}, []string{"action"}),
	}
}

// Register registers all metrics with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.assessments, m.degraded, m.signalErrors, m.auditErrors, m.duration, m.blocked}
}

func (m *Metrics) observeAssessment(a Assessment, seconds float64) {
	if m == nil {
		return
	}
	m.assessments.WithLabelValues(string(a.Action), string(a.RiskLevel)).Inc()
	m.duration.WithLabelValues(string(a.Action)).Observe(seconds)
	if a.ShouldBlock {
		m.blocked.WithLabelValues(string(a.Action)).Inc()
	}
}

func (m *Metrics) incDegraded(reason string) {
	if m != nil {
		m.degraded.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) incSignalError(signal string) {
	if m != nil {
		m.signalErrors.WithLabelValues(signal).Inc()
	}
}

func (m *Metrics) incAuditError() {
	if m != nil {
		m.auditErrors.Inc()
	}
}
