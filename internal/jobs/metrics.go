// Package jobs provides metrics for background job operations such as cache
// and rate limit expiry sweeps.
package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricBackgroundJobsTotal      = "trustrank_background_jobs_total"
	MetricBackgroundJobsDuration   = "trustrank_background_jobs_duration_seconds"
	MetricBackgroundJobErrorsTotal = "trustrank_background_job_errors_total"
	MetricSweptEntriesTotal        = "trustrank_swept_entries_total"
)

// Job type constants for labeling.
const (
	JobTypeGeoCacheSweep        = "geo_cache_sweep"
	JobTypePreferenceCacheSweep = "preference_cache_sweep"
	JobTypeRateLimitSweep       = "rate_limit_sweep"
)

// Status constants for job completion.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics contains Prometheus metrics for background job operations.
// All operations are thread-safe.
type Metrics struct {
	jobsTotal    *prometheus.CounterVec
	jobsDuration *prometheus.HistogramVec
	jobErrors    *prometheus.CounterVec
	swept        *prometheus.CounterVec
}

// NewMetrics creates unregistered job metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricBackgroundJobsTotal,
			Help: "Total number of background job runs by type and status",
		}, []string{"job_type", "status"}),
		jobsDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: MetricBackgroundJobsDuration,
			Help: "Background job duration in seconds by type",
			// Sweeps walk in-process maps; anything past a second means a cache is far too large.
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}, []string{"job_type"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricBackgroundJobErrorsTotal,
			Help: "Total number of background job errors by type and error type",
		}, []string{"job_type", "error_type"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricSweptEntriesTotal,
			Help: "Total number of expired entries removed by sweep jobs",
		}, []string{"job_type"}),
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
	return []prometheus.Collector{m.jobsTotal, m.jobsDuration, m.jobErrors, m.swept}
}

// IncJobsTotal counts one run of jobType finishing with status
// (StatusSuccess or StatusFailure).
func (m *Metrics) IncJobsTotal(jobType, status string) {
	m.jobsTotal.WithLabelValues(jobType, status).Inc()
}

// ObserveJobDuration records how long one run took.
func (m *Metrics) ObserveJobDuration(jobType string, seconds float64) {
	m.jobsDuration.WithLabelValues(jobType).Observe(seconds)
}

// IncJobErrors counts a failed run, e.g. errorType "sweep_error".
func (m *Metrics) IncJobErrors(jobType, errorType string) {
	m.jobErrors.WithLabelValues(jobType, errorType).Inc()
}

// AddSwept adds n removed entries to jobType's total.
func (m *Metrics) AddSwept(jobType string, n int) {
	if n > 0 {
		m.swept.WithLabelValues(jobType).Add(float64(n))
	}
}
