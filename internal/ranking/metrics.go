package ranking

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricRankingRequests       = "ranking_requests_total"
	MetricRankingDuration       = "ranking_duration_seconds"
	MetricRankingExcluded       = "ranking_candidates_excluded_total"
	MetricRankingCandidateError = "ranking_candidate_errors_total"
	MetricPreferenceCache       = "ranking_preference_cache_total"
)

// Exclusion reasons.
const (
	ExcludedInvalidCoordinates = "invalid_coordinates"
	ExcludedInvalidScore       = "invalid_score"
)

// Metrics contains Prometheus metrics for the recommendation feed.
// All operations are thread-safe and no-ops on a nil receiver.
type Metrics struct {
	requests        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	excluded        *prometheus.CounterVec
	candidateErrors prometheus.Counter
	preferenceCache *prometheus.CounterVec
}

// NewMetrics creates unregistered ranking metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRankingRequests,
			Help: "Total number of feed requests by mode",
		}, []string{"mode"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricRankingDuration,
			Help:    "Feed ranking duration in seconds by mode",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"mode"}),
		excluded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRankingExcluded,
			Help: "Total number of candidates dropped from a feed, by reason",
		}, []string{"reason"}),
		candidateErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRankingCandidateError,
			Help: "Total number of feed requests whose candidate query failed",
		}),
		preferenceCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPreferenceCache,
			Help: "Preference profile cache lookups by result",
		}, []string{"result"}),
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
	return []prometheus.Collector{m.requests, m.duration, m.excluded, m.candidateErrors, m.preferenceCache}
}

func (m *Metrics) observeRequest(mode FilterMode, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(string(mode)).Inc()
	m.duration.WithLabelValues(string(mode)).Observe(seconds)
}

func (m *Metrics) incExcluded(reason string) {
	if m != nil {
		m.excluded.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) incCandidateError() {
	if m != nil {
		m.candidateErrors.Inc()
	}
}

func (m *Metrics) incPreferenceCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.preferenceCache.WithLabelValues(result).Inc()
}
