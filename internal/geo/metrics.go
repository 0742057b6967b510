package geo

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricGeoCacheHits        = "geo_cache_hits_total"
	MetricGeoCacheMisses      = "geo_cache_misses_total"
	MetricGeoProviderErrors   = "geo_provider_errors_total"
	MetricGeoProviderDuration = "geo_provider_duration_seconds"
	MetricGeoSentinels        = "geo_sentinel_results_total"
)

// Provider operation labels.
const (
	OperationLookup   = "lookup"
	OperationSecurity = "security"
)

// Metrics contains Prometheus metrics for address resolution.
type Metrics struct {
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	providerErrors   *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	sentinels        *prometheus.CounterVec
}

// NewMetrics creates unregistered geo metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricGeoCacheHits,
			Help: "Total number of address lookups served from cache",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricGeoCacheMisses,
			Help: "Total number of address lookups that missed the cache",
		}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricGeoProviderErrors,
			Help: "Total number of failed geo provider calls by operation",
		}, []string{"operation"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricGeoProviderDuration,
			Help:    "Geo provider call duration in seconds by operation",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 3.0},
		}, []string{"operation"}),
		sentinels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricGeoSentinels,
			Help: "Total number of sentinel records returned by kind",
		}, []string{"kind"}),
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
	return []prometheus.Collector{m.cacheHits, m.cacheMisses, m.providerErrors, m.providerDuration, m.sentinels}
}

func (m *Metrics) incCacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) incCacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) observeProvider(op string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.providerDuration.WithLabelValues(op).Observe(seconds)
	if err != nil {
		m.providerErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) incProviderError(op string) {
	if m != nil {
		m.providerErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) incSentinel(kind Source) {
	if m != nil {
		m.sentinels.WithLabelValues(string(kind)).Inc()
	}
}
