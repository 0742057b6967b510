package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthChecker defines the interface for components that can be health checked.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandlers provides health and readiness check endpoints for Kubernetes probes.
type HealthHandlers struct {
	// Critical stores; nil when running on in-memory stores.
	dbChecker    HealthChecker
	redisChecker HealthChecker

	// The geo provider is advisory: scoring fails open without it.
	geoChecker HealthChecker

	timeout time.Duration
}

// HealthHandlersConfig configures the health check handlers.
type HealthHandlersConfig struct {
	DBChecker    HealthChecker
	RedisChecker HealthChecker
	GeoChecker   HealthChecker
	// Timeout bounds the readiness checks. Defaults to 5s.
	Timeout time.Duration
}

// NewHealthHandlers creates a new health check handler.
func NewHealthHandlers(config HealthHandlersConfig) *HealthHandlers {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &HealthHandlers{
		dbChecker:    config.DBChecker,
		redisChecker: config.RedisChecker,
		geoChecker:   config.GeoChecker,
		timeout:      config.Timeout,
	}
}

// HealthResponse represents the JSON response for health checks.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Check results.
const (
	checkOK           = "ok"
	checkError        = "error"
	checkDegraded     = "degraded"
	checkNotConfigured = "not_configured"
)

// Health handles GET /health (liveness probe). If we can respond, we're alive.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Checks:    map[string]string{"runtime": checkOK},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready (readiness probe). It returns 503 when a configured
// database or Redis is unreachable. An unreachable geo provider is reported
// as degraded without failing the probe.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	critical := []struct {
		name    string
		checker HealthChecker
	}{
		{"database", h.dbChecker},
		{"redis", h.redisChecker},
	}
	for _, c := range critical {
		switch {
		case c.checker == nil:
			checks[c.name] = checkNotConfigured
		case c.checker.HealthCheck(ctx) != nil:
			checks[c.name] = checkError
			healthy = false
			slog.WarnContext(ctx, "readiness check failed", "dependency", c.name)
		default:
			checks[c.name] = checkOK
		}
	}

	if h.geoChecker == nil {
		checks["geo_provider"] = checkNotConfigured
	} else if err := h.geoChecker.HealthCheck(ctx); err != nil {
		checks["geo_provider"] = checkDegraded
		slog.WarnContext(ctx, "geo provider unreachable", "error", err)
	} else {
		checks["geo_provider"] = checkOK
	}

	status, statusCode := "healthy", http.StatusOK
	if !healthy {
		status, statusCode = "unhealthy", http.StatusServiceUnavailable
	}
	writeJSON(w, r, statusCode, HealthResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
