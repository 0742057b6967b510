package api

import (
	"net/http"

	"github.com/onnwee/trustrank/internal/middleware"
)

// Version is reported by the root endpoint.
const Version = "0.1.0"

// RouterConfig carries the handler groups mounted by NewRouter. Nil groups
// are not mounted.
type RouterConfig struct {
	Risk    *RiskHandlers
	Feed    *FeedHandlers
	Geo     *GeoHandlers
	Audit   *AuditHandlers
	Health  *HealthHandlers
	Metrics http.Handler

	// AssessLimiter wraps the risk endpoint with a tighter rate limit.
	AssessLimiter func(http.Handler) http.Handler
}

// NewRouter builds the route table. Cross-cutting middleware is applied by
// the caller around the returned mux.
func NewRouter(cfg RouterConfig) *http.ServeMux {
	mux := http.NewServeMux()

	if cfg.Risk != nil {
		var assess http.Handler = http.HandlerFunc(cfg.Risk.Assess)
		if cfg.AssessLimiter != nil {
			assess = cfg.AssessLimiter(assess)
		}
		mux.Handle("POST /v1/risk/assess", assess)
	}
	if cfg.Feed != nil {
		mux.HandleFunc("GET /v1/feed", cfg.Feed.GetFeed)
		mux.Handle("POST /v1/activity", middleware.RequireUser(http.HandlerFunc(cfg.Feed.RecordActivity)))
	}
	if cfg.Geo != nil {
		mux.HandleFunc("GET /v1/geo/{ip}", cfg.Geo.Lookup)
		mux.HandleFunc("GET /v1/geo/{ip}/risk", cfg.Geo.Risk)
	}
	if cfg.Audit != nil {
		mux.Handle("GET /v1/audit/export", middleware.RequireAuditAccess(http.HandlerFunc(cfg.Audit.Export)))
	}
	if cfg.Health != nil {
		mux.HandleFunc("GET /health", cfg.Health.Health)
		mux.HandleFunc("GET /ready", cfg.Health.Ready)
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]string{"service": "trustrank-api", "version": Version})
	})
	return mux
}
