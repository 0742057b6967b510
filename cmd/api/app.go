package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/trustrank/internal/activity"
	"github.com/onnwee/trustrank/internal/api"
	"github.com/onnwee/trustrank/internal/audit"
	"github.com/onnwee/trustrank/internal/auth"
	"github.com/onnwee/trustrank/internal/cache"
	"github.com/onnwee/trustrank/internal/config"
	"github.com/onnwee/trustrank/internal/db"
	"github.com/onnwee/trustrank/internal/geo"
	"github.com/onnwee/trustrank/internal/health"
	"github.com/onnwee/trustrank/internal/jobs"
	"github.com/onnwee/trustrank/internal/middleware"
	"github.com/onnwee/trustrank/internal/ranking"
	"github.com/onnwee/trustrank/internal/risk"
)

const serviceName = "trustrank-api"

// dataStore is satisfied by both the Postgres and in-memory activity stores.
type dataStore interface {
	activity.Store
	activity.ProfileStore
}

// app holds the assembled server and everything that must be released on shutdown.
type app struct {
	handler  http.Handler
	registry *prometheus.Registry
	sweeps   []*cache.SweepJob
	db       *sql.DB
	redis    *redis.Client
	logger   *slog.Logger
}

// newApp builds every component from cfg. Postgres and Redis are used when
// their URLs are set; otherwise in-memory stores take their place.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{registry: prometheus.NewRegistry(), logger: logger}
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mwMetrics := middleware.NewMetrics()
	geoMetrics := geo.NewMetrics()
	riskMetrics := risk.NewMetrics()
	rankingMetrics := ranking.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	for name, register := range map[string]func(prometheus.Registerer) error{
		"http":    mwMetrics.Register,
		"geo":     geoMetrics.Register,
		"risk":    riskMetrics.Register,
		"ranking": rankingMetrics.Register,
		"jobs":    jobMetrics.Register,
	} {
		if err := register(a.registry); err != nil {
			return nil, fmt.Errorf("failed to register %s metrics: %w", name, err)
		}
	}

	var (
		store     dataStore
		auditRepo audit.Repository
	)
	if cfg.DatabaseURL != "" {
		a.db, err = db.Open(ctx, cfg.DatabaseURL, db.DefaultPoolConfig())
		if err != nil {
			return nil, err
		}
		if cfg.Env == "development" {
			if err := db.Migrate(ctx, a.db); err != nil {
				return nil, err
			}
		}
		store = activity.NewPostgresStore(a.db, logger)
		auditRepo = audit.NewPostgresRepository(a.db)
		logger.Info("using postgres stores")
	} else {
		store = activity.NewInMemoryStore()
		auditRepo = audit.NewInMemoryRepository()
		logger.Warn("DATABASE_URL not set, using in-memory stores")
	}

	var (
		geoCache    cache.Cache[geo.LocationRecord]
		prefCache   cache.Cache[ranking.Preferences]
		limitStore  middleware.RateLimitStore
		healthRedis api.HealthChecker
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
		geoCache = cache.NewRedisCache[geo.LocationRecord](a.redis, "geo:", logger)
		prefCache = cache.NewRedisCache[ranking.Preferences](a.redis, "prefs:", logger)
		limitStore = middleware.NewRedisRateLimitStore(a.redis, mwMetrics, logger)
		healthRedis = health.NewRedisChecker(a.redis)
		logger.Info("using redis caches")
	} else {
		geoMem := cache.NewMemoryCache[geo.LocationRecord](cache.WithMaxEntries(cfg.GeoCacheMaxEntries))
		prefMem := cache.NewMemoryCache[ranking.Preferences]()
		limitMem := middleware.NewInMemoryRateLimitStore()
		geoCache, prefCache, limitStore = geoMem, prefMem, limitMem
		a.sweeps = append(a.sweeps,
			a.newSweep(jobs.JobTypeGeoCacheSweep, jobMetrics, geoMem),
			a.newSweep(jobs.JobTypePreferenceCacheSweep, jobMetrics, prefMem),
			a.newSweep(jobs.JobTypeRateLimitSweep, jobMetrics, limitMem),
		)
	}

	provider, err := geo.NewHTTPProvider(geo.HTTPProviderConfig{
		BaseURL:           cfg.GeoProviderURL,
		APIKey:            cfg.GeoProviderAPIKey,
		Timeout:           cfg.GeoProviderTimeout,
		RequestsPerSecond: cfg.GeoProviderRPS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create geo provider: %w", err)
	}
	resolver := geo.NewResolver(geo.ResolverConfig{
		Provider:          provider,
		Cache:             geoCache,
		CacheTTL:          cfg.GeoCacheTTL,
		LookupTimeout:     cfg.GeoProviderTimeout,
		HighRiskCountries: cfg.HighRiskCountries,
		Logger:            logger,
		Metrics:           geoMetrics,
	})

	scorer := risk.NewScorer(risk.Config{
		Geo:              resolver,
		Store:            store,
		Audit:            auditRepo,
		HighValuePrice:   cfg.RiskHighValuePrice,
		HighValueBooking: cfg.RiskHighValueBooking,
		Logger:           logger,
		Metrics:          riskMetrics,
	})

	weights, err := ranking.LoadCalibration(cfg.RankingCalibrationPath)
	if err != nil {
		logger.Error("ranking calibration not applied", "path", cfg.RankingCalibrationPath, "error", err)
	}
	engine := ranking.NewEngine(ranking.Config{
		Profiles:        store,
		Events:          store,
		Geo:             resolver,
		PreferenceCache: prefCache,
		PreferenceTTL:   cfg.PreferenceCacheTTL,
		Weights:         weights,
		PoolSize:        cfg.RankingPoolSize,
		Logger:          logger,
		Metrics:         rankingMetrics,
	})

	var healthDB api.HealthChecker
	if a.db != nil {
		healthDB = health.NewDBChecker(a.db)
	}

	mux := api.NewRouter(api.RouterConfig{
		Risk:  api.NewRiskHandlers(scorer),
		Feed:  api.NewFeedHandlers(engine),
		Geo:   api.NewGeoHandlers(resolver),
		Audit: api.NewAuditHandlers(auditRepo),
		Health: api.NewHealthHandlers(api.HealthHandlersConfig{
			DBChecker:    healthDB,
			RedisChecker: healthRedis,
			GeoChecker:   health.NewHTTPChecker("geo_provider", cfg.GeoProviderURL),
		}),
		Metrics: promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}),
		AssessLimiter: middleware.RateLimiter(limitStore, middleware.DefaultAssessLimit(),
			middleware.PrefixedKeyFunc("assess", middleware.UserKeyFunc()), mwMetrics),
	})

	jwtSvc := auth.NewJWTService(cfg.JWTSecret)
	if cfg.JWTSecretPrevious != "" {
		jwtSvc = auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTSecretPrevious, auth.DefaultLeeway)
		logger.Info("jwt key rotation active, accepting tokens signed with the previous secret")
	}

	// Outermost first: RequestID -> Tracing -> Logging -> HTTPMetrics -> Authenticate -> RateLimiter
	var handler http.Handler = mux
	handler = middleware.RateLimiter(limitStore, middleware.DefaultGlobalLimit(), middleware.IPKeyFunc(), mwMetrics)(handler)
	handler = middleware.Authenticate(jwtSvc, logger)(handler)
	handler = middleware.HTTPMetrics(mwMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	if cfg.TracingEnabled {
		handler = middleware.Tracing(serviceName)(handler)
	}
	a.handler = middleware.RequestID(handler)

	return a, nil
}

func (a *app) newSweep(jobType string, m *jobs.Metrics, s cache.Sweeper) *cache.SweepJob {
	return cache.NewSweepJob(cache.SweepJobConfig{
		JobType:    jobType,
		Logger:     a.logger,
		JobMetrics: m,
	}, s)
}

// start launches background jobs. They stop when ctx is cancelled or close is called.
func (a *app) start(ctx context.Context) {
	for _, j := range a.sweeps {
		j.Start(ctx)
	}
}

// close stops background jobs and releases connections.
func (a *app) close() error {
	for _, j := range a.sweeps {
		j.Stop()
	}
	var errs []error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}
