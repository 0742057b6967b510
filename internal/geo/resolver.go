package geo

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/onnwee/trustrank/internal/cache"
	"github.com/onnwee/trustrank/internal/tracing"
)

// DefaultCacheTTL is how long a resolved location is reused.
const DefaultCacheTTL = 24 * time.Hour

// DefaultLookupTimeout bounds a shared provider lookup once it no longer
// follows the cancellation of the request that started it.
const DefaultLookupTimeout = 5 * time.Second

// IP risk weights.
const (
	WeightVPN             = 0.3
	WeightProxy           = 0.4
	WeightTor             = 0.6
	WeightKnownAttacker   = 0.8
	WeightBot             = 0.5
	WeightCountryMismatch = 0.4
	WeightHighRiskCountry = 0.3

	SuspiciousThreshold = 0.5
	HighRiskThreshold   = 0.8
)

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	Provider Provider
	// Cache stores resolved records. Defaults to a bounded MemoryCache.
	Cache    cache.Cache[LocationRecord]
	CacheTTL time.Duration
	// LookupTimeout bounds each provider lookup. Defaults to DefaultLookupTimeout.
	LookupTimeout time.Duration
	// HighRiskCountries are ISO country codes that add WeightHighRiskCountry.
	HighRiskCountries []string
	Logger            *slog.Logger
	Metrics           *Metrics
	Now               func() time.Time
}

// Resolver resolves addresses through a cached Provider.
type Resolver struct {
	provider Provider
	cache    cache.Cache[LocationRecord]
	ttl      time.Duration
	timeout  time.Duration
	highRisk map[string]struct{}
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time

	// flights ensures one provider call per address at a time without
	// locking the whole cache.
	flights singleflight.Group
}

// NewResolver creates a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Cache == nil {
		cfg.Cache = cache.NewMemoryCache[LocationRecord]()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	highRisk := make(map[string]struct{}, len(cfg.HighRiskCountries))
	for _, c := range cfg.HighRiskCountries {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			highRisk[c] = struct{}{}
		}
	}
	return &Resolver{
		provider: cfg.Provider,
		cache:    cfg.Cache,
		ttl:      cfg.CacheTTL,
		timeout:  cfg.LookupTimeout,
		highRisk: highRisk,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
	}
}

// Resolve returns the location for address. It never fails: local addresses
// yield LocalNetwork and unresolvable ones yield Unknown. Unknown results are
// not cached.
func (r *Resolver) Resolve(ctx context.Context, address string) LocationRecord {
	address = strings.TrimSpace(address)
	_, class := classifyAddress(address)
	switch class {
	case addressLocal:
		r.metrics.incSentinel(SourceLocal)
		return LocalNetwork(r.now())
	case addressInvalid:
		r.metrics.incSentinel(SourceUnknown)
		return Unknown(r.now())
	}

	if rec, ok := r.cache.Get(ctx, address); ok {
		r.metrics.incCacheHit()
		return rec
	}
	r.metrics.incCacheMiss()

	// The lookup is shared by every caller waiting on this address, so it
	// must outlive the cancellation of whichever request started it.
	ch := r.flights.DoChan(address, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		if rec, ok := r.cache.Get(fctx, address); ok {
			return rec, nil
		}
		rec, err := r.lookup(fctx, address)
		if err != nil {
			r.logger.WarnContext(fctx, "geo lookup failed, using unknown location",
				"address", address, "error", err)
			r.metrics.incSentinel(SourceUnknown)
			return Unknown(r.now()), nil
		}
		if !r.cache.SetIfAbsent(fctx, address, rec, r.ttl) {
			if existing, ok := r.cache.Get(fctx, address); ok {
				return existing, nil
			}
		}
		return rec, nil
	})
	select {
	case res := <-ch:
		return res.Val.(LocationRecord)
	case <-ctx.Done():
		r.metrics.incSentinel(SourceUnknown)
		return Unknown(r.now())
	}
}

func (r *Resolver) lookup(ctx context.Context, address string) (rec LocationRecord, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "geo.lookup")
	defer func() { endSpan(err) }()

	if r.provider == nil {
		return LocationRecord{}, fmt.Errorf("no geo provider configured")
	}

	start := time.Now()
	payload, err := r.provider.Lookup(ctx, address)
	r.metrics.observeProvider(OperationLookup, time.Since(start).Seconds(), err)
	if err != nil {
		return LocationRecord{}, err
	}
	rec, err = payload.ToRecord(r.now())
	if err != nil {
		r.metrics.incProviderError(OperationLookup)
		return LocationRecord{}, err
	}
	tracing.SetAttributes(ctx, attribute.String("geo.country", rec.CountryCode))
	return rec, nil
}

// SecurityAttributes returns threat flags for address. Local and invalid
// addresses, and failed lookups, produce all-false flags with ThreatUnknown.
func (r *Resolver) SecurityAttributes(ctx context.Context, address string) SecurityAttributes {
	address = strings.TrimSpace(address)
	if _, class := classifyAddress(address); class != addressPublic || r.provider == nil {
		return UnknownSecurity()
	}

	ctx, endSpan := tracing.StartSpan(ctx, "geo.security")
	start := time.Now()
	payload, err := r.provider.Security(ctx, address)
	r.metrics.observeProvider(OperationSecurity, time.Since(start).Seconds(), err)
	endSpan(err)
	if err != nil {
		r.logger.WarnContext(ctx, "geo security lookup failed", "address", address, "error", err)
		return UnknownSecurity()
	}
	attrs, err := payload.ToAttributes()
	if err != nil {
		r.metrics.incProviderError(OperationSecurity)
		r.logger.WarnContext(ctx, "geo security payload invalid", "address", address, "error", err)
		return UnknownSecurity()
	}
	return attrs
}

// RiskAnalysis is the combined address risk verdict.
type RiskAnalysis struct {
	Location     LocationRecord     `json:"location"`
	Security     SecurityAttributes `json:"security"`
	RiskFactors  []string           `json:"risk_factors"`
	RiskScore    float64            `json:"risk_score"`
	RiskLevel    ThreatLevel        `json:"risk_level"`
	IsSuspicious bool               `json:"is_suspicious"`
}

// AnalyzeRisk scores an address from its security flags and country.
// expectedCountry is optional; when set, a different resolved country adds a
// mismatch factor. Local and unknown locations never add country factors.
func (r *Resolver) AnalyzeRisk(ctx context.Context, address, expectedCountry string) RiskAnalysis {
	var (
		wg  sync.WaitGroup
		loc LocationRecord
		sec SecurityAttributes
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		loc = r.Resolve(ctx, address)
	}()
	go func() {
		defer wg.Done()
		sec = r.SecurityAttributes(ctx, address)
	}()
	wg.Wait()

	return r.scoreRisk(loc, sec, expectedCountry)
}

func (r *Resolver) scoreRisk(loc LocationRecord, sec SecurityAttributes, expectedCountry string) RiskAnalysis {
	factors := []string{}
	score := 0.0
	add := func(factor string, w float64) {
		factors = append(factors, factor)
		score += w
	}

	if sec.IsVPN {
		add("vpn_detected", WeightVPN)
	}
	if sec.IsProxy {
		add("proxy_detected", WeightProxy)
	}
	if sec.IsTor {
		add("tor_exit_node", WeightTor)
	}
	if sec.IsKnownAttacker {
		add("known_attacker", WeightKnownAttacker)
	}
	if sec.IsBot {
		add("bot_activity", WeightBot)
	}

	if loc.HasSignal() {
		expected := strings.ToUpper(strings.TrimSpace(expectedCountry))
		if expected != "" && expected != loc.CountryCode {
			add(fmt.Sprintf("country_mismatch: expected %s, got %s", expected, loc.CountryCode), WeightCountryMismatch)
		}
		if _, ok := r.highRisk[loc.CountryCode]; ok {
			add("high_risk_country: "+loc.CountryCode, WeightHighRiskCountry)
		}
	}

	score = roundScore(math.Min(score, 1))

	level := ThreatLow
	switch {
	case score >= HighRiskThreshold:
		level = ThreatHigh
	case score >= SuspiciousThreshold:
		level = ThreatMedium
	}

	return RiskAnalysis{
		Location:     loc,
		Security:     sec,
		RiskFactors:  factors,
		RiskScore:    score,
		RiskLevel:    level,
		IsSuspicious: score >= SuspiciousThreshold,
	}
}

// TravelVelocity resolves both addresses and computes the implied speed over
// elapsed. Returns ErrInsufficientLocationData when either side has no
// coordinates; callers must not treat that as a risk signal.
func (r *Resolver) TravelVelocity(ctx context.Context, from, to string, elapsed time.Duration) (TravelVelocity, error) {
	if elapsed <= 0 {
		return TravelVelocity{}, ErrInvalidElapsed
	}
	a, okA := r.Resolve(ctx, from).Point()
	b, okB := r.Resolve(ctx, to).Point()
	if !okA || !okB {
		return TravelVelocity{}, ErrInsufficientLocationData
	}
	return ComputeTravelVelocity(a, b, elapsed.Hours())
}

// roundScore trims float noise so sums such as 0.5+0.3 compare equal to the
// threshold constants.
func roundScore(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
