package ranking

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/onnwee/trustrank/internal/activity"
	"github.com/onnwee/trustrank/internal/cache"
	"github.com/onnwee/trustrank/internal/geo"
	"github.com/onnwee/trustrank/internal/tracing"
)

// OnlineModeWindow is how recently candidates must have been active to appear
// in the online feed.
const OnlineModeWindow = 15 * time.Minute

// VerifiedMinTier is the lowest verification tier shown in the verified feed.
const VerifiedMinTier = 2

var (
	errInvalidCoordinates = errors.New("invalid candidate coordinates")
	errInvalidScore       = errors.New("candidate score is not a number")
)

// Locator resolves a network address to a location.
type Locator interface {
	Resolve(ctx context.Context, address string) geo.LocationRecord
}

// Config configures an Engine.
type Config struct {
	Profiles activity.ProfileStore
	// Events feeds preference learning and RecordActivity. Also used to look
	// up the viewer's registered country. Optional.
	Events activity.Store
	// Geo resolves viewer addresses. Optional.
	Geo Locator

	// PreferenceCache holds built preference profiles. Defaults to a MemoryCache.
	PreferenceCache cache.Cache[Preferences]
	PreferenceTTL   time.Duration

	// Weights defaults to DefaultWeights.
	Weights  *Weights
	PoolSize int

	Logger  *slog.Logger
	Metrics *Metrics
	Now     func() time.Time
}

// Engine produces the ranked for-you feed. It is safe for concurrent use.
type Engine struct {
	profiles  activity.ProfileStore
	events    activity.Store
	geo       Locator
	prefCache cache.Cache[Preferences]
	prefTTL   time.Duration
	weights   *Weights
	poolSize  int
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time

	flights singleflight.Group

	// prefGen counts recorded activity per viewer. A preference build only
	// stays cached if no activity was recorded while it ran.
	genMu   sync.Mutex
	prefGen map[string]uint64
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) *Engine {
	if cfg.PreferenceCache == nil {
		cfg.PreferenceCache = cache.NewMemoryCache[Preferences]()
	}
	if cfg.PreferenceTTL <= 0 {
		cfg.PreferenceTTL = DefaultPreferenceTTL
	}
	if cfg.Weights == nil {
		cfg.Weights = DefaultWeights()
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		profiles:  cfg.Profiles,
		events:    cfg.Events,
		geo:       cfg.Geo,
		prefCache: cfg.PreferenceCache,
		prefTTL:   cfg.PreferenceTTL,
		weights:   cfg.Weights,
		poolSize:  cfg.PoolSize,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
		prefGen:   make(map[string]uint64),
	}
}

// Recommend scores, orders, diversifies and paginates the candidate pool for
// one viewer. It never fails: when candidates can't be read the feed is empty,
// and individual candidates that can't be scored are left out.
func (e *Engine) Recommend(ctx context.Context, req Request) Result {
	ctx, endSpan := tracing.StartSpan(ctx, "ranking.recommend")
	defer endSpan(nil)
	start := time.Now()

	mode := ParseFilterMode(string(req.Filters.Mode))
	limit, offset := pageBounds(req.Limit, req.Offset)
	now := e.now()

	v := e.resolveViewer(ctx, req)
	prefs, hasPrefs := e.Preferences(ctx, v.id)
	if !hasPrefs {
		prefs = nil
	}

	meta := Metadata{
		AlgorithmVersion: AlgorithmVersion,
		Mode:             mode,
		UsedLocation:     v.point != nil,
		UsedPreferences:  hasPrefs,
	}

	candidates, err := e.profiles.Candidates(ctx, e.candidateQuery(req, v, mode, now))
	if err != nil {
		e.metrics.incCandidateError()
		e.logger.ErrorContext(ctx, "failed to load feed candidates", "viewer_id", v.id, "mode", mode, "error", err)
		e.metrics.observeRequest(mode, time.Since(start).Seconds())
		return Result{Profiles: []ScoredProfile{}, Metadata: meta}
	}

	ranked := make([]ScoredProfile, 0, len(candidates))
	for _, c := range candidates {
		sp, err := e.score(c, v, prefs, now)
		if err != nil {
			reason := ExcludedInvalidScore
			if errors.Is(err, errInvalidCoordinates) {
				reason = ExcludedInvalidCoordinates
			}
			e.metrics.incExcluded(reason)
			e.logger.DebugContext(ctx, "excluding feed candidate", "profile_id", c.ID, "reason", reason)
			continue
		}
		ranked = append(ranked, sp)
	}

	order := comparatorFor(mode, v.point != nil)
	slices.SortStableFunc(ranked, func(a, b ScoredProfile) int { return order(&a, &b) })
	ranked = diversify(ranked, DiversityWindow)

	if len(ranked) > 0 {
		meta.TopScore = ranked[0].RecommendationScore
	}
	page := []ScoredProfile{}
	if offset < len(ranked) {
		page = ranked[offset:min(offset+limit, len(ranked))]
	}

	tracing.SetAttributes(ctx,
		attribute.String("ranking.mode", string(mode)),
		attribute.Int("ranking.candidates", len(candidates)),
		attribute.Int("ranking.ranked", len(ranked)),
		attribute.Bool("ranking.used_location", meta.UsedLocation),
		attribute.Bool("ranking.used_preferences", meta.UsedPreferences),
	)
	e.metrics.observeRequest(mode, time.Since(start).Seconds())

	return Result{Profiles: page, Total: len(ranked), Metadata: meta}
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// resolveViewer gathers the viewer's position, city and country from the
// explicit location, the network address and the user record, in that order.
func (e *Engine) resolveViewer(ctx context.Context, req Request) viewer {
	v := viewer{id: req.ViewerID}
	if p := req.Location; p != nil && geo.ValidCoordinates(p.Lat, p.Lng) {
		pt := *p
		v.point = &pt
	}

	if e.geo != nil && req.Address != "" {
		if loc := e.geo.Resolve(ctx, req.Address); loc.HasSignal() {
			v.countryCode = loc.CountryCode
			v.city = loc.City
			if pt, ok := loc.Point(); ok && v.point == nil {
				v.point = &pt
			}
		}
	}

	if v.countryCode == "" && v.id != "" && e.events != nil {
		u, err := e.events.GetUser(ctx, v.id)
		switch {
		case err == nil:
			v.countryCode = u.CountryCode
		case !errors.Is(err, activity.ErrUserNotFound):
			e.logger.WarnContext(ctx, "failed to load viewer", "viewer_id", v.id, "error", err)
		}
	}
	return v
}

func (e *Engine) candidateQuery(req Request, v viewer, mode FilterMode, now time.Time) activity.CandidateQuery {
	f := req.Filters
	q := activity.CandidateQuery{
		ExcludeUserID: v.id,
		CountryCode:   f.CountryCode,
		City:          f.City,
		MinAge:        f.MinAge,
		MaxAge:        f.MaxAge,
		Category:      f.Category,
		Search:        f.Search,
		Limit:         e.poolSize,
	}
	switch mode {
	case ModeVerified:
		q.MinVerificationTier = VerifiedMinTier
	case ModeOnline:
		q.ActiveSince = now.Add(-OnlineModeWindow)
	}
	return q
}

// score computes every sub-score for one candidate.
func (e *Engine) score(p activity.Profile, v viewer, prefs *Preferences, now time.Time) (ScoredProfile, error) {
	if (p.Latitude != nil || p.Longitude != nil) && geo.CellOf(p.Latitude, p.Longitude, geo.AreaPrecision) == "" {
		return ScoredProfile{}, errInvalidCoordinates
	}
	if math.IsNaN(p.ReputationScore) || math.IsNaN(p.ResponseRate) || math.IsNaN(p.BookingSuccessRate) {
		return ScoredProfile{}, errInvalidScore
	}

	sp := ScoredProfile{Profile: p}
	sp.SameCountry = knownCountry(v.countryCode) && strings.EqualFold(v.countryCode, p.CountryCode)

	s := &sp.Scores
	s.CountryMatch = CountryMatchScore(v.countryCode, p.CountryCode)
	if v.point != nil && p.Latitude != nil && p.Longitude != nil {
		var km float64
		km, s.Distance = distanceFields(*v.point, geo.Point{Lat: *p.Latitude, Lng: *p.Longitude})
		sp.DistanceKm = &km
	} else {
		s.Distance = PlaceScore(v.city, v.countryCode, p.City, p.CountryCode)
	}
	s.Quality = QualityScore(p.VerificationTier, p.ReputationScore)
	s.Engagement = EngagementScore(p.ResponseRate, p.BookingSuccessRate, p.ReviewCount)
	s.Preference = PreferenceScore(p, prefs)
	s.Freshness, sp.IsOnline = FreshnessScore(p.LastActiveAt, now)
	s.Beauty = BeautyScore(p)
	s.Popularity = PopularityScore(p.ViewCount, p.ContactCount, p.FavoriteCount)

	sp.LastSeen = LastSeen(p.LastActiveAt, now)
	sp.RecommendationScore = CompositeScore(*s, e.weights)
	sp.ScoreBreakdown = s.Breakdown(e.weights)
	return sp, nil
}

// distanceFields returns the distance reported to clients, rounded to 0.1 km,
// and the distance sub-score computed from the unrounded value.
func distanceFields(from, to geo.Point) (reportedKm, score float64) {
	km := geo.HaversineKm(from, to)
	return math.Round(km*10) / 10, DistanceScore(km)
}
