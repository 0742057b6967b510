package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/trustrank/internal/activity"
	"github.com/onnwee/trustrank/internal/audit"
	"github.com/onnwee/trustrank/internal/geo"
	"github.com/onnwee/trustrank/internal/tracing"
)

// Default amount thresholds for new-account checks.
const (
	DefaultHighValuePrice   = 500.0
	DefaultHighValueBooking = 200.0
)

// GeoAnalyzer is the subset of the geo resolver used for scoring.
type GeoAnalyzer interface {
	Resolve(ctx context.Context, address string) geo.LocationRecord
	AnalyzeRisk(ctx context.Context, address, expectedCountry string) geo.RiskAnalysis
	TravelVelocity(ctx context.Context, from, to string, elapsed time.Duration) (geo.TravelVelocity, error)
}

// Config configures a Scorer.
type Config struct {
	Geo   GeoAnalyzer
	Store activity.Store
	// Audit receives every assessment. Nil disables audit logging.
	Audit audit.Repository

	// HighValuePrice is the service price above which new accounts are flagged.
	HighValuePrice float64
	// HighValueBooking is the booking amount above which new accounts are flagged.
	HighValueBooking float64

	// Keyword dictionaries; nil selects the defaults.
	Blacklist       []string
	UrgencyKeywords []string
	PaymentKeywords []string

	// PatternDetectors and AnomalyDetectors run after the action analysis
	// for every action type.
	PatternDetectors []Detector
	AnomalyDetectors []Detector

	Logger  *slog.Logger
	Metrics *Metrics
	Now     func() time.Time
}

type analyzer func(s *Scorer, ctx context.Context, ev *evaluation)

// Scorer computes fraud-risk assessments. It is safe for concurrent use.
type Scorer struct {
	geo              GeoAnalyzer
	store            activity.Store
	audit            audit.Repository
	highValuePrice   float64
	highValueBooking float64
	blacklist        *keywordSet
	urgency          *keywordSet
	payment          *keywordSet
	patterns         []Detector
	anomalies        []Detector
	analyzers        map[ActionType]analyzer
	logger           *slog.Logger
	metrics          *Metrics
	now              func() time.Time
}

// NewScorer creates a Scorer. Store is required; Geo may be nil, in which
// case address-based signals are skipped.
func NewScorer(cfg Config) *Scorer {
	if cfg.HighValuePrice <= 0 {
		cfg.HighValuePrice = DefaultHighValuePrice
	}
	if cfg.HighValueBooking <= 0 {
		cfg.HighValueBooking = DefaultHighValueBooking
	}
	if cfg.Blacklist == nil {
		cfg.Blacklist = DefaultBlacklist
	}
	if cfg.UrgencyKeywords == nil {
		cfg.UrgencyKeywords = DefaultUrgencyKeywords
	}
	if cfg.PaymentKeywords == nil {
		cfg.PaymentKeywords = DefaultPaymentKeywords
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Scorer{
		geo:              cfg.Geo,
		store:            cfg.Store,
		audit:            cfg.Audit,
		highValuePrice:   cfg.HighValuePrice,
		highValueBooking: cfg.HighValueBooking,
		blacklist:        newKeywordSet(cfg.Blacklist, true),
		urgency:          newKeywordSet(cfg.UrgencyKeywords, false),
		payment:          newKeywordSet(cfg.PaymentKeywords, false),
		patterns:         cfg.PatternDetectors,
		anomalies:        cfg.AnomalyDetectors,
		analyzers: map[ActionType]analyzer{
			ActionRegistration:    (*Scorer).analyzeRegistration,
			ActionLogin:           (*Scorer).analyzeLogin,
			ActionServiceCreation: (*Scorer).analyzeServiceCreation,
			ActionBookingRequest:  (*Scorer).analyzeBookingRequest,
			ActionMessage:         (*Scorer).analyzeMessage,
			ActionProfileUpdate:   (*Scorer).analyzeProfileUpdate,
		},
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
}

// evaluation accumulates signals for one request.
type evaluation struct {
	req     Request
	now     time.Time
	factors []string
	score   float64
	// geohash of the resolved request location, kept for the audit record.
	geohash string

	user       *activity.User
	userLoaded bool
}

func (ev *evaluation) add(factor string, weight float64) {
	ev.factors = append(ev.factors, factor)
	ev.score += weight
}

// Assess scores one request. It never returns an error: failures inside the
// analysis degrade to a fixed medium-risk verdict that asks for manual review.
// Every verdict, degraded or not, is appended to the audit log.
func (s *Scorer) Assess(ctx context.Context, req Request) Assessment {
	ctx, endSpan := tracing.StartSpan(ctx, "risk.assess")
	start := time.Now()

	a, geohash, err := s.evaluate(ctx, req)
	if err != nil {
		reason := degradeReason(err)
		s.logger.WarnContext(ctx, "risk analysis degraded",
			"user_id", req.UserID, "action", req.Action, "reason", reason, "error", err)
		s.metrics.incDegraded(reason)
		tracing.AddEvent(ctx, "risk.degraded", attribute.String("reason", reason))
		a = degraded(req, s.now())
	}

	tracing.SetAttributes(ctx,
		attribute.String("risk.action", string(req.Action)),
		attribute.Float64("risk.score", a.RiskScore),
		attribute.String("risk.level", string(a.RiskLevel)),
		attribute.Bool("risk.degraded", a.Degraded),
	)
	s.record(ctx, req, a, geohash)

	labeled := a
	if _, known := s.analyzers[a.Action]; !known {
		labeled.Action = "unknown"
	}
	s.metrics.observeAssessment(labeled, time.Since(start).Seconds())
	endSpan(err)
	return a
}

func degradeReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownAction):
		return ReasonUnknownAction
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCancelled
	default:
		return ReasonPanic
	}
}

// evaluate runs the analysis for req and returns the verdict together with
// the geohash of the resolved request location, if any.
func (s *Scorer) evaluate(ctx context.Context, req Request) (a Assessment, geohash string, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "panic during risk analysis",
				"panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrAnalysisFailed, r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return Assessment{}, "", err
	}
	analyze, ok := s.analyzers[req.Action]
	if !ok {
		return Assessment{}, "", fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}

	ev := &evaluation{req: req, now: s.now(), factors: []string{}}
	analyze(s, ctx, ev)
	s.runDetectors(ctx, ev, "pattern", s.patterns)
	s.runDetectors(ctx, ev, "anomaly", s.anomalies)

	// Signals read under a cancelled context silently dropped out; the
	// verdict would understate the risk.
	if err := ctx.Err(); err != nil {
		return Assessment{}, "", err
	}
	return finalize(ev), ev.geohash, nil
}

func finalize(ev *evaluation) Assessment {
	score := clampScore(ev.score)
	level := LevelFor(score)
	return Assessment{
		UserID:         ev.req.UserID,
		Action:         ev.req.Action,
		RiskScore:      score,
		RiskLevel:      level,
		RiskFactors:    ev.factors,
		Recommendation: RecommendationFor(level),
		ShouldBlock:    level == LevelHigh && score > BlockThreshold,
		AssessedAt:     ev.now,
	}
}

// clampScore bounds a summed score to [0,1], maps NaN to 0 and rounds away
// float noise so sums such as 0.4+0.2 meet the 0.6 boundary.
func clampScore(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return math.Round(v*1e4) / 1e4
}

func (s *Scorer) record(ctx context.Context, req Request, a Assessment, geohash string) {
	if s.audit == nil {
		return
	}
	entry := audit.Entry{
		UserID:         a.UserID,
		Action:         string(a.Action),
		RiskScore:      a.RiskScore,
		RiskLevel:      string(a.RiskLevel),
		RiskFactors:    a.RiskFactors,
		Recommendation: string(a.Recommendation),
		ShouldBlock:    a.ShouldBlock,
		Degraded:       a.Degraded,
		IPAddress:      req.Context.Address,
		Geohash:        geohash,
	}
	if a.UserID == "" {
		entry.UserID = "anonymous"
	}
	// The audit write must survive a cancelled request.
	if _, err := audit.LogAssessment(context.WithoutCancel(ctx), s.audit, entry); err != nil {
		s.metrics.incAuditError()
		s.logger.ErrorContext(ctx, "failed to write risk audit record",
			"user_id", req.UserID, "action", req.Action, "error", err)
	}
}

// runDetectors adds the contributions of extension detectors. A failing
// detector contributes nothing.
func (s *Scorer) runDetectors(ctx context.Context, ev *evaluation, kind string, detectors []Detector) {
	in := DetectorInput{Request: ev.req, Now: ev.now, Factors: append([]string(nil), ev.factors...), Score: ev.score}
	for _, d := range detectors {
		sig, err := d.Detect(ctx, in)
		if err != nil {
			s.signalFailed(ctx, kind+"_detector", err)
			continue
		}
		ev.factors = append(ev.factors, sig.Factors...)
		if !math.IsNaN(sig.Score) && sig.Score > 0 {
			ev.score += sig.Score
		}
	}
}

// signalFailed logs a data error for one signal; the signal contributes nothing.
func (s *Scorer) signalFailed(ctx context.Context, signal string, err error) {
	s.metrics.incSignalError(signal)
	s.logger.WarnContext(ctx, "risk signal skipped", "signal", signal, "error", err)
}
