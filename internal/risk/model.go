// Package risk scores user actions for fraud. Each assessment combines
// address-derived signals from the geo resolver with behavioral signals read
// from the activity log, and every verdict is written to the audit log.
package risk

import (
	"errors"
	"time"
)

var (
	// ErrUnknownAction is returned for action types the scorer has no analysis for.
	ErrUnknownAction = errors.New("unknown action type")
	// ErrAnalysisFailed wraps panics recovered during analysis.
	ErrAnalysisFailed = errors.New("risk analysis failed")
)

// ActionType identifies the user action being assessed.
type ActionType string

const (
	ActionRegistration    ActionType = "registration"
	ActionLogin           ActionType = "login"
	ActionServiceCreation ActionType = "service_creation"
	ActionBookingRequest  ActionType = "booking_request"
	ActionMessage         ActionType = "message"
	ActionProfileUpdate   ActionType = "profile_update"
)

// Level is the coarse risk bucket of an assessment.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Recommendation tells the caller how to proceed.
type Recommendation string

const (
	RecommendProceed      Recommendation = "proceed"
	RecommendVerify       Recommendation = "require_verification"
	RecommendBlock        Recommendation = "block_and_review"
	RecommendManualReview Recommendation = "manual_review_required"
)

// Level boundaries: low < MediumThreshold <= medium < HighThreshold <= high.
// BlockThreshold is a stricter second gate applied on top of LevelHigh.
const (
	MediumThreshold = 0.6
	HighThreshold   = 0.8
	BlockThreshold  = 0.85
)

// FactorAnalysisFailed is the only factor of a degraded assessment.
const FactorAnalysisFailed = "analysis_failed"

// ActionData carries the action-specific fields. Only the fields relevant to
// the action type are read.
type ActionData struct {
	// registration
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`

	// service_creation
	Price           float64 `json:"price,omitempty"`
	Category        string  `json:"category,omitempty"`
	DurationMinutes int     `json:"duration_minutes,omitempty"`
	Description     string  `json:"description,omitempty"`

	// booking_request
	Amount    float64  `json:"amount,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	// message
	Message string `json:"message,omitempty"`
}

// RequestContext describes where the action came from.
type RequestContext struct {
	Address   string `json:"ip_address"`
	UserAgent string `json:"user_agent,omitempty"`
	// ExpectedCountry overrides the user's registered country for the
	// country-mismatch check.
	ExpectedCountry string `json:"expected_country,omitempty"`
}

// Request is one assessment input.
type Request struct {
	UserID  string         `json:"user_id"`
	Action  ActionType     `json:"action_type"`
	Data    ActionData     `json:"action_data"`
	Context RequestContext `json:"context"`
}

// Assessment is the immutable verdict for one request.
type Assessment struct {
	UserID         string         `json:"user_id"`
	Action         ActionType     `json:"action_type"`
	RiskScore      float64        `json:"risk_score"`
	RiskLevel      Level          `json:"risk_level"`
	RiskFactors    []string       `json:"risk_factors"`
	Recommendation Recommendation `json:"recommendation"`
	ShouldBlock    bool           `json:"should_block"`
	// Degraded is set when analysis failed and the fixed fallback was returned.
	Degraded   bool      `json:"degraded"`
	AssessedAt time.Time `json:"assessed_at"`
}

// LevelFor maps a clamped score to its level.
func LevelFor(score float64) Level {
	switch {
	case score >= HighThreshold:
		return LevelHigh
	case score >= MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// RecommendationFor maps a level to the caller action.
func RecommendationFor(level Level) Recommendation {
	switch level {
	case LevelHigh:
		return RecommendBlock
	case LevelMedium:
		return RecommendVerify
	default:
		return RecommendProceed
	}
}

// degraded returns the fixed fallback verdict.
func degraded(req Request, now time.Time) Assessment {
	return Assessment{
		UserID:         req.UserID,
		Action:         req.Action,
		RiskScore:      0.5,
		RiskLevel:      LevelMedium,
		RiskFactors:    []string{FactorAnalysisFailed},
		Recommendation: RecommendManualReview,
		Degraded:       true,
		AssessedAt:     now,
	}
}
