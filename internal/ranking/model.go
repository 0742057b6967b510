package ranking

import (
	"github.com/onnwee/trustrank/internal/activity"
	"github.com/onnwee/trustrank/internal/geo"
)

// AlgorithmVersion identifies the scoring scheme in feed metadata.
const AlgorithmVersion = "for-you-v2"

// Pagination and pool defaults.
const (
	DefaultLimit    = 20
	MaxLimit        = 100
	DefaultPoolSize = activity.DefaultCandidateLimit
)

// FilterMode selects the candidate filter and the sort order.
type FilterMode string

const (
	ModeForYou   FilterMode = "for_you"
	ModeNearby   FilterMode = "nearby"
	ModeOnline   FilterMode = "online"
	ModeTrending FilterMode = "trending"
	ModeVerified FilterMode = "verified"
)

// ParseFilterMode maps a request value to a FilterMode. Unrecognized values
// select the default for-you mode.
func ParseFilterMode(s string) FilterMode {
	switch m := FilterMode(s); m {
	case ModeNearby, ModeOnline, ModeTrending, ModeVerified:
		return m
	default:
		return ModeForYou
	}
}

// Filters narrow the candidate pool. Zero values do not filter.
type Filters struct {
	Mode        FilterMode `json:"mode"`
	CountryCode string     `json:"country,omitempty"`
	City        string     `json:"city,omitempty"`
	MinAge      int        `json:"min_age,omitempty"`
	MaxAge      int        `json:"max_age,omitempty"`
	Category    string     `json:"category,omitempty"`
	Search      string     `json:"q,omitempty"`
}

// Request is one feed request.
type Request struct {
	// ViewerID is empty for anonymous viewers.
	ViewerID string
	// Location is the viewer's explicit position, if shared.
	Location *geo.Point
	// Address is the viewer's network address, resolved when Location is absent.
	Address string
	Limit   int
	Offset  int
	Filters Filters
}

// ScoredProfile is a candidate with its per-request scores.
type ScoredProfile struct {
	activity.Profile
	DistanceKm          *float64           `json:"distance_km"`
	SameCountry         bool               `json:"same_country"`
	IsOnline            bool               `json:"is_online"`
	LastSeen            string             `json:"last_seen"`
	Scores              SubScores          `json:"scores"`
	RecommendationScore float64            `json:"recommendation_score"`
	ScoreBreakdown      map[string]float64 `json:"score_breakdown"`
}

// Metadata describes how a feed was produced.
type Metadata struct {
	AlgorithmVersion string     `json:"algorithm_version"`
	Mode             FilterMode `json:"mode"`
	UsedLocation     bool       `json:"used_location"`
	UsedPreferences  bool       `json:"used_preferences"`
	TopScore         float64    `json:"top_score"`
}

// Result is one page of the ranked feed. Total counts every ranked candidate.
type Result struct {
	Profiles []ScoredProfile `json:"profiles"`
	Total    int             `json:"total"`
	Metadata Metadata        `json:"metadata"`
}

// viewer is what the engine knows about the person asking.
type viewer struct {
	id          string
	point       *geo.Point
	city        string
	countryCode string
}
