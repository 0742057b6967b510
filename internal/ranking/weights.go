package ranking

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/onnwee/trustrank/internal/activity"
	"github.com/onnwee/trustrank/internal/geo"
)

// MaxScore is the upper bound of every sub-score.
const MaxScore = 100.0

// OnlineWindow is how recently a profile must have been active to count as online.
const OnlineWindow = time.Hour

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > MaxScore:
		return MaxScore
	default:
		return v
	}
}

func knownCountry(code string) bool {
	return code != "" && code != geo.CountryUnknown && code != geo.CountryLocal
}

// CountryMatchScore is 100 when viewer and candidate share a country, 0 when
// they differ and 50 when either side is unknown.
func CountryMatchScore(viewerCountry, candidateCountry string) float64 {
	if !knownCountry(viewerCountry) || !knownCountry(candidateCountry) {
		return 50
	}
	if strings.EqualFold(viewerCountry, candidateCountry) {
		return 100
	}
	return 0
}

// DistanceScore maps a great-circle distance to a banded proximity score.
//
//	<=2km: 100, <=5km: 90, <=10km: 80, <=20km: 60, <=50km: 40
//	beyond: max(0, 30 - (km-50)/10)
func DistanceScore(km float64) float64 {
	switch {
	case km < 0 || math.IsNaN(km):
		return 0
	case km <= 2:
		return 100
	case km <= 5:
		return 90
	case km <= 10:
		return 80
	case km <= 20:
		return 60
	case km <= 50:
		return 40
	default:
		return math.Max(0, 30-(km-50)/10)
	}
}

// PlaceScore approximates proximity from place names when either side has
// no coordinates: same city 80, same country 50, otherwise 20.
func PlaceScore(viewerCity, viewerCountry, candidateCity, candidateCountry string) float64 {
	switch {
	case viewerCity != "" && strings.EqualFold(strings.TrimSpace(viewerCity), strings.TrimSpace(candidateCity)):
		return 80
	case knownCountry(viewerCountry) && strings.EqualFold(viewerCountry, candidateCountry):
		return 50
	default:
		return 20
	}
}

// QualityScore combines verification tier (0-4) and reputation (0-100).
func QualityScore(verificationTier int, reputation float64) float64 {
	return clamp(0.4*float64(verificationTier*25) + 0.6*reputation)
}

// EngagementScore combines response and booking success rates (0-100) with a
// capped review bonus.
func EngagementScore(responseRate, bookingSuccessRate float64, reviewCount int) float64 {
	return clamp(0.4*responseRate + 0.4*bookingSuccessRate + math.Min(2*float64(reviewCount), 20))
}

// FreshnessScore rates how recently a profile was active and reports whether
// it counts as online.
func FreshnessScore(lastActive, now time.Time) (score float64, online bool) {
	if lastActive.IsZero() {
		return 20, false
	}
	hours := now.Sub(lastActive).Hours()
	switch {
	case hours < OnlineWindow.Hours():
		return 100, true
	case hours < 24:
		return 80, false
	case hours < 72:
		return 60, false
	default:
		return math.Max(20, 60-hours/24), false
	}
}

// LastSeen renders lastActive relative to now for display.
func LastSeen(lastActive, now time.Time) string {
	if lastActive.IsZero() {
		return "unknown"
	}
	d := now.Sub(lastActive)
	switch {
	case d < 5*time.Minute:
		return "online now"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	case d < 2*time.Hour:
		return "1 hour ago"
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	case d < 48*time.Hour:
		return "yesterday"
	default:
		return fmt.Sprintf("%d days ago", int(d.Hours()/24))
	}
}

// BeautyScore measures profile completeness.
func BeautyScore(p activity.Profile) float64 {
	score := 0.0
	if p.HasMainPhoto {
		score += 35
	}
	score += math.Min(8*float64(p.ExtraPhotoCount), 25)
	bio := utf8.RuneCountInString(strings.TrimSpace(p.Bio))
	if bio > 50 {
		score += 15
	}
	if bio > 150 {
		score += 10
	}
	if len(p.Categories) > 0 {
		score += 10
	}
	if p.IsPaid {
		score += 5
	}
	return clamp(score)
}

// PopularityScore combines capped view, contact and favorite counts.
func PopularityScore(views, contacts, favorites int) float64 {
	return clamp(math.Min(float64(views)/10, 30) +
		math.Min(2*float64(contacts), 35) +
		math.Min(3*float64(favorites), 35))
}

// PreferenceScore rates how well a candidate fits the viewer's learned
// preferences. Already-contacted candidates are pushed down so the feed keeps
// surfacing new profiles.
func PreferenceScore(p activity.Profile, prefs *Preferences) float64 {
	if prefs == nil {
		return 0
	}
	score := 0.0
	if prefs.InAgeRange(p.Age) {
		score += 25
	}
	if prefs.PrefersLocation(p.City) {
		score += 25
	}
	for _, c := range prefs.Categories {
		if p.HasCategory(c) {
			score += 10
		}
	}
	if prefs.Contacted[p.ID] {
		score -= 20
	}
	return clamp(score)
}

// SubScores are the per-candidate components, each in [0,100].
type SubScores struct {
	CountryMatch float64 `json:"country_match"`
	Distance     float64 `json:"distance"`
	Quality      float64 `json:"quality"`
	Engagement   float64 `json:"engagement"`
	Preference   float64 `json:"preference"`
	Freshness    float64 `json:"freshness"`
	Beauty       float64 `json:"beauty"`
	Popularity   float64 `json:"popularity"`
}

// Breakdown returns each weighted contribution keyed by component name.
func (s SubScores) Breakdown(w *Weights) map[string]float64 {
	if w == nil {
		w = DefaultWeights()
	}
	return map[string]float64{
		"country_match": round2(s.CountryMatch * w.CountryMatch),
		"distance":      round2(s.Distance * w.Distance),
		"quality":       round2(s.Quality * w.Quality),
		"engagement":    round2(s.Engagement * w.Engagement),
		"preference":    round2(s.Preference * w.Preference),
		"freshness":     round2(s.Freshness * w.Freshness),
		"beauty":        round2(s.Beauty * w.Beauty),
		"popularity":    round2(s.Popularity * w.Popularity),
	}
}

// CompositeScore computes the weighted recommendation score.
// Uses the default weights when w is nil.
func CompositeScore(s SubScores, w *Weights) float64 {
	if w == nil {
		w = DefaultWeights()
	}
	score := s.CountryMatch*w.CountryMatch +
		s.Distance*w.Distance +
		s.Quality*w.Quality +
		s.Freshness*w.Freshness +
		s.Engagement*w.Engagement +
		s.Beauty*w.Beauty +
		s.Popularity*w.Popularity +
		s.Preference*w.Preference
	return round2(clamp(score))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
