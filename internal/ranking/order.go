package ranking

import (
	"cmp"
	"strings"
)

// OnlineBoost is added to the recommendation score of online candidates when
// ordering the default feed. It only affects ordering, never the reported score.
const OnlineBoost = 5.0

// DiversityWindow is how many upcoming candidates the diversity pass considers.
const DiversityWindow = 10

// Diversity bonuses.
const (
	newCityBonus     = 10
	newCategoryBonus = 5
)

type comparator func(a, b *ScoredProfile) int

// comparatorFor returns the ordering for mode. Distance-based modes need the
// viewer's coordinates and fall back to the default order without them.
func comparatorFor(mode FilterMode, hasLocation bool) comparator {
	switch mode {
	case ModeNearby, ModeOnline:
		if hasLocation {
			return compareNearby
		}
		return compareForYou
	case ModeTrending:
		return compareTrending
	default:
		return compareForYou
	}
}

func bySameCountry(a, b *ScoredProfile) int {
	switch {
	case a.SameCountry == b.SameCountry:
		return 0
	case a.SameCountry:
		return -1
	default:
		return 1
	}
}

func byID(a, b *ScoredProfile) int {
	return cmp.Compare(a.ID, b.ID)
}

func boosted(p *ScoredProfile) float64 {
	if p.IsOnline {
		return p.RecommendationScore + OnlineBoost
	}
	return p.RecommendationScore
}

// compareForYou: same country, then recommendation score plus online boost.
func compareForYou(a, b *ScoredProfile) int {
	if c := bySameCountry(a, b); c != 0 {
		return c
	}
	if c := cmp.Compare(boosted(b), boosted(a)); c != 0 {
		return c
	}
	return byID(a, b)
}

// compareNearby: same country, online first, then nearest. Candidates
// without a distance sort after those with one.
func compareNearby(a, b *ScoredProfile) int {
	if c := bySameCountry(a, b); c != 0 {
		return c
	}
	if a.IsOnline != b.IsOnline {
		if a.IsOnline {
			return -1
		}
		return 1
	}
	switch {
	case a.DistanceKm != nil && b.DistanceKm != nil:
		if c := cmp.Compare(*a.DistanceKm, *b.DistanceKm); c != 0 {
			return c
		}
	case a.DistanceKm != nil:
		return -1
	case b.DistanceKm != nil:
		return 1
	}
	return byID(a, b)
}

// compareTrending: same country, then quality plus engagement.
func compareTrending(a, b *ScoredProfile) int {
	if c := bySameCountry(a, b); c != 0 {
		return c
	}
	ta := a.Scores.Quality + a.Scores.Engagement
	tb := b.Scores.Quality + b.Scores.Engagement
	if c := cmp.Compare(tb, ta); c != 0 {
		return c
	}
	return byID(a, b)
}

// diversify re-orders ranked so that the head of the feed spans more cities
// and categories. The first candidate never moves. Each following slot is
// filled from the next window unplaced candidates by the largest bonus for
// unrepresented cities and categories; ties keep the original order.
func diversify(ranked []ScoredProfile, window int) []ScoredProfile {
	if len(ranked) <= 2 || window <= 1 {
		return ranked
	}

	cities := make(map[string]bool)
	categories := make(map[string]bool)
	out := make([]ScoredProfile, 0, len(ranked))
	place := func(p ScoredProfile) {
		out = append(out, p)
		if c := normalize(p.City); c != "" {
			cities[c] = true
		}
		for _, cat := range p.Categories {
			if c := normalize(cat); c != "" {
				categories[c] = true
			}
		}
	}
	bonus := func(p *ScoredProfile) int {
		b := 0
		if c := normalize(p.City); c != "" && !cities[c] {
			b += newCityBonus
		}
		counted := make(map[string]bool, len(p.Categories))
		for _, cat := range p.Categories {
			c := normalize(cat)
			if c == "" || categories[c] || counted[c] {
				continue
			}
			counted[c] = true
			b += newCategoryBonus
		}
		return b
	}

	place(ranked[0])
	remaining := append([]ScoredProfile(nil), ranked[1:]...)
	for len(remaining) > 0 {
		n := min(window, len(remaining))
		best, bestBonus := 0, -1
		for i := 0; i < n; i++ {
			if b := bonus(&remaining[i]); b > bestBonus {
				best, bestBonus = i, b
			}
		}
		place(remaining[best])
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
