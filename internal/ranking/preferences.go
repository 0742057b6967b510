package ranking

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/onnwee/trustrank/internal/activity"
)

// Preference learning window and limits.
const (
	PreferenceWindow       = 30 * 24 * time.Hour
	PreferenceEventLimit   = 100
	DefaultPreferenceTTL   = 5 * time.Minute
	preferenceBuildTimeout = 5 * time.Second
	maxPreferredPlaces     = 5
	maxPreferredCategories = 5
	// ageSlack widens the learned age range around the first observed age.
	ageSlack = 2
)

// preferenceEvents are the interactions preferences are learned from.
var preferenceEvents = []activity.EventType{
	activity.EventProfileViewed,
	activity.EventProfileContacted,
	activity.EventProfileFavorited,
}

// Preferences is a viewer's learned taste, aggregated from recent activity.
// A value with EventCount zero means the viewer has no usable history.
type Preferences struct {
	UserID     string          `json:"user_id"`
	MinAge     int             `json:"min_age"`
	MaxAge     int             `json:"max_age"`
	Locations  []string        `json:"locations"`
	Categories []string        `json:"categories"`
	Viewed     map[string]bool `json:"viewed"`
	Contacted  map[string]bool `json:"contacted"`
	Favorited  map[string]bool `json:"favorited"`
	EventCount int             `json:"event_count"`
	BuiltAt    time.Time       `json:"built_at"`
}

// InAgeRange reports whether age falls inside the learned range.
func (p *Preferences) InAgeRange(age int) bool {
	return p.MaxAge > 0 && age > 0 && age >= p.MinAge && age <= p.MaxAge
}

// PrefersLocation reports whether city is one of the top locations.
func (p *Preferences) PrefersLocation(city string) bool {
	city = strings.TrimSpace(city)
	if city == "" {
		return false
	}
	return slices.ContainsFunc(p.Locations, func(l string) bool { return strings.EqualFold(l, city) })
}

// BuildPreferences aggregates events into a preference profile. Events are
// expected newest first; when counts tie the more recent value wins.
func BuildPreferences(userID string, events []activity.Event, now time.Time) Preferences {
	prefs := Preferences{
		UserID:    userID,
		Viewed:    make(map[string]bool),
		Contacted: make(map[string]bool),
		Favorited: make(map[string]bool),
		BuiltAt:   now,
	}

	places := newTally()
	categories := newTally()
	for _, e := range events {
		switch e.Type {
		case activity.EventProfileViewed:
			prefs.Viewed[e.TargetID] = true
			prefs.widenAge(e.TargetAge)
		case activity.EventProfileContacted:
			prefs.Contacted[e.TargetID] = true
		case activity.EventProfileFavorited:
			prefs.Favorited[e.TargetID] = true
		default:
			continue
		}
		prefs.EventCount++
		places.add(e.City)
		categories.add(e.Category)
	}
	prefs.Locations = places.top(maxPreferredPlaces)
	prefs.Categories = categories.top(maxPreferredCategories)
	return prefs
}

func (p *Preferences) widenAge(age int) {
	if age <= 0 {
		return
	}
	if p.MaxAge == 0 {
		p.MinAge, p.MaxAge = age-ageSlack, age+ageSlack
		return
	}
	p.MinAge = min(p.MinAge, age)
	p.MaxAge = max(p.MaxAge, age)
}

// tally counts case-insensitive values, remembering first-seen order and spelling.
type tally struct {
	counts map[string]int
	order  []string
	label  map[string]string
}

func newTally() *tally {
	return &tally{counts: make(map[string]int), label: make(map[string]string)}
}

func (t *tally) add(v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	key := strings.ToLower(v)
	if _, ok := t.counts[key]; !ok {
		t.order = append(t.order, key)
		t.label[key] = v
	}
	t.counts[key]++
}

func (t *tally) top(n int) []string {
	keys := slices.Clone(t.order)
	slices.SortStableFunc(keys, func(a, b string) int {
		return cmp.Compare(t.counts[b], t.counts[a])
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = t.label[k]
	}
	return out
}

// Preferences returns the viewer's cached preference profile, rebuilding it
// from the activity log when absent or expired. ok is false when the viewer
// has no usable history or it could not be read.
func (e *Engine) Preferences(ctx context.Context, userID string) (prefs *Preferences, ok bool) {
	if userID == "" || e.events == nil {
		return nil, false
	}

	if cached, hit := e.prefCache.Get(ctx, userID); hit {
		e.metrics.incPreferenceCache(true)
		return &cached, cached.EventCount > 0
	}
	e.metrics.incPreferenceCache(false)

	ch := e.flights.DoChan(userID, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), preferenceBuildTimeout)
		defer cancel()
		return e.buildPreferences(fctx, userID)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, false
	}
	if res.Err != nil {
		e.logger.WarnContext(ctx, "failed to build preference profile", "user_id", userID, "error", res.Err)
		return nil, false
	}
	built := res.Val.(Preferences)
	return &built, built.EventCount > 0
}

func (e *Engine) buildPreferences(ctx context.Context, userID string) (Preferences, error) {
	if cached, hit := e.prefCache.Get(ctx, userID); hit {
		return cached, nil
	}
	gen := e.generation(userID)
	now := e.now()
	events, err := e.events.ListEvents(ctx, activity.EventQuery{
		UserID: userID,
		Types:  preferenceEvents,
		Since:  now.Add(-PreferenceWindow),
		Limit:  PreferenceEventLimit,
	})
	if err != nil {
		return Preferences{}, err
	}
	built := BuildPreferences(userID, events, now)
	if e.generation(userID) != gen {
		return built, nil
	}
	e.prefCache.SetIfAbsent(ctx, userID, built, e.prefTTL)
	// Activity recorded between the check and the store must not leave
	// this build cached.
	if e.generation(userID) != gen {
		e.prefCache.Delete(ctx, userID)
	}
	return built, nil
}

func (e *Engine) generation(userID string) uint64 {
	e.genMu.Lock()
	defer e.genMu.Unlock()
	return e.prefGen[userID]
}

func (e *Engine) bumpGeneration(userID string) {
	e.genMu.Lock()
	defer e.genMu.Unlock()
	e.prefGen[userID]++
}

// RecordActivity appends an interaction to the activity log and drops the
// viewer's cached preferences so the next feed reflects it.
func (e *Engine) RecordActivity(ctx context.Context, ev activity.Event) (activity.Event, error) {
	stored, err := e.events.AppendEvent(ctx, ev)
	if err != nil {
		return activity.Event{}, err
	}
	e.bumpGeneration(stored.UserID)
	e.flights.Forget(stored.UserID)
	e.prefCache.Delete(ctx, stored.UserID)
	return stored, nil
}
