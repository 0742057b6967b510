// Package activity provides the persistence collaborator for risk scoring
// and ranking: append-only activity events, user records, login sessions,
// pricing aggregates and candidate profiles.
package activity

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrUserNotFound is returned when a user record does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrSessionNotFound is returned when no earlier session exists.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNoPriceData is returned when no prices exist for a category and duration.
	ErrNoPriceData = errors.New("no price data")
	// ErrInvalidEvent is returned for events missing a user or type.
	ErrInvalidEvent = errors.New("invalid event")
)

// EventType identifies a logged user action.
type EventType string

const (
	EventRegistration     EventType = "registration"
	EventLogin            EventType = "login"
	EventLoginFailed      EventType = "login_failed"
	EventServiceCreated   EventType = "service_created"
	EventBookingRequest   EventType = "booking_request"
	EventMessageSent      EventType = "message_sent"
	EventProfileUpdated   EventType = "profile_updated"
	EventProfileViewed    EventType = "profile_viewed"
	EventProfileContacted EventType = "profile_contacted"
	EventProfileFavorited EventType = "profile_favorited"
)

var validEventTypes = map[EventType]bool{
	EventRegistration:     true,
	EventLogin:            true,
	EventLoginFailed:      true,
	EventServiceCreated:   true,
	EventBookingRequest:   true,
	EventMessageSent:      true,
	EventProfileUpdated:   true,
	EventProfileViewed:    true,
	EventProfileContacted: true,
	EventProfileFavorited: true,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return validEventTypes[t]
}

// Event is one entry in the append-only activity log.
type Event struct {
	ID     string    `json:"id"`
	UserID string    `json:"user_id"`
	Type   EventType `json:"type"`
	// Address is the originating network address, if known.
	Address string `json:"address,omitempty"`
	// TargetID is the profile acted on for view/contact/favorite events.
	TargetID string `json:"target_id,omitempty"`
	// Category and DurationMinutes describe a created service or a booking.
	Category        string   `json:"category,omitempty"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
	Amount          float64  `json:"amount,omitempty"`
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	// City and TargetAge of the target profile, recorded for preference learning.
	City      string    `json:"city,omitempty"`
	TargetAge int       `json:"target_age,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks required fields.
func (e Event) Validate() error {
	if strings.TrimSpace(e.UserID) == "" || !e.Type.Valid() {
		return ErrInvalidEvent
	}
	return nil
}

// EventQuery filters the activity log. Zero-valued fields do not filter.
type EventQuery struct {
	UserID  string
	Address string
	Types   []EventType
	Since   time.Time
	// Limit caps ListEvents results; zero means no cap.
	Limit int
}

// Matches reports whether e satisfies the query filters (Limit is ignored).
func (q EventQuery) Matches(e Event) bool {
	if q.UserID != "" && e.UserID != q.UserID {
		return false
	}
	if q.Address != "" && e.Address != q.Address {
		return false
	}
	if !q.Since.IsZero() && e.CreatedAt.Before(q.Since) {
		return false
	}
	if len(q.Types) > 0 {
		for _, t := range q.Types {
			if e.Type == t {
				return true
			}
		}
		return false
	}
	return true
}

func (q EventQuery) typeStrings() []string {
	out := make([]string, len(q.Types))
	for i, t := range q.Types {
		out[i] = string(t)
	}
	return out
}

// User is the subset of a user record read by risk scoring.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Username    string    `json:"username"`
	CountryCode string    `json:"country_code,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AccountAge returns how long the account has existed at now.
func (u User) AccountAge(now time.Time) time.Duration {
	return now.Sub(u.CreatedAt)
}

// Session is a successful login, derived from login events.
type Session struct {
	UserID    string    `json:"user_id"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// PriceStats aggregates service prices for one category and duration.
type PriceStats struct {
	Category        string  `json:"category"`
	DurationMinutes int     `json:"duration_minutes"`
	Average         float64 `json:"average"`
	SampleCount     int     `json:"sample_count"`
}

// Profile holds the attributes of a candidate profile used for ranking.
// Rates and reputation are percentages in [0,100]; VerificationTier is 0-4.
type Profile struct {
	ID                 string    `json:"id"`
	Username           string    `json:"username"`
	Bio                string    `json:"bio,omitempty"`
	City               string    `json:"city,omitempty"`
	CountryCode        string    `json:"country_code,omitempty"`
	Latitude           *float64  `json:"latitude,omitempty"`
	Longitude          *float64  `json:"longitude,omitempty"`
	Age                int       `json:"age,omitempty"`
	IsProvider         bool      `json:"is_provider"`
	VerificationTier   int       `json:"verification_tier"`
	ReputationScore    float64   `json:"reputation_score"`
	ResponseRate       float64   `json:"response_rate"`
	BookingSuccessRate float64   `json:"booking_success_rate"`
	ReviewCount        int       `json:"review_count"`
	LastActiveAt       time.Time `json:"last_active_at"`
	HasMainPhoto       bool      `json:"has_main_photo"`
	ExtraPhotoCount    int       `json:"extra_photo_count"`
	Categories         []string  `json:"categories,omitempty"`
	IsPaid             bool      `json:"is_paid"`
	ViewCount          int       `json:"view_count"`
	ContactCount       int       `json:"contact_count"`
	FavoriteCount      int       `json:"favorite_count"`
}

// HasCategory reports whether the profile lists category (case-insensitive).
func (p Profile) HasCategory(category string) bool {
	for _, c := range p.Categories {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}

// DefaultCandidateLimit caps the candidate pool when a query sets no limit.
const DefaultCandidateLimit = 100

// CandidateQuery selects rankable profiles. Only providers are returned.
type CandidateQuery struct {
	ExcludeUserID       string
	CountryCode         string
	City                string // case-insensitive substring
	MinAge              int
	MaxAge              int
	Category            string
	MinVerificationTier int
	ActiveSince         time.Time
	Search              string // case-insensitive substring of username, bio or city
	Limit               int
}

// Matches reports whether p satisfies the query (Limit is ignored).
func (q CandidateQuery) Matches(p Profile) bool {
	if !p.IsProvider {
		return false
	}
	if q.ExcludeUserID != "" && p.ID == q.ExcludeUserID {
		return false
	}
	if q.CountryCode != "" && !strings.EqualFold(p.CountryCode, q.CountryCode) {
		return false
	}
	if q.City != "" && !containsFold(p.City, q.City) {
		return false
	}
	if q.MinAge > 0 && p.Age < q.MinAge {
		return false
	}
	if q.MaxAge > 0 && p.Age > q.MaxAge {
		return false
	}
	if q.Category != "" && !p.HasCategory(q.Category) {
		return false
	}
	if p.VerificationTier < q.MinVerificationTier {
		return false
	}
	if !q.ActiveSince.IsZero() && p.LastActiveAt.Before(q.ActiveSince) {
		return false
	}
	if q.Search != "" && !containsFold(p.Username, q.Search) && !containsFold(p.Bio, q.Search) && !containsFold(p.City, q.Search) {
		return false
	}
	return true
}

func (q CandidateQuery) limit() int {
	if q.Limit <= 0 {
		return DefaultCandidateLimit
	}
	return q.Limit
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
