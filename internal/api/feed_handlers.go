package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/onnwee/trustrank/internal/activity"
	"github.com/onnwee/trustrank/internal/geo"
	"github.com/onnwee/trustrank/internal/middleware"
	"github.com/onnwee/trustrank/internal/ranking"
	"github.com/onnwee/trustrank/internal/validate"
)

// Feed produces ranked feeds and records the interactions they learn from.
type Feed interface {
	Recommend(ctx context.Context, req ranking.Request) ranking.Result
	RecordActivity(ctx context.Context, ev activity.Event) (activity.Event, error)
}

// FeedHandlers holds dependencies for feed HTTP handlers.
type FeedHandlers struct {
	engine Feed
}

// NewFeedHandlers creates a new FeedHandlers instance.
func NewFeedHandlers(engine Feed) *FeedHandlers {
	return &FeedHandlers{engine: engine}
}

// GetFeed handles GET /v1/feed.
//
// Query parameters: limit, offset, mode, country, city, min_age, max_age,
// category, q, and lat/lng (both or neither). The viewer is the bearer token
// subject; anonymous viewers get an unpersonalized feed.
func (h *FeedHandlers) GetFeed(w http.ResponseWriter, r *http.Request) {
	req, err := parseFeedRequest(r.URL.Query())
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	req.ViewerID = middleware.GetUserID(r.Context())
	req.Address = middleware.ClientIP(r)

	writeJSON(w, r, http.StatusOK, h.engine.Recommend(r.Context(), req))
}

func parseFeedRequest(q url.Values) (ranking.Request, error) {
	var req ranking.Request
	var err error

	ints := []struct {
		name string
		dst  *int
	}{
		{"limit", &req.Limit},
		{"offset", &req.Offset},
		{"min_age", &req.Filters.MinAge},
		{"max_age", &req.Filters.MaxAge},
	}
	for _, p := range ints {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		if *p.dst, err = strconv.Atoi(v); err != nil || *p.dst < 0 {
			return ranking.Request{}, fmt.Errorf("%s must be a non-negative integer", p.name)
		}
	}
	if req.Filters.MinAge > 0 && req.Filters.MaxAge > 0 && req.Filters.MinAge > req.Filters.MaxAge {
		return ranking.Request{}, errors.New("min_age must not exceed max_age")
	}

	req.Filters.Mode = ranking.ParseFilterMode(q.Get("mode"))
	if c := q.Get("country"); c != "" {
		if req.Filters.CountryCode, err = validate.CountryCode(c); err != nil {
			return ranking.Request{}, errors.New("country must be a two-letter country code")
		}
	}
	req.Filters.City = strings.TrimSpace(q.Get("city"))
	req.Filters.Category = strings.TrimSpace(q.Get("category"))
	req.Filters.Search = strings.TrimSpace(q.Get("q"))

	lat, lng := q.Get("lat"), q.Get("lng")
	switch {
	case lat == "" && lng == "":
	case lat == "" || lng == "":
		return ranking.Request{}, errors.New("lat and lng must be given together")
	default:
		la, errLat := strconv.ParseFloat(lat, 64)
		ln, errLng := strconv.ParseFloat(lng, 64)
		if errLat != nil || errLng != nil || !geo.ValidCoordinates(la, ln) {
			return ranking.Request{}, errors.New("lat and lng must be valid coordinates")
		}
		req.Location = &geo.Point{Lat: la, Lng: ln}
	}
	return req, nil
}

// ActivityRequest is the body of POST /v1/activity.
type ActivityRequest struct {
	Type      activity.EventType `json:"type"`
	TargetID  string             `json:"target_id"`
	City      string             `json:"city,omitempty"`
	Category  string             `json:"category,omitempty"`
	TargetAge int                `json:"target_age,omitempty"`
}

// feedEvents are the interactions a viewer may record.
var feedEvents = map[activity.EventType]bool{
	activity.EventProfileViewed:    true,
	activity.EventProfileContacted: true,
	activity.EventProfileFavorited: true,
}

// RecordActivity handles POST /v1/activity. The viewer must be authenticated.
func (h *FeedHandlers) RecordActivity(w http.ResponseWriter, r *http.Request) {
	var req ActivityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !feedEvents[req.Type] {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation,
			"type must be one of profile_viewed, profile_contacted, profile_favorited")
		return
	}
	targetID := strings.TrimSpace(req.TargetID)
	if targetID == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "target_id is required")
		return
	}
	if req.TargetAge < 0 {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "target_age must not be negative")
		return
	}

	userID := middleware.GetUserID(r.Context())
	stored, err := h.engine.RecordActivity(r.Context(), activity.Event{
		UserID:    userID,
		Type:      req.Type,
		Address:   middleware.ClientIP(r),
		TargetID:  targetID,
		City:      strings.TrimSpace(req.City),
		Category:  strings.TrimSpace(req.Category),
		TargetAge: req.TargetAge,
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to record activity", "user_id", userID, "type", req.Type, "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to record activity")
		return
	}
	writeJSON(w, r, http.StatusCreated, stored)
}
