package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/onnwee/trustrank/internal/activity"
	"github.com/onnwee/trustrank/internal/geo"
	"github.com/onnwee/trustrank/internal/validate"
)

// Signal weights.
const (
	WeightSuspiciousEmail      = 0.3
	WeightInvalidEmail         = 0.3
	WeightDisposableEmail      = 0.4
	WeightGenericUsername      = 0.2
	WeightRegistrationVelocity = 0.7

	WeightFailedLogins     = 0.4
	WeightImpossibleTravel = 0.8
	WeightSuspiciousTravel = 0.4
	WeightRapidLogins      = 0.2

	MaxWeightPriceDeviation  = 0.6
	WeightNewAccountPrice    = 0.5
	WeightBlacklistedContent = 0.7
	WeightServiceVelocity    = 0.4

	WeightNewAccountBooking = 0.6
	WeightBookingVelocity   = 0.5
	WeightUnusualLocation   = 0.3

	WeightUrgencyLanguage   = 0.3
	WeightSuspiciousPayment = 0.6
	WeightContactInfo       = 0.4
	WeightShortMessage      = 0.2
	WeightExcessiveCaps     = 0.3

	WeightProfileUpdates = 0.3
)

// Behavioral limits and windows.
const (
	maxRegistrationsPerAddress = 5
	registrationWindow         = 24 * time.Hour

	failedLoginLimit  = 4
	failedLoginWindow = time.Hour
	maxRapidLogins    = 2
	rapidLoginWindow  = 5 * time.Minute

	priceHistoryWindow     = 30 * 24 * time.Hour
	priceDeviationLimit    = 0.5
	priceDeviationScale    = 0.3
	newProviderAge         = 7 * 24 * time.Hour
	maxServicesPerDay      = 5
	serviceCreationWindow  = 24 * time.Hour
	newBookerAge           = 3 * 24 * time.Hour
	maxBookingsPerHour     = 3
	bookingWindow          = time.Hour
	unusualLocationKm      = 50.0
	locationHistoryWindow  = 90 * 24 * time.Hour
	locationHistoryLimit   = 100
	minMessageLength       = 10
	capsMinLength          = 20
	capsRatioLimit         = 0.5
	maxProfileUpdatesDaily = 5
	profileUpdateWindow    = 24 * time.Hour
)

var (
	// Numeric runs before the @ or a +digits sub-address.
	suspiciousEmailPattern = regexp.MustCompile(`(\d{4,}@|\+\d+@)`)
	genericUsernamePattern = regexp.MustCompile(`^(user|test|admin|guest|demo|temp|new|member|account)[_.\-]?\d*$|^[a-z]+\d{4,}$`)
)

// ipRisk adds the geo resolver's address factors. expectedCountry may be empty.
func (s *Scorer) ipRisk(ctx context.Context, ev *evaluation, expectedCountry string) {
	if s.geo == nil || ev.req.Context.Address == "" {
		return
	}
	analysis := s.geo.AnalyzeRisk(ctx, ev.req.Context.Address, expectedCountry)
	ev.geohash = analysis.Location.Geohash
	if analysis.RiskScore <= 0 {
		return
	}
	ev.factors = append(ev.factors, analysis.RiskFactors...)
	ev.score += analysis.RiskScore
}

// expectedCountry prefers the request override, then the user's registered country.
func (s *Scorer) expectedCountry(ctx context.Context, ev *evaluation) string {
	if c := ev.req.Context.ExpectedCountry; c != "" {
		return c
	}
	if u := s.loadUser(ctx, ev); u != nil {
		return u.CountryCode
	}
	return ""
}

// loadUser fetches the acting user once per evaluation. A missing user is not
// an error; other failures are counted as a skipped signal.
func (s *Scorer) loadUser(ctx context.Context, ev *evaluation) *activity.User {
	if ev.userLoaded {
		return ev.user
	}
	ev.userLoaded = true
	if ev.req.UserID == "" {
		return nil
	}
	u, err := s.store.GetUser(ctx, ev.req.UserID)
	if err != nil {
		if !errors.Is(err, activity.ErrUserNotFound) {
			s.signalFailed(ctx, "user", err)
		}
		return nil
	}
	ev.user = u
	return u
}

// count runs a count query; on failure the signal is skipped.
func (s *Scorer) count(ctx context.Context, signal string, q activity.EventQuery) (int, bool) {
	n, err := s.store.CountEvents(ctx, q)
	if err != nil {
		s.signalFailed(ctx, signal, err)
		return 0, false
	}
	return n, true
}

func (s *Scorer) analyzeRegistration(ctx context.Context, ev *evaluation) {
	data := ev.req.Data

	if data.Email != "" {
		if _, err := validate.Email(data.Email); err != nil {
			ev.add("invalid_email", WeightInvalidEmail)
		} else {
			if suspiciousEmailPattern.MatchString(strings.ToLower(data.Email)) {
				ev.add("suspicious_email_pattern", WeightSuspiciousEmail)
			}
			if validate.IsDisposableEmail(data.Email) {
				ev.add("disposable_email_domain: "+validate.EmailDomain(data.Email), WeightDisposableEmail)
			}
		}
	}

	s.ipRisk(ctx, ev, ev.req.Context.ExpectedCountry)

	if addr := ev.req.Context.Address; addr != "" {
		n, ok := s.count(ctx, "registration_velocity", activity.EventQuery{
			Address: addr,
			Types:   []activity.EventType{activity.EventRegistration},
			Since:   ev.now.Add(-registrationWindow),
		})
		if ok && n > maxRegistrationsPerAddress {
			ev.add(fmt.Sprintf("multiple_registrations_from_ip: %d in 24h", n), WeightRegistrationVelocity)
		}
	}

	if name := strings.ToLower(strings.TrimSpace(data.Username)); name != "" && genericUsernamePattern.MatchString(name) {
		ev.add("generic_username", WeightGenericUsername)
	}
}

func (s *Scorer) analyzeLogin(ctx context.Context, ev *evaluation) {
	userID := ev.req.UserID

	failed, ok := s.count(ctx, "failed_logins", activity.EventQuery{
		UserID: userID,
		Types:  []activity.EventType{activity.EventLoginFailed},
		Since:  ev.now.Add(-failedLoginWindow),
	})
	if ok && failed >= failedLoginLimit {
		ev.add(fmt.Sprintf("multiple_failed_logins: %d in 1h", failed), WeightFailedLogins)
	}

	s.ipRisk(ctx, ev, s.expectedCountry(ctx, ev))
	s.travelCheck(ctx, ev)

	logins, ok := s.count(ctx, "rapid_logins", activity.EventQuery{
		UserID: userID,
		Types:  []activity.EventType{activity.EventLogin},
		Since:  ev.now.Add(-rapidLoginWindow),
	})
	if ok && logins > maxRapidLogins {
		ev.add(fmt.Sprintf("rapid_logins: %d in 5m", logins), WeightRapidLogins)
	}
}

// travelCheck compares the request address against the immediately-previous
// session. Missing coordinates on either side are not a signal.
func (s *Scorer) travelCheck(ctx context.Context, ev *evaluation) {
	addr := ev.req.Context.Address
	if s.geo == nil || addr == "" {
		return
	}
	prev, err := s.store.PreviousSession(ctx, ev.req.UserID, ev.now)
	if err != nil {
		if !errors.Is(err, activity.ErrSessionNotFound) {
			s.signalFailed(ctx, "travel", err)
		}
		return
	}
	if prev.Address == "" || prev.Address == addr {
		return
	}

	tv, err := s.geo.TravelVelocity(ctx, prev.Address, addr, ev.now.Sub(prev.CreatedAt))
	if err != nil {
		// Insufficient location data or a non-positive interval: no signal.
		return
	}
	switch {
	case tv.IsImpossibleTravel:
		ev.add(fmt.Sprintf("impossible_travel: %.0fkm/h over %.0fkm", tv.VelocityKmh, tv.DistanceKm), WeightImpossibleTravel)
	case tv.IsSuspiciousTravel:
		ev.add(fmt.Sprintf("suspicious_travel: %.0fkm/h over %.0fkm", tv.VelocityKmh, tv.DistanceKm), WeightSuspiciousTravel)
	}
}

func (s *Scorer) analyzeServiceCreation(ctx context.Context, ev *evaluation) {
	data := ev.req.Data

	if data.Price > 0 && data.Category != "" {
		stats, err := s.store.AveragePrice(ctx, data.Category, data.DurationMinutes, ev.now.Add(-priceHistoryWindow))
		switch {
		case err == nil && stats.Average > 0:
			deviation := math.Abs(data.Price-stats.Average) / stats.Average
			if deviation > priceDeviationLimit {
				ev.add(fmt.Sprintf("price_deviation: %.0f%% from category average", deviation*100),
					math.Min(MaxWeightPriceDeviation, priceDeviationScale*deviation))
			}
		case err != nil && !errors.Is(err, activity.ErrNoPriceData):
			s.signalFailed(ctx, "price_deviation", err)
		}
	}

	if u := s.loadUser(ctx, ev); u != nil && u.AccountAge(ev.now) < newProviderAge && data.Price > s.highValuePrice {
		ev.add("new_account_high_price", WeightNewAccountPrice)
	}

	if desc := validate.StripMarkup(data.Description); desc != "" {
		if hits := s.blacklist.hits(desc); len(hits) > 0 {
			ev.add("blacklisted_content: "+strings.Join(hits, ", "), WeightBlacklistedContent)
		}
	}

	n, ok := s.count(ctx, "service_velocity", activity.EventQuery{
		UserID: ev.req.UserID,
		Types:  []activity.EventType{activity.EventServiceCreated},
		Since:  ev.now.Add(-serviceCreationWindow),
	})
	if ok && n > maxServicesPerDay {
		ev.add(fmt.Sprintf("excessive_service_creation: %d in 24h", n), WeightServiceVelocity)
	}
}

func (s *Scorer) analyzeBookingRequest(ctx context.Context, ev *evaluation) {
	data := ev.req.Data

	if u := s.loadUser(ctx, ev); u != nil && u.AccountAge(ev.now) < newBookerAge && data.Amount > s.highValueBooking {
		ev.add("new_account_high_value_booking", WeightNewAccountBooking)
	}

	n, ok := s.count(ctx, "booking_velocity", activity.EventQuery{
		UserID: ev.req.UserID,
		Types:  []activity.EventType{activity.EventBookingRequest},
		Since:  ev.now.Add(-bookingWindow),
	})
	if ok && n > maxBookingsPerHour {
		ev.add(fmt.Sprintf("rapid_bookings: %d in 1h", n), WeightBookingVelocity)
	}

	s.locationCheck(ctx, ev)
}

// locationCheck flags bookings far from every area the user has been seen in.
func (s *Scorer) locationCheck(ctx context.Context, ev *evaluation) {
	data := ev.req.Data

	var (
		here geo.Point
		ok   bool
	)
	if data.Latitude != nil && data.Longitude != nil && geo.ValidCoordinates(*data.Latitude, *data.Longitude) {
		here, ok = geo.Point{Lat: *data.Latitude, Lng: *data.Longitude}, true
		ev.geohash = geo.Encode(here.Lat, here.Lng, geo.AreaPrecision)
	} else if s.geo != nil && ev.req.Context.Address != "" {
		loc := s.geo.Resolve(ctx, ev.req.Context.Address)
		here, ok = loc.Point()
		ev.geohash = loc.Geohash
	}
	if !ok {
		return
	}

	events, err := s.store.ListEvents(ctx, activity.EventQuery{
		UserID: ev.req.UserID,
		Since:  ev.now.Add(-locationHistoryWindow),
		Limit:  locationHistoryLimit,
	})
	if err != nil {
		s.signalFailed(ctx, "booking_location", err)
		return
	}

	seen := make(map[string]bool)
	nearest := math.Inf(1)
	for _, e := range events {
		cell := geo.CellOf(e.Latitude, e.Longitude, geo.AreaPrecision)
		if cell == "" || seen[cell] {
			continue
		}
		seen[cell] = true
		d := geo.HaversineKm(here, geo.Point{Lat: *e.Latitude, Lng: *e.Longitude})
		nearest = math.Min(nearest, d)
	}
	// No history means nothing to compare against.
	if len(seen) == 0 {
		return
	}
	if nearest > unusualLocationKm {
		ev.add(fmt.Sprintf("unusual_booking_location: %.0fkm from usual areas", nearest), WeightUnusualLocation)
	}
}

func (s *Scorer) analyzeMessage(_ context.Context, ev *evaluation) {
	text := strings.TrimSpace(validate.StripMarkup(ev.req.Data.Message))

	if len(s.urgency.hits(text)) > 0 {
		ev.add("urgency_language", WeightUrgencyLanguage)
	}
	if len(s.payment.hits(text)) > 0 {
		ev.add("suspicious_payment", WeightSuspiciousPayment)
	}
	if hasContactInfo(text) {
		ev.add("contact_info_shared", WeightContactInfo)
	}

	length := utf8.RuneCountInString(text)
	if length < minMessageLength {
		ev.add("very_short_message", WeightShortMessage)
	}
	if length > capsMinLength && capsRatio(text) > capsRatioLimit {
		ev.add("excessive_capitals", WeightExcessiveCaps)
	}
}

func (s *Scorer) analyzeProfileUpdate(ctx context.Context, ev *evaluation) {
	n, ok := s.count(ctx, "profile_updates", activity.EventQuery{
		UserID: ev.req.UserID,
		Types:  []activity.EventType{activity.EventProfileUpdated},
		Since:  ev.now.Add(-profileUpdateWindow),
	})
	if ok && n > maxProfileUpdatesDaily {
		ev.add(fmt.Sprintf("frequent_profile_updates: %d in 24h", n), WeightProfileUpdates)
	}
}
