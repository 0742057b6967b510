package geo

import (
	"errors"
	"math"
)

// EarthRadiusKm is the mean Earth radius used for haversine distance.
const EarthRadiusKm = 6371.0

// Travel thresholds.
const (
	ImpossibleTravelKmh   = 1000.0
	SuspiciousTravelKmh   = 500.0
	SuspiciousTravelHours = 2.0
)

var (
	// ErrInsufficientLocationData is returned when either address lacks coordinates.
	ErrInsufficientLocationData = errors.New("insufficient location data")
	// ErrInvalidElapsed is returned for a non-positive time delta.
	ErrInvalidElapsed = errors.New("elapsed time must be positive")
)

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64
	Lng float64
}

// ValidCoordinates reports whether lat/lng are finite and in range.
func ValidCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// HaversineKm returns the great-circle distance between a and b in kilometres.
func HaversineKm(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// Guard against rounding pushing h slightly past 1 for antipodal points.
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// TravelVelocity describes the implied speed between two locations.
type TravelVelocity struct {
	DistanceKm         float64 `json:"distance_km"`
	ElapsedHours       float64 `json:"elapsed_hours"`
	VelocityKmh        float64 `json:"velocity_kmh"`
	IsImpossibleTravel bool    `json:"is_impossible_travel"`
	IsSuspiciousTravel bool    `json:"is_suspicious_travel"`
}

// ComputeTravelVelocity derives a TravelVelocity from two points and an elapsed
// time in hours.
func ComputeTravelVelocity(a, b Point, elapsedHours float64) (TravelVelocity, error) {
	if !(elapsedHours > 0) {
		return TravelVelocity{}, ErrInvalidElapsed
	}
	d := HaversineKm(a, b)
	v := d / elapsedHours
	return TravelVelocity{
		DistanceKm:         d,
		ElapsedHours:       elapsedHours,
		VelocityKmh:        v,
		IsImpossibleTravel: v > ImpossibleTravelKmh,
		IsSuspiciousTravel: v > SuspiciousTravelKmh && elapsedHours < SuspiciousTravelHours,
	}, nil
}
