package geo

import (
	"net/netip"
	"strings"
	"time"
)

// Sentinel country codes.
const (
	CountryLocal   = "LOCAL"
	CountryUnknown = "XX"
)

// Source records where a LocationRecord came from.
type Source string

const (
	SourceProvider Source = "provider"
	SourceLocal    Source = "local"
	SourceUnknown  Source = "unknown"
)

// LocationRecord holds resolved attributes for one address. Records are
// treated as immutable once built.
type LocationRecord struct {
	CountryCode string    `json:"country_code"`
	Region      string    `json:"region,omitempty"`
	City        string    `json:"city,omitempty"`
	Latitude    *float64  `json:"latitude"`
	Longitude   *float64  `json:"longitude"`
	Timezone    string    `json:"timezone,omitempty"`
	ISP         string    `json:"isp,omitempty"`
	ASN         string    `json:"asn,omitempty"`
	Geohash     string    `json:"geohash,omitempty"`
	Source      Source    `json:"source"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// HasCoordinates reports whether both latitude and longitude are known.
func (r LocationRecord) HasCoordinates() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// HasSignal reports whether the record carries real location evidence.
// LocalNetwork and Unknown records do not.
func (r LocationRecord) HasSignal() bool {
	return r.CountryCode != "" && r.CountryCode != CountryLocal && r.CountryCode != CountryUnknown
}

// Point returns the coordinates, or ok=false if they are missing.
func (r LocationRecord) Point() (p Point, ok bool) {
	if !r.HasCoordinates() {
		return Point{}, false
	}
	return Point{Lat: *r.Latitude, Lng: *r.Longitude}, true
}

// LocalNetwork returns the sentinel record for private and loopback addresses.
func LocalNetwork(now time.Time) LocationRecord {
	return LocationRecord{
		CountryCode: CountryLocal,
		City:        "Local Network",
		Source:      SourceLocal,
		ResolvedAt:  now,
	}
}

// Unknown returns the sentinel record for addresses that could not be resolved.
func Unknown(now time.Time) LocationRecord {
	return LocationRecord{
		CountryCode: CountryUnknown,
		Source:      SourceUnknown,
		ResolvedAt:  now,
	}
}

// ThreatLevel summarizes SecurityAttributes.
type ThreatLevel string

const (
	ThreatLow     ThreatLevel = "low"
	ThreatMedium  ThreatLevel = "medium"
	ThreatHigh    ThreatLevel = "high"
	ThreatUnknown ThreatLevel = "unknown"
)

// SecurityAttributes are the threat flags for one address.
type SecurityAttributes struct {
	IsKnownAttacker bool        `json:"is_known_attacker"`
	IsProxy         bool        `json:"is_proxy"`
	IsVPN           bool        `json:"is_vpn"`
	IsTor           bool        `json:"is_tor"`
	IsBot           bool        `json:"is_bot"`
	IsSpam          bool        `json:"is_spam"`
	ThreatLevel     ThreatLevel `json:"threat_level"`
}

// UnknownSecurity is returned when the security lookup fails.
func UnknownSecurity() SecurityAttributes {
	return SecurityAttributes{ThreatLevel: ThreatUnknown}
}

// DeriveThreatLevel computes the threat level from the flags alone.
func DeriveThreatLevel(s SecurityAttributes) ThreatLevel {
	switch {
	case s.IsKnownAttacker || s.IsTor:
		return ThreatHigh
	case s.IsProxy || s.IsVPN || s.IsBot || s.IsSpam:
		return ThreatMedium
	default:
		return ThreatLow
	}
}

type addressClass int

const (
	addressPublic addressClass = iota
	addressLocal
	addressInvalid
)

// classifyAddress decides whether an address needs a provider lookup.
func classifyAddress(address string) (netip.Addr, addressClass) {
	address = strings.TrimSpace(address)
	if strings.EqualFold(address, "localhost") {
		return netip.Addr{}, addressLocal
	}
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return netip.Addr{}, addressInvalid
	}
	addr = addr.Unmap().WithZone("")
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified() {
		return addr, addressLocal
	}
	return addr, addressPublic
}
