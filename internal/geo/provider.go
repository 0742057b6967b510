package geo

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrMalformedPayload is returned by adapters for payloads that cannot be mapped.
var ErrMalformedPayload = errors.New("malformed provider payload")

// Provider looks up raw location and security payloads for a public address.
// Implementations must honour ctx cancellation.
type Provider interface {
	Lookup(ctx context.Context, ip string) (*LocationPayload, error)
	Security(ctx context.Context, ip string) (*SecurityPayload, error)
}

// LocationPayload is the provider's location response.
type LocationPayload struct {
	CountryCode string   `json:"country_code"`
	Region      string   `json:"region"`
	City        string   `json:"city"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Timezone    string   `json:"timezone"`
	ISP         string   `json:"isp"`
	ASN         string   `json:"asn"`
}

// SecurityPayload is the provider's threat response.
type SecurityPayload struct {
	IsKnownAttacker bool   `json:"is_known_attacker"`
	IsProxy         bool   `json:"is_proxy"`
	IsVPN           bool   `json:"is_vpn"`
	IsTor           bool   `json:"is_tor"`
	IsBot           bool   `json:"is_bot"`
	IsSpam          bool   `json:"is_spam"`
	ThreatLevel     string `json:"threat_level"`
}

// ToRecord maps a payload into a LocationRecord. Out-of-range coordinates are
// dropped rather than rejected; a missing country code is malformed.
func (p *LocationPayload) ToRecord(now time.Time) (LocationRecord, error) {
	if p == nil {
		return LocationRecord{}, ErrMalformedPayload
	}
	cc := strings.ToUpper(strings.TrimSpace(p.CountryCode))
	if len(cc) != 2 {
		return LocationRecord{}, ErrMalformedPayload
	}

	rec := LocationRecord{
		CountryCode: cc,
		Region:      strings.TrimSpace(p.Region),
		City:        strings.TrimSpace(p.City),
		Timezone:    p.Timezone,
		ISP:         p.ISP,
		ASN:         p.ASN,
		Source:      SourceProvider,
		ResolvedAt:  now,
	}
	if p.Latitude != nil && p.Longitude != nil && ValidCoordinates(*p.Latitude, *p.Longitude) {
		lat, lng := *p.Latitude, *p.Longitude
		rec.Latitude = &lat
		rec.Longitude = &lng
		rec.Geohash = Encode(lat, lng, DefaultPrecision)
	}
	return rec, nil
}

// ToAttributes maps a payload into SecurityAttributes. A threat level reported
// by the provider is kept only when it is higher than the one derived from
// the flags.
func (p *SecurityPayload) ToAttributes() (SecurityAttributes, error) {
	if p == nil {
		return SecurityAttributes{}, ErrMalformedPayload
	}
	attrs := SecurityAttributes{
		IsKnownAttacker: p.IsKnownAttacker,
		IsProxy:         p.IsProxy,
		IsVPN:           p.IsVPN,
		IsTor:           p.IsTor,
		IsBot:           p.IsBot,
		IsSpam:          p.IsSpam,
	}
	attrs.ThreatLevel = DeriveThreatLevel(attrs)
	if reported := ThreatLevel(strings.ToLower(p.ThreatLevel)); threatRank(reported) > threatRank(attrs.ThreatLevel) {
		attrs.ThreatLevel = reported
	}
	return attrs, nil
}

func threatRank(l ThreatLevel) int {
	switch l {
	case ThreatLow:
		return 1
	case ThreatMedium:
		return 2
	case ThreatHigh:
		return 3
	default:
		return 0
	}
}
