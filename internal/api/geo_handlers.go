package api

import (
	"context"
	"net/http"
	"net/netip"

	"github.com/onnwee/trustrank/internal/geo"
	"github.com/onnwee/trustrank/internal/validate"
)

// GeoLookup resolves addresses for the geo endpoints.
type GeoLookup interface {
	Resolve(ctx context.Context, address string) geo.LocationRecord
	SecurityAttributes(ctx context.Context, address string) geo.SecurityAttributes
	AnalyzeRisk(ctx context.Context, address, expectedCountry string) geo.RiskAnalysis
}

// GeoHandlers holds dependencies for geo HTTP handlers.
type GeoHandlers struct {
	resolver GeoLookup
}

// NewGeoHandlers creates a new GeoHandlers instance.
func NewGeoHandlers(resolver GeoLookup) *GeoHandlers {
	return &GeoHandlers{resolver: resolver}
}

// LookupResponse is the body of GET /v1/geo/{ip}.
type LookupResponse struct {
	Location geo.LocationRecord     `json:"location"`
	Security geo.SecurityAttributes `json:"security"`
}

func pathAddress(w http.ResponseWriter, r *http.Request) (string, bool) {
	addr, err := netip.ParseAddr(r.PathValue("ip"))
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeInvalidAddress, "ip must be an IPv4 or IPv6 address")
		return "", false
	}
	return addr.String(), true
}

// Lookup handles GET /v1/geo/{ip}.
func (h *GeoHandlers) Lookup(w http.ResponseWriter, r *http.Request) {
	address, ok := pathAddress(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, LookupResponse{
		Location: h.resolver.Resolve(r.Context(), address),
		Security: h.resolver.SecurityAttributes(r.Context(), address),
	})
}

// Risk handles GET /v1/geo/{ip}/risk. The optional expected query parameter
// is the country the caller expects the address to be in.
func (h *GeoHandlers) Risk(w http.ResponseWriter, r *http.Request) {
	address, ok := pathAddress(w, r)
	if !ok {
		return
	}
	var expected string
	if e := r.URL.Query().Get("expected"); e != "" {
		var err error
		if expected, err = validate.CountryCode(e); err != nil {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "expected must be a two-letter country code")
			return
		}
	}
	writeJSON(w, r, http.StatusOK, h.resolver.AnalyzeRisk(r.Context(), address, expected))
}
