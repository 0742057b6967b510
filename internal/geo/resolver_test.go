package geo

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/trustrank/internal/cache"
)

func floatPtr(v float64) *float64 { return &v }

type fakeProvider struct {
	mu          sync.Mutex
	locations   map[string]*LocationPayload
	security    map[string]*SecurityPayload
	lookupErr   error
	securityErr error
	delay       time.Duration
	// gate, when set, holds Lookup until it is closed or ctx is done.
	gate chan struct{}

	lookupCalls   atomic.Int32
	securityCalls atomic.Int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		locations: map[string]*LocationPayload{},
		security:  map[string]*SecurityPayload{},
	}
}

func (p *fakeProvider) Lookup(ctx context.Context, ip string) (*LocationPayload, error) {
	p.lookupCalls.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.lookupErr != nil {
		return nil, p.lookupErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if loc, ok := p.locations[ip]; ok {
		return loc, nil
	}
	return nil, errors.New("not found")
}

func (p *fakeProvider) Security(ctx context.Context, ip string) (*SecurityPayload, error) {
	p.securityCalls.Add(1)
	if p.securityErr != nil {
		return nil, p.securityErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.security[ip]; ok {
		return s, nil
	}
	return &SecurityPayload{}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestResolver(p Provider, highRisk ...string) *Resolver {
	return NewResolver(ResolverConfig{
		Provider:          p,
		HighRiskCountries: highRisk,
		Logger:            quietLogger(),
		Metrics:           NewMetrics(),
	})
}

func accraPayload() *LocationPayload {
	return &LocationPayload{
		CountryCode: "gh",
		Region:      "Greater Accra",
		City:        "Accra",
		Latitude:    floatPtr(5.6037),
		Longitude:   floatPtr(-0.1870),
		Timezone:    "Africa/Accra",
		ISP:         "Example Telecom",
		ASN:         "AS29614",
	}
}

func TestResolve_LocalAddressesSkipProvider(t *testing.T) {
	p := newFakeProvider()
	r := newTestResolver(p)

	for _, addr := range []string{"127.0.0.1", "10.0.0.8", "192.168.1.20", "172.16.4.4", "::1", "fe80::1", "localhost", "0.0.0.0"} {
		rec := r.Resolve(context.Background(), addr)
		if rec.CountryCode != CountryLocal {
			t.Errorf("Resolve(%q).CountryCode = %q, want %q", addr, rec.CountryCode, CountryLocal)
		}
		if rec.HasSignal() {
			t.Errorf("Resolve(%q).HasSignal() = true, want false", addr)
		}
	}
	if n := p.lookupCalls.Load(); n != 0 {
		t.Errorf("provider Lookup called %d times, want 0", n)
	}
}

func TestResolve_InvalidAddressIsUnknownWithoutLookup(t *testing.T) {
	p := newFakeProvider()
	r := newTestResolver(p)

	rec := r.Resolve(context.Background(), "not-an-ip")
	if rec.CountryCode != CountryUnknown {
		t.Errorf("CountryCode = %q, want %q", rec.CountryCode, CountryUnknown)
	}
	if n := p.lookupCalls.Load(); n != 0 {
		t.Errorf("provider Lookup called %d times, want 0", n)
	}
}

func TestResolve_MapsPayloadAndCaches(t *testing.T) {
	p := newFakeProvider()
	p.locations["41.66.0.1"] = accraPayload()
	r := newTestResolver(p)
	ctx := context.Background()

	rec := r.Resolve(ctx, "41.66.0.1")
	if rec.CountryCode != "GH" || rec.City != "Accra" {
		t.Errorf("Resolve() = %+v, want GH/Accra", rec)
	}
	if !rec.HasCoordinates() {
		t.Fatal("expected coordinates")
	}
	if rec.Geohash == "" || len(rec.Geohash) != DefaultPrecision {
		t.Errorf("Geohash = %q, want %d chars", rec.Geohash, DefaultPrecision)
	}
	if rec.Source != SourceProvider {
		t.Errorf("Source = %q, want %q", rec.Source, SourceProvider)
	}

	again := r.Resolve(ctx, "41.66.0.1")
	if again.ResolvedAt != rec.ResolvedAt {
		t.Error("second Resolve() did not return the cached record")
	}
	if n := p.lookupCalls.Load(); n != 1 {
		t.Errorf("provider Lookup called %d times, want 1", n)
	}
}

func TestResolve_RefreshesAfterTTL(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	p := newFakeProvider()
	p.locations["41.66.0.1"] = accraPayload()
	r := NewResolver(ResolverConfig{
		Provider: p,
		Cache:    cache.NewMemoryCache[LocationRecord](cache.WithClock(clock)),
		Logger:   quietLogger(),
		Now:      clock,
	})
	ctx := context.Background()

	r.Resolve(ctx, "41.66.0.1")
	now = now.Add(DefaultCacheTTL)
	r.Resolve(ctx, "41.66.0.1")

	if n := p.lookupCalls.Load(); n != 2 {
		t.Errorf("provider Lookup called %d times, want 2", n)
	}
}

func TestResolve_ProviderFailureFailsOpen(t *testing.T) {
	tests := []struct {
		name    string
		payload *LocationPayload
		err     error
	}{
		{name: "provider error", err: errors.New("timeout")},
		{name: "missing country", payload: &LocationPayload{City: "Nowhere"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider()
			p.lookupErr = tt.err
			if tt.payload != nil {
				p.locations["8.8.8.8"] = tt.payload
			}
			r := newTestResolver(p)

			rec := r.Resolve(context.Background(), "8.8.8.8")
			if rec.CountryCode != CountryUnknown {
				t.Errorf("CountryCode = %q, want %q", rec.CountryCode, CountryUnknown)
			}

			r.Resolve(context.Background(), "8.8.8.8")
			if n := p.lookupCalls.Load(); n != 2 {
				t.Errorf("unknown result was cached: Lookup called %d times, want 2", n)
			}
		})
	}
}

func TestResolve_ConcurrentCallsShareOneLookup(t *testing.T) {
	p := newFakeProvider()
	p.locations["41.66.0.1"] = accraPayload()
	p.delay = 50 * time.Millisecond
	r := newTestResolver(p)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rec := r.Resolve(context.Background(), "41.66.0.1"); rec.CountryCode != "GH" {
				t.Errorf("CountryCode = %q, want GH", rec.CountryCode)
			}
		}()
	}
	wg.Wait()

	if n := p.lookupCalls.Load(); n != 1 {
		t.Errorf("provider Lookup called %d times, want 1", n)
	}
}

func TestResolve_CancelledCallerDoesNotFailSharedLookup(t *testing.T) {
	p := newFakeProvider()
	p.locations["41.66.0.2"] = accraPayload()
	p.gate = make(chan struct{})
	r := newTestResolver(p)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan LocationRecord, 1)
	go func() { first <- r.Resolve(ctx, "41.66.0.2") }()
	waitFor(t, func() bool { return p.lookupCalls.Load() == 1 })

	second := make(chan LocationRecord, 1)
	go func() { second <- r.Resolve(context.Background(), "41.66.0.2") }()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case rec := <-first:
		if rec.Source != SourceUnknown {
			t.Errorf("cancelled caller Source = %q, want %q", rec.Source, SourceUnknown)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(p.gate)
	select {
	case rec := <-second:
		if rec.CountryCode != "GH" {
			t.Errorf("waiting caller CountryCode = %q, want GH", rec.CountryCode)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiting caller did not return")
	}
	if n := p.lookupCalls.Load(); n != 1 {
		t.Errorf("provider Lookup called %d times, want 1", n)
	}
	if rec, ok := r.cache.Get(context.Background(), "41.66.0.2"); !ok || rec.CountryCode != "GH" {
		t.Errorf("cache = %+v, %v; want GH entry", rec, ok)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSecurityAttributes_FailOpen(t *testing.T) {
	p := newFakeProvider()
	p.securityErr = errors.New("503")
	r := newTestResolver(p)

	got := r.SecurityAttributes(context.Background(), "8.8.8.8")
	want := SecurityAttributes{ThreatLevel: ThreatUnknown}
	if got != want {
		t.Errorf("SecurityAttributes() = %+v, want %+v", got, want)
	}
}

func TestSecurityAttributes_LocalAddress(t *testing.T) {
	p := newFakeProvider()
	r := newTestResolver(p)

	got := r.SecurityAttributes(context.Background(), "127.0.0.1")
	if got.ThreatLevel != ThreatUnknown {
		t.Errorf("ThreatLevel = %q, want %q", got.ThreatLevel, ThreatUnknown)
	}
	if n := p.securityCalls.Load(); n != 0 {
		t.Errorf("provider Security called %d times, want 0", n)
	}
}

func TestAnalyzeRisk_Factors(t *testing.T) {
	tests := []struct {
		name        string
		security    *SecurityPayload
		expected    string
		highRisk    []string
		wantScore   float64
		wantLevel   ThreatLevel
		wantSusp    bool
		wantFactors []string
	}{
		{
			name:      "clean",
			security:  &SecurityPayload{},
			wantScore: 0, wantLevel: ThreatLow,
		},
		{
			name:        "vpn only",
			security:    &SecurityPayload{IsVPN: true},
			wantScore:   0.3,
			wantLevel:   ThreatLow,
			wantFactors: []string{"vpn_detected"},
		},
		{
			name:        "vpn and country mismatch",
			security:    &SecurityPayload{IsVPN: true},
			expected:    "ng",
			wantScore:   0.7,
			wantLevel:   ThreatMedium,
			wantSusp:    true,
			wantFactors: []string{"vpn_detected", "country_mismatch: expected NG, got GH"},
		},
		{
			name:        "tor and attacker clamps",
			security:    &SecurityPayload{IsTor: true, IsKnownAttacker: true},
			wantScore:   1,
			wantLevel:   ThreatHigh,
			wantSusp:    true,
			wantFactors: []string{"tor_exit_node", "known_attacker"},
		},
		{
			name:        "high risk country",
			security:    &SecurityPayload{IsBot: true},
			highRisk:    []string{"gh"},
			wantScore:   0.8,
			wantLevel:   ThreatHigh,
			wantSusp:    true,
			wantFactors: []string{"bot_activity", "high_risk_country: GH"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider()
			p.locations["41.66.0.1"] = accraPayload()
			p.security["41.66.0.1"] = tt.security
			r := newTestResolver(p, tt.highRisk...)

			got := r.AnalyzeRisk(context.Background(), "41.66.0.1", tt.expected)
			if diff := got.RiskScore - tt.wantScore; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("RiskScore = %v, want %v", got.RiskScore, tt.wantScore)
			}
			if got.RiskLevel != tt.wantLevel {
				t.Errorf("RiskLevel = %q, want %q", got.RiskLevel, tt.wantLevel)
			}
			if got.IsSuspicious != tt.wantSusp {
				t.Errorf("IsSuspicious = %v, want %v", got.IsSuspicious, tt.wantSusp)
			}
			if strings.Join(got.RiskFactors, "|") != strings.Join(tt.wantFactors, "|") {
				t.Errorf("RiskFactors = %v, want %v", got.RiskFactors, tt.wantFactors)
			}
		})
	}
}

func TestAnalyzeRisk_UnknownLocationIsNoSignal(t *testing.T) {
	p := newFakeProvider()
	p.lookupErr = errors.New("down")
	p.securityErr = errors.New("down")
	r := newTestResolver(p, "XX")

	got := r.AnalyzeRisk(context.Background(), "8.8.8.8", "GH")
	if got.RiskScore != 0 || len(got.RiskFactors) != 0 {
		t.Errorf("AnalyzeRisk() = score %v factors %v, want no signal", got.RiskScore, got.RiskFactors)
	}
	if got.Location.CountryCode != CountryUnknown {
		t.Errorf("Location.CountryCode = %q, want %q", got.Location.CountryCode, CountryUnknown)
	}
}

func TestAnalyzeRisk_MonotonicInFlags(t *testing.T) {
	r := newTestResolver(newFakeProvider(), "NG")
	loc := LocationRecord{CountryCode: "NG"}

	setters := []func(*SecurityAttributes){
		func(s *SecurityAttributes) { s.IsVPN = true },
		func(s *SecurityAttributes) { s.IsProxy = true },
		func(s *SecurityAttributes) { s.IsTor = true },
		func(s *SecurityAttributes) { s.IsKnownAttacker = true },
		func(s *SecurityAttributes) { s.IsBot = true },
		func(s *SecurityAttributes) { s.IsSpam = true },
	}

	// Enumerate every base combination and check that enabling each flag never lowers the score.
	for mask := 0; mask < 1<<len(setters); mask++ {
		var base SecurityAttributes
		for i, set := range setters {
			if mask&(1<<i) != 0 {
				set(&base)
			}
		}
		baseScore := r.scoreRisk(loc, base, "GH").RiskScore
		for i, set := range setters {
			with := base
			set(&with)
			if s := r.scoreRisk(loc, with, "GH").RiskScore; s < baseScore {
				t.Fatalf("mask %b flag %d: score %v < base %v", mask, i, s, baseScore)
			}
		}
	}
}

func TestTravelVelocity(t *testing.T) {
	p := newFakeProvider()
	p.locations["41.66.0.1"] = accraPayload()
	p.locations["102.89.0.1"] = &LocationPayload{CountryCode: "NG", City: "Lagos", Latitude: floatPtr(6.5244), Longitude: floatPtr(3.3792)}
	p.locations["1.1.1.1"] = &LocationPayload{CountryCode: "AU"}
	r := newTestResolver(p)
	ctx := context.Background()

	ab, err := r.TravelVelocity(ctx, "41.66.0.1", "102.89.0.1", time.Hour)
	if err != nil {
		t.Fatalf("TravelVelocity() error = %v", err)
	}
	ba, err := r.TravelVelocity(ctx, "102.89.0.1", "41.66.0.1", time.Hour)
	if err != nil {
		t.Fatalf("TravelVelocity() error = %v", err)
	}
	if ab.DistanceKm != ba.DistanceKm {
		t.Errorf("distance not symmetric: %v vs %v", ab.DistanceKm, ba.DistanceKm)
	}
	if ab.DistanceKm < 390 || ab.DistanceKm > 420 {
		t.Errorf("Accra-Lagos distance = %v km, want ~400", ab.DistanceKm)
	}

	fast, _ := r.TravelVelocity(ctx, "41.66.0.1", "102.89.0.1", 10*time.Minute)
	if !fast.IsImpossibleTravel {
		t.Errorf("velocity %v km/h over 10 minutes should be impossible", fast.VelocityKmh)
	}

	if _, err := r.TravelVelocity(ctx, "41.66.0.1", "1.1.1.1", time.Hour); !errors.Is(err, ErrInsufficientLocationData) {
		t.Errorf("TravelVelocity() without coordinates error = %v, want %v", err, ErrInsufficientLocationData)
	}
	if _, err := r.TravelVelocity(ctx, "41.66.0.1", "127.0.0.1", time.Hour); !errors.Is(err, ErrInsufficientLocationData) {
		t.Errorf("TravelVelocity() to local address error = %v, want %v", err, ErrInsufficientLocationData)
	}
	if _, err := r.TravelVelocity(ctx, "41.66.0.1", "102.89.0.1", 0); !errors.Is(err, ErrInvalidElapsed) {
		t.Errorf("TravelVelocity() zero elapsed error = %v, want %v", err, ErrInvalidElapsed)
	}
}
