package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// Defaults for HTTPProvider.
const (
	DefaultProviderTimeout = 3 * time.Second
	DefaultProviderRPS     = 10
	maxProviderBody        = 64 << 10
)

// ErrProviderStatus is wrapped for non-2xx provider responses.
var ErrProviderStatus = errors.New("geo provider returned non-2xx status")

// HTTPProviderConfig configures an HTTPProvider.
type HTTPProviderConfig struct {
	// BaseURL is the provider root, e.g. https://geo.example.com.
	// Requests go to {BaseURL}/v1/lookup/{ip} and {BaseURL}/v1/security/{ip}.
	BaseURL string
	APIKey  string
	// Timeout bounds each call including time spent waiting on the rate limiter.
	Timeout time.Duration
	// RequestsPerSecond limits outbound calls. Zero uses DefaultProviderRPS.
	RequestsPerSecond float64
	// Transport overrides the base transport, mainly for tests.
	Transport http.RoundTripper
}

// HTTPProvider is a Provider speaking JSON over HTTP.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPProvider creates an HTTPProvider.
func NewHTTPProvider(cfg HTTPProviderConfig) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("geo provider base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid geo provider URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProviderTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultProviderRPS
	}
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	return &HTTPProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(base),
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
	}, nil
}

// Lookup implements Provider.
func (p *HTTPProvider) Lookup(ctx context.Context, ip string) (*LocationPayload, error) {
	var payload LocationPayload
	if err := p.get(ctx, "/v1/lookup/", ip, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Security implements Provider.
func (p *HTTPProvider) Security(ctx context.Context, ip string) (*SecurityPayload, error) {
	var payload SecurityPayload
	if err := p.get(ctx, "/v1/security/", ip, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (p *HTTPProvider) get(ctx context.Context, path, ip string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("geo provider rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path+url.PathEscape(ip), nil)
	if err != nil {
		return fmt.Errorf("failed to build geo provider request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("geo provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxProviderBody))
		return fmt.Errorf("%w: %d", ErrProviderStatus, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProviderBody)).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
