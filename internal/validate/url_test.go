package validate

import (
	"errors"
	"net/netip"
	"strings"
	"testing"
)

func TestURL(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		constraints URLConstraints
		wantErr     error
	}{
		{
			name:        "https allowed",
			input:       "https://geo.example.com/v1",
			constraints: URLConstraints{AllowedSchemes: []string{"https"}},
		},
		{
			name:        "scheme rejected",
			input:       "ftp://geo.example.com",
			constraints: URLConstraints{AllowedSchemes: []string{"https", "http"}},
			wantErr:     ErrDisallowedScheme,
		},
		{
			name:    "empty",
			input:   "  ",
			wantErr: ErrEmpty,
		},
		{
			name:    "missing host",
			input:   "https://",
			wantErr: ErrInvalidURL,
		},
		{
			name:        "too long",
			input:       "https://example.com/" + strings.Repeat("a", 100),
			constraints: URLConstraints{MaxLength: 50},
			wantErr:     ErrStringTooLong,
		},
		{
			name:        "loopback literal blocked",
			input:       "http://127.0.0.1:8080",
			constraints: URLConstraints{BlockPrivate: true},
			wantErr:     ErrSSRFRisk,
		},
		{
			name:        "localhost blocked",
			input:       "http://localhost:8080",
			constraints: URLConstraints{BlockPrivate: true},
			wantErr:     ErrSSRFRisk,
		},
		{
			name:        "private literal allowed without blocking",
			input:       "http://10.0.0.5:8080",
			constraints: ProviderURLConstraints,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := URL(tt.input, tt.constraints)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("URL(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestProviderURL(t *testing.T) {
	if _, err := ProviderURL("https://ipgeo.internal/v1"); err != nil {
		t.Errorf("ProviderURL() error = %v", err)
	}
	if _, err := ProviderURL("file:///etc/passwd"); !errors.Is(err, ErrDisallowedScheme) {
		t.Errorf("ProviderURL(file) error = %v, want %v", err, ErrDisallowedScheme)
	}
}

func TestIsPrivateAddr(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{addr: "127.0.0.1", want: true},
		{addr: "10.1.2.3", want: true},
		{addr: "172.16.0.1", want: true},
		{addr: "192.168.1.1", want: true},
		{addr: "169.254.1.1", want: true},
		{addr: "::1", want: true},
		{addr: "fd00::1", want: true},
		{addr: "::ffff:192.168.0.1", want: true},
		{addr: "8.8.8.8", want: false},
		{addr: "41.66.0.1", want: false},
		{addr: "2001:4860:4860::8888", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			if got := isPrivateAddr(netip.MustParseAddr(tt.addr)); got != tt.want {
				t.Errorf("isPrivateAddr(%s) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}
