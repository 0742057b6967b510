// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/onnwee/trustrank/internal/validate"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Storage. Both are optional: empty selects in-memory implementations.
	DatabaseURL string `koanf:"database_url"`
	RedisURL    string `koanf:"redis_url"`

	// JWT Authentication
	JWTSecret         string `koanf:"jwt_secret"`
	// JWTSecretPrevious keeps tokens signed before a key rotation valid.
	JWTSecretPrevious string `koanf:"jwt_secret_previous"`

	// Geo provider
	GeoProviderURL     string        `koanf:"geo_provider_url"`
	GeoProviderAPIKey  string        `koanf:"geo_provider_api_key"`
	GeoProviderTimeout time.Duration `koanf:"geo_provider_timeout"`
	GeoProviderRPS     float64       `koanf:"geo_provider_rps"`
	GeoCacheTTL        time.Duration `koanf:"geo_cache_ttl"`
	GeoCacheMaxEntries int           `koanf:"geo_cache_max_entries"`
	HighRiskCountries  []string      `koanf:"high_risk_countries"`

	// Ranking
	RankingCalibrationPath string        `koanf:"ranking_calibration_path"`
	RankingPoolSize        int           `koanf:"ranking_pool_size"`
	PreferenceCacheTTL     time.Duration `koanf:"preference_cache_ttl"`

	// Risk
	RiskHighValuePrice   float64 `koanf:"risk_high_value_price"`
	RiskHighValueBooking float64 `koanf:"risk_high_value_booking"`

	// Tracing
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	OTLPEndpoint        string  `koanf:"otlp_endpoint"`
	TracingSamplingRate float64 `koanf:"tracing_sampling_rate"`
}

// Configuration validation errors.
var (
	ErrMissingJWTSecret      = errors.New("JWT_SECRET is required")
	ErrMissingGeoProviderURL = errors.New("GEO_PROVIDER_URL is required")
	ErrInvalidGeoProviderURL = errors.New("GEO_PROVIDER_URL is invalid")
	ErrInvalidPort           = errors.New("PORT must be a valid integer")
	ErrInvalidNumber         = errors.New("value must be a valid number")
	ErrInvalidDuration       = errors.New("value must be a valid duration")
	ErrInvalidSamplingRate   = errors.New("TRACING_SAMPLING_RATE must be between 0 and 1")
)

// Default values for non-secret configuration.
const (
	DefaultPort                 = 8080
	DefaultEnv                  = "development"
	DefaultGeoProviderTimeout   = 3 * time.Second
	DefaultGeoProviderRPS       = 10.0
	DefaultGeoCacheTTL          = 24 * time.Hour
	DefaultGeoCacheMaxEntries   = 10000
	DefaultRankingPoolSize      = 100
	DefaultPreferenceCacheTTL   = 5 * time.Minute
	DefaultRiskHighValuePrice   = 500.0
	DefaultRiskHighValueBooking = 200.0
	DefaultTracingSamplingRate  = 0.1
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	collect := func(err error) {
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
	}

	// Try TRUSTRANK_PORT first, then PORT
	port, err := getEnvIntOrDefaultMulti([]string{"TRUSTRANK_PORT", "PORT"}, k.Int("port"), DefaultPort)
	collect(err)
	geoTimeout, err := getEnvDurationOrDefault("GEO_PROVIDER_TIMEOUT", k.Duration("geo_provider_timeout"), DefaultGeoProviderTimeout)
	collect(err)
	geoRPS, err := getEnvFloatOrDefault("GEO_PROVIDER_RPS", k.Float64("geo_provider_rps"), DefaultGeoProviderRPS)
	collect(err)
	geoCacheTTL, err := getEnvDurationOrDefault("GEO_CACHE_TTL", k.Duration("geo_cache_ttl"), DefaultGeoCacheTTL)
	collect(err)
	geoCacheMax, err := getEnvIntOrDefault("GEO_CACHE_MAX_ENTRIES", k.Int("geo_cache_max_entries"), DefaultGeoCacheMaxEntries)
	collect(err)
	poolSize, err := getEnvIntOrDefault("RANKING_POOL_SIZE", k.Int("ranking_pool_size"), DefaultRankingPoolSize)
	collect(err)
	prefTTL, err := getEnvDurationOrDefault("PREFERENCE_CACHE_TTL", k.Duration("preference_cache_ttl"), DefaultPreferenceCacheTTL)
	collect(err)
	highValuePrice, err := getEnvFloatOrDefault("RISK_HIGH_VALUE_PRICE", k.Float64("risk_high_value_price"), DefaultRiskHighValuePrice)
	collect(err)
	highValueBooking, err := getEnvFloatOrDefault("RISK_HIGH_VALUE_BOOKING", k.Float64("risk_high_value_booking"), DefaultRiskHighValueBooking)
	collect(err)
	samplingRate, err := getEnvFloatOrDefault("TRACING_SAMPLING_RATE", k.Float64("tracing_sampling_rate"), DefaultTracingSamplingRate)
	collect(err)

	tracingEnabled := k.Bool("tracing_enabled")
	if val, ok := parseBool(os.Getenv("TRACING_ENABLED")); ok {
		tracingEnabled = val
	}

	highRisk := k.Strings("high_risk_countries")
	if val := os.Getenv("HIGH_RISK_COUNTRIES"); val != "" {
		highRisk = strings.Split(val, ",")
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:                   port,
		Env:                    getEnvOrDefaultMulti([]string{"TRUSTRANK_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:            getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:               getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		JWTSecret:              getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTSecretPrevious:      getEnvOrKoanf("JWT_SECRET_PREVIOUS", k, "jwt_secret_previous"),
		GeoProviderURL:         getEnvOrKoanf("GEO_PROVIDER_URL", k, "geo_provider_url"),
		GeoProviderAPIKey:      getEnvOrKoanf("GEO_PROVIDER_API_KEY", k, "geo_provider_api_key"),
		GeoProviderTimeout:     geoTimeout,
		GeoProviderRPS:         geoRPS,
		GeoCacheTTL:            geoCacheTTL,
		GeoCacheMaxEntries:     geoCacheMax,
		HighRiskCountries:      normalizeCountries(highRisk),
		RankingCalibrationPath: getEnvOrKoanf("RANKING_CALIBRATION_PATH", k, "ranking_calibration_path"),
		RankingPoolSize:        poolSize,
		PreferenceCacheTTL:     prefTTL,
		RiskHighValuePrice:     highValuePrice,
		RiskHighValueBooking:   highValueBooking,
		TracingEnabled:         tracingEnabled,
		OTLPEndpoint:           getEnvOrKoanf("OTLP_ENDPOINT", k, "otlp_endpoint"),
		TracingSamplingRate:    samplingRate,
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", envKey, ErrInvalidNumber)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", envKey, ErrInvalidNumber)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault parses Go duration strings such as "3s" or "24h".
func getEnvDurationOrDefault(envKey string, koanfVal time.Duration, defaultVal time.Duration) (time.Duration, error) {
	if val := os.Getenv(envKey); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", envKey, ErrInvalidDuration)
		}
		return d, nil
	}
	if koanfVal > 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

func parseBool(val string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	}
	return false, false
}

func normalizeCountries(codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.GeoProviderURL == "" {
		errs = append(errs, ErrMissingGeoProviderURL)
	} else if _, err := validate.ProviderURL(c.GeoProviderURL); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidGeoProviderURL, err))
	}
	if c.TracingSamplingRate < 0 || c.TracingSamplingRate > 1 {
		errs = append(errs, ErrInvalidSamplingRate)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                     strconv.Itoa(c.Port),
		"env":                      c.Env,
		"database_url":             maskDatabaseURL(c.DatabaseURL),
		"redis_url":                maskDatabaseURL(c.RedisURL),
		"jwt_secret":               maskSecret(c.JWTSecret),
		"jwt_secret_previous":      maskSecret(c.JWTSecretPrevious),
		"geo_provider_url":         c.GeoProviderURL,
		"geo_provider_api_key":     maskSecret(c.GeoProviderAPIKey),
		"geo_provider_timeout":     c.GeoProviderTimeout.String(),
		"geo_provider_rps":         strconv.FormatFloat(c.GeoProviderRPS, 'f', -1, 64),
		"geo_cache_ttl":            c.GeoCacheTTL.String(),
		"geo_cache_max_entries":    strconv.Itoa(c.GeoCacheMaxEntries),
		"high_risk_countries":      strings.Join(c.HighRiskCountries, ","),
		"ranking_calibration_path": c.RankingCalibrationPath,
		"ranking_pool_size":        strconv.Itoa(c.RankingPoolSize),
		"preference_cache_ttl":     c.PreferenceCacheTTL.String(),
		"risk_high_value_price":    strconv.FormatFloat(c.RiskHighValuePrice, 'f', -1, 64),
		"risk_high_value_booking":  strconv.FormatFloat(c.RiskHighValueBooking, 'f', -1, 64),
		"tracing_enabled":          strconv.FormatBool(c.TracingEnabled),
		"otlp_endpoint":            c.OTLPEndpoint,
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a connection URL.
// Works for postgres://, postgresql:// and redis:// URLs.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
