package ranking

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// Weights defines the contribution of each sub-score to the recommendation
// score. Sub-scores are on a 0-100 scale, so with weights summing to 1 the
// recommendation score is also 0-100.
type Weights struct {
	CountryMatch float64 `json:"country_match"` // default: 0.30
	Distance     float64 `json:"distance"`      // default: 0.25
	Quality      float64 `json:"quality"`       // default: 0.15
	Freshness    float64 `json:"freshness"`     // default: 0.10
	Engagement   float64 `json:"engagement"`    // default: 0.10
	Beauty       float64 `json:"beauty"`        // default: 0.05
	Popularity   float64 `json:"popularity"`    // default: 0.05
	// Preference is tracked per candidate but kept out of the weighted sum
	// unless a calibration file sets it.
	Preference float64 `json:"preference"` // default: 0
}

// CalibrationConfig represents the JSON structure of the calibration file.
type CalibrationConfig struct {
	Version string  `json:"version"` // Config version for future compatibility
	Weights Weights `json:"weights"`
}

// DefaultWeights returns the default ranking weight configuration.
//
// Country match and distance together make up more than half of the score,
// so nearby providers in the viewer's own country lead the feed. Content
// quality and activity refine the order within that.
func DefaultWeights() *Weights {
	return &Weights{
		CountryMatch: 0.30,
		Distance:     0.25,
		Quality:      0.15,
		Freshness:    0.10,
		Engagement:   0.10,
		Beauty:       0.05,
		Popularity:   0.05,
	}
}

type weightField struct {
	name  string
	value *float64
}

func (w *Weights) fields() []weightField {
	return []weightField{
		{"country_match", &w.CountryMatch},
		{"distance", &w.Distance},
		{"quality", &w.Quality},
		{"freshness", &w.Freshness},
		{"engagement", &w.Engagement},
		{"beauty", &w.Beauty},
		{"popularity", &w.Popularity},
		{"preference", &w.Preference},
	}
}

// LoadCalibration loads ranking weights from a JSON calibration file.
// An empty path yields the defaults. If the file can't be read or parsed,
// the defaults are returned together with the error so callers can log it
// and continue. Partial configurations are merged over the defaults.
func LoadCalibration(filePath string) (*Weights, error) {
	if filePath == "" {
		return DefaultWeights(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("failed to read calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to read calibration file: %w", err)
	}

	var config CalibrationConfig
	if err := json.Unmarshal(data, &config); err != nil {
		slog.Warn("failed to parse calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to parse calibration file: %w", err)
	}

	defaults := DefaultWeights()
	merged := MergeCalibration(defaults, &config.Weights)
	logCalibrationOverrides(defaults, merged)

	return merged, nil
}

// MergeCalibration merges override weights with base weights.
// Only non-zero values from the override are applied, so a zero in the
// calibration file means "keep the default", not "disable".
func MergeCalibration(base *Weights, override *Weights) *Weights {
	if base == nil {
		return DefaultWeights()
	}

	result := *base
	if override == nil {
		return &result
	}

	dst := result.fields()
	for i, f := range override.fields() {
		if *f.value != 0 {
			*dst[i].value = *f.value
		}
	}
	return &result
}

// logCalibrationOverrides logs which weights differ from the defaults.
func logCalibrationOverrides(defaults *Weights, loaded *Weights) {
	var overrides []string

	want := defaults.fields()
	for i, f := range loaded.fields() {
		if *f.value != *want[i].value {
			overrides = append(overrides, fmt.Sprintf("%s: %.2f -> %.2f", f.name, *want[i].value, *f.value))
		}
	}

	if len(overrides) > 0 {
		slog.Info("loaded ranking calibration with overrides",
			"overrides", overrides)
	} else {
		slog.Info("loaded ranking calibration (using all defaults)")
	}
}
