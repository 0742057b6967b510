package risk

import (
	"context"
	"time"
)

// DetectorInput is what an extension detector sees: the request plus the
// factors and raw score accumulated so far.
type DetectorInput struct {
	Request Request
	Now     time.Time
	Factors []string
	Score   float64
}

// Signal is a detector contribution. Negative or NaN scores are ignored.
type Signal struct {
	Factors []string
	Score   float64
}

// Detector is an extension point for additional pattern or behavioral
// anomaly checks. Detectors run for every action type; an error drops that
// detector's contribution.
type Detector interface {
	Detect(ctx context.Context, in DetectorInput) (Signal, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, in DetectorInput) (Signal, error)

// Detect implements Detector.
func (f DetectorFunc) Detect(ctx context.Context, in DetectorInput) (Signal, error) {
	return f(ctx, in)
}
