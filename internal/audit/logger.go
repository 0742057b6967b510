package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/onnwee/trustrank/internal/geo"
	"github.com/onnwee/trustrank/internal/middleware"
)

var (
	// ErrNilRepository is returned when a nil repository is passed to logging functions.
	ErrNilRepository = errors.New("audit repository cannot be nil")
	// ErrInvalidUserID is returned when an entry has no user ID.
	ErrInvalidUserID = errors.New("user ID cannot be empty")
	// ErrInvalidAction is returned when the action is empty or oversized.
	ErrInvalidAction = errors.New("invalid action")
)

// maxActionLength bounds the action column. Unknown actions are still
// recorded so that degraded assessments keep their audit trail.
const maxActionLength = 64

// LogAssessment records one assessment. The request ID is taken from ctx when
// the entry has none, the IP address is anonymized and the geohash is coarsened
// to area precision before storage.
//
// Errors are returned to the caller; the risk scorer logs them and carries on.
func LogAssessment(ctx context.Context, repo Repository, entry Entry) (*Record, error) {
	if repo == nil {
		return nil, ErrNilRepository
	}
	if entry.UserID == "" {
		return nil, ErrInvalidUserID
	}
	if entry.Action == "" || len(entry.Action) > maxActionLength {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, entry.Action)
	}

	if entry.RequestID == "" {
		entry.RequestID = middleware.GetRequestID(ctx)
	}
	if entry.IPAddress != "" {
		entry.IPAddress = AnonymizeIP(entry.IPAddress)
	}
	if entry.Geohash != "" {
		entry.Geohash = geo.RoundGeohash(entry.Geohash, geo.AreaPrecision)
	}

	rec, err := repo.Append(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("failed to append audit record: %w", err)
	}
	return rec, nil
}
