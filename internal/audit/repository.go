package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the audit log operations. Query results are newest first;
// a limit of 0 means no limit.
type Repository interface {
	// Append stores a new record, chaining it to the previous one.
	Append(ctx context.Context, entry Entry) (*Record, error)
	QueryByUser(ctx context.Context, userID string, limit int) ([]*Record, error)
	QueryByAction(ctx context.Context, action string, limit int) ([]*Record, error)
	// QueryRange returns records with from <= CreatedAt <= to. Zero bounds are open.
	QueryRange(ctx context.Context, from, to time.Time, limit int) ([]*Record, error)
}

// InMemoryRepository is an in-memory Repository for tests and development.
type InMemoryRepository struct {
	mu       sync.RWMutex
	records  []*Record
	lastHash string
	now      func() time.Time
}

// NewInMemoryRepository creates an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{now: func() time.Time { return time.Now().UTC() }}
}

// Append implements Repository.
func (r *InMemoryRepository) Append(_ context.Context, entry Entry) (*Record, error) {
	rec := newRecord(entry, r.now())

	r.mu.Lock()
	seal(r.lastHash, rec)
	r.records = append(r.records, rec)
	r.lastHash = rec.Hash
	r.mu.Unlock()

	return rec.clone(), nil
}

func newRecord(entry Entry, now time.Time) *Record {
	return &Record{
		ID:             uuid.NewString(),
		UserID:         entry.UserID,
		Action:         entry.Action,
		RiskScore:      entry.RiskScore,
		RiskLevel:      entry.RiskLevel,
		RiskFactors:    append([]string(nil), entry.RiskFactors...),
		Recommendation: entry.Recommendation,
		ShouldBlock:    entry.ShouldBlock,
		Degraded:       entry.Degraded,
		CreatedAt:      now.Truncate(time.Microsecond),
		RequestID:      entry.RequestID,
		IPAddress:      entry.IPAddress,
		Geohash:        entry.Geohash,
	}
}

func (r *InMemoryRepository) query(limit int, match func(*Record) bool) []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Record
	for i := len(r.records) - 1; i >= 0; i-- {
		if match(r.records[i]) {
			out = append(out, r.records[i].clone())
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

// QueryByUser implements Repository.
func (r *InMemoryRepository) QueryByUser(_ context.Context, userID string, limit int) ([]*Record, error) {
	return r.query(limit, func(rec *Record) bool { return rec.UserID == userID }), nil
}

// QueryByAction implements Repository.
func (r *InMemoryRepository) QueryByAction(_ context.Context, action string, limit int) ([]*Record, error) {
	return r.query(limit, func(rec *Record) bool { return rec.Action == action }), nil
}

// QueryRange implements Repository.
func (r *InMemoryRepository) QueryRange(_ context.Context, from, to time.Time, limit int) ([]*Record, error) {
	return r.query(limit, func(rec *Record) bool { return inRange(rec.CreatedAt, from, to) }), nil
}

// LastHash returns the hash of the newest record, or "" when empty.
func (r *InMemoryRepository) LastHash() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastHash
}

// VerifyHashChain reports whether the stored chain is intact.
func (r *InMemoryRepository) VerifyHashChain() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return VerifyChain(r.records) == -1
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}
