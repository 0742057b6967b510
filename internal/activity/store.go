package activity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store provides the event log, user records and pricing aggregates.
type Store interface {
	// AppendEvent adds an event. A missing ID or CreatedAt is filled in.
	AppendEvent(ctx context.Context, e Event) (Event, error)
	// CountEvents returns the number of events matching q.
	CountEvents(ctx context.Context, q EventQuery) (int, error)
	// ListEvents returns matching events, newest first, capped by q.Limit.
	ListEvents(ctx context.Context, q EventQuery) ([]Event, error)
	// GetUser returns ErrUserNotFound for unknown IDs.
	GetUser(ctx context.Context, userID string) (*User, error)
	// PreviousSession returns the most recent login strictly before before,
	// or ErrSessionNotFound.
	PreviousSession(ctx context.Context, userID string, before time.Time) (*Session, error)
	// AveragePrice averages service prices created since since, or returns ErrNoPriceData.
	AveragePrice(ctx context.Context, category string, durationMinutes int, since time.Time) (*PriceStats, error)
}

// ProfileStore provides candidate profiles for ranking.
type ProfileStore interface {
	// Candidates returns matching provider profiles ordered by most recent
	// activity, capped by q.Limit (DefaultCandidateLimit when zero).
	Candidates(ctx context.Context, q CandidateQuery) ([]Profile, error)
}

func fillEvent(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return e
}

// InMemoryStore implements Store and ProfileStore in memory.
// Reads return copies so callers cannot mutate stored state.
type InMemoryStore struct {
	mu       sync.RWMutex
	events   []Event
	users    map[string]User
	profiles map[string]Profile
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:    make(map[string]User),
		profiles: make(map[string]Profile),
	}
}

// PutUser inserts or replaces a user record.
func (s *InMemoryStore) PutUser(u User) {
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
}

// PutProfile inserts or replaces a profile.
func (s *InMemoryStore) PutProfile(p Profile) {
	p.Categories = append([]string(nil), p.Categories...)
	s.mu.Lock()
	s.profiles[p.ID] = p
	s.mu.Unlock()
}

// AppendEvent implements Store.
func (s *InMemoryStore) AppendEvent(_ context.Context, e Event) (Event, error) {
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	e = fillEvent(e)

	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return e, nil
}

// CountEvents implements Store.
func (s *InMemoryStore) CountEvents(_ context.Context, q EventQuery) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.events {
		if q.Matches(e) {
			n++
		}
	}
	return n, nil
}

// ListEvents implements Store.
func (s *InMemoryStore) ListEvents(_ context.Context, q EventQuery) ([]Event, error) {
	s.mu.RLock()
	var out []Event
	for _, e := range s.events {
		if q.Matches(e) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// GetUser implements Store.
func (s *InMemoryStore) GetUser(_ context.Context, userID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

// PreviousSession implements Store.
func (s *InMemoryStore) PreviousSession(_ context.Context, userID string, before time.Time) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Event
	for i := range s.events {
		e := &s.events[i]
		if e.UserID != userID || e.Type != EventLogin || !e.CreatedAt.Before(before) {
			continue
		}
		if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, ErrSessionNotFound
	}
	return &Session{UserID: latest.UserID, Address: latest.Address, CreatedAt: latest.CreatedAt}, nil
}

// AveragePrice implements Store.
func (s *InMemoryStore) AveragePrice(_ context.Context, category string, durationMinutes int, since time.Time) (*PriceStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum float64
	n := 0
	for _, e := range s.events {
		if e.Type != EventServiceCreated || !strings.EqualFold(e.Category, category) ||
			e.DurationMinutes != durationMinutes || e.CreatedAt.Before(since) {
			continue
		}
		sum += e.Amount
		n++
	}
	if n == 0 {
		return nil, ErrNoPriceData
	}
	return &PriceStats{Category: category, DurationMinutes: durationMinutes, Average: sum / float64(n), SampleCount: n}, nil
}

// Candidates implements ProfileStore.
func (s *InMemoryStore) Candidates(_ context.Context, q CandidateQuery) ([]Profile, error) {
	s.mu.RLock()
	var out []Profile
	for _, p := range s.profiles {
		if q.Matches(p) {
			p.Categories = append([]string(nil), p.Categories...)
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActiveAt.Equal(out[j].LastActiveAt) {
			return out[i].LastActiveAt.After(out[j].LastActiveAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit := q.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
