package activity

import (
	"context"
	"errors"
	"testing"
	"time"
)

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{name: "valid", event: Event{UserID: "u1", Type: EventLogin}},
		{name: "missing user", event: Event{Type: EventLogin}, wantErr: true},
		{name: "unknown type", event: Event{UserID: "u1", Type: "teleport"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestInMemoryStore_AppendFillsDefaults(t *testing.T) {
	s := NewInMemoryStore()
	e, err := s.AppendEvent(context.Background(), Event{UserID: "u1", Type: EventLogin})
	if err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Errorf("AppendEvent() = %+v, want ID and CreatedAt set", e)
	}
	if _, err := s.AppendEvent(context.Background(), Event{Type: EventLogin}); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("AppendEvent(invalid) error = %v, want %v", err, ErrInvalidEvent)
	}
}

func TestInMemoryStore_CountAndList(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	for i, e := range []Event{
		{UserID: "u1", Type: EventLoginFailed, Address: "1.1.1.1", CreatedAt: baseTime.Add(-2 * time.Hour)},
		{UserID: "u1", Type: EventLoginFailed, Address: "1.1.1.1", CreatedAt: baseTime.Add(-30 * time.Minute)},
		{UserID: "u1", Type: EventLogin, Address: "1.1.1.1", CreatedAt: baseTime.Add(-10 * time.Minute)},
		{UserID: "u2", Type: EventRegistration, Address: "1.1.1.1", CreatedAt: baseTime.Add(-5 * time.Minute)},
	} {
		if _, err := s.AppendEvent(ctx, e); err != nil {
			t.Fatalf("AppendEvent(%d) error = %v", i, err)
		}
	}

	tests := []struct {
		name string
		q    EventQuery
		want int
	}{
		{name: "all", q: EventQuery{}, want: 4},
		{name: "user", q: EventQuery{UserID: "u1"}, want: 3},
		{name: "failed in last hour", q: EventQuery{UserID: "u1", Types: []EventType{EventLoginFailed}, Since: baseTime.Add(-time.Hour)}, want: 1},
		{name: "address", q: EventQuery{Address: "1.1.1.1", Types: []EventType{EventRegistration}}, want: 1},
		{name: "multiple types", q: EventQuery{UserID: "u1", Types: []EventType{EventLogin, EventLoginFailed}}, want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := s.CountEvents(ctx, tt.q)
			if err != nil {
				t.Fatalf("CountEvents() error = %v", err)
			}
			if n != tt.want {
				t.Errorf("CountEvents() = %d, want %d", n, tt.want)
			}
		})
	}

	events, err := s.ListEvents(ctx, EventQuery{UserID: "u1", Limit: 2})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(ListEvents()) = %d, want 2", len(events))
	}
	if events[0].Type != EventLogin || !events[0].CreatedAt.After(events[1].CreatedAt) {
		t.Errorf("ListEvents() not newest first: %+v", events)
	}
}

func TestInMemoryStore_PreviousSession(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	s.AppendEvent(ctx, Event{UserID: "u1", Type: EventLogin, Address: "1.1.1.1", CreatedAt: baseTime.Add(-2 * time.Hour)})
	s.AppendEvent(ctx, Event{UserID: "u1", Type: EventLogin, Address: "2.2.2.2", CreatedAt: baseTime.Add(-time.Hour)})
	s.AppendEvent(ctx, Event{UserID: "u1", Type: EventLoginFailed, Address: "3.3.3.3", CreatedAt: baseTime.Add(-time.Minute)})

	sess, err := s.PreviousSession(ctx, "u1", baseTime)
	if err != nil {
		t.Fatalf("PreviousSession() error = %v", err)
	}
	if sess.Address != "2.2.2.2" {
		t.Errorf("PreviousSession().Address = %q, want %q", sess.Address, "2.2.2.2")
	}

	if _, err := s.PreviousSession(ctx, "u1", baseTime.Add(-3*time.Hour)); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("PreviousSession() error = %v, want %v", err, ErrSessionNotFound)
	}
}

func TestInMemoryStore_AveragePrice(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	for _, amt := range []float64{100, 200, 300} {
		s.AppendEvent(ctx, Event{UserID: "p1", Type: EventServiceCreated, Category: "massage", DurationMinutes: 60, Amount: amt, CreatedAt: baseTime.Add(-24 * time.Hour)})
	}
	s.AppendEvent(ctx, Event{UserID: "p1", Type: EventServiceCreated, Category: "massage", DurationMinutes: 60, Amount: 5000, CreatedAt: baseTime.Add(-40 * 24 * time.Hour)})
	s.AppendEvent(ctx, Event{UserID: "p1", Type: EventServiceCreated, Category: "massage", DurationMinutes: 30, Amount: 50, CreatedAt: baseTime})

	stats, err := s.AveragePrice(ctx, "Massage", 60, baseTime.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("AveragePrice() error = %v", err)
	}
	if stats.Average != 200 || stats.SampleCount != 3 {
		t.Errorf("AveragePrice() = %+v, want average 200 over 3", stats)
	}

	if _, err := s.AveragePrice(ctx, "yoga", 60, time.Time{}); !errors.Is(err, ErrNoPriceData) {
		t.Errorf("AveragePrice(no data) error = %v, want %v", err, ErrNoPriceData)
	}
}

func TestInMemoryStore_GetUser(t *testing.T) {
	s := NewInMemoryStore()
	s.PutUser(User{ID: "u1", Email: "a@example.com", CreatedAt: baseTime})

	u, err := s.GetUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if got := u.AccountAge(baseTime.Add(48 * time.Hour)); got != 48*time.Hour {
		t.Errorf("AccountAge() = %v, want 48h", got)
	}
	if _, err := s.GetUser(context.Background(), "nope"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetUser(missing) error = %v, want %v", err, ErrUserNotFound)
	}
}

func TestCandidateQuery_Matches(t *testing.T) {
	p := Profile{
		ID:               "p1",
		Username:         "AmaStyles",
		Bio:              "Braids and natural hair care",
		City:             "East Legon, Accra",
		CountryCode:      "GH",
		Age:              27,
		IsProvider:       true,
		VerificationTier: 2,
		LastActiveAt:     baseTime.Add(-5 * time.Minute),
		Categories:       []string{"Hair", "Makeup"},
	}

	tests := []struct {
		name string
		q    CandidateQuery
		want bool
	}{
		{name: "no filters", q: CandidateQuery{}, want: true},
		{name: "excluded viewer", q: CandidateQuery{ExcludeUserID: "p1"}, want: false},
		{name: "country case-insensitive", q: CandidateQuery{CountryCode: "gh"}, want: true},
		{name: "other country", q: CandidateQuery{CountryCode: "NG"}, want: false},
		{name: "city substring", q: CandidateQuery{City: "accra"}, want: true},
		{name: "age in range", q: CandidateQuery{MinAge: 25, MaxAge: 30}, want: true},
		{name: "too young for filter", q: CandidateQuery{MinAge: 30}, want: false},
		{name: "category", q: CandidateQuery{Category: "makeup"}, want: true},
		{name: "missing category", q: CandidateQuery{Category: "nails"}, want: false},
		{name: "verified", q: CandidateQuery{MinVerificationTier: 2}, want: true},
		{name: "tier too low", q: CandidateQuery{MinVerificationTier: 3}, want: false},
		{name: "online", q: CandidateQuery{ActiveSince: baseTime.Add(-15 * time.Minute)}, want: true},
		{name: "not online", q: CandidateQuery{ActiveSince: baseTime.Add(-time.Minute)}, want: false},
		{name: "search bio", q: CandidateQuery{Search: "BRAIDS"}, want: true},
		{name: "search miss", q: CandidateQuery{Search: "plumbing"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.Matches(p); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}

	notProvider := p
	notProvider.IsProvider = false
	if (CandidateQuery{}).Matches(notProvider) {
		t.Error("Matches() accepted a non-provider")
	}
}

func TestInMemoryStore_CandidatesOrderedAndCapped(t *testing.T) {
	s := NewInMemoryStore()
	for i, id := range []string{"c", "a", "b", "d"} {
		s.PutProfile(Profile{ID: id, IsProvider: true, LastActiveAt: baseTime.Add(-time.Duration(i/2) * time.Hour)})
	}
	s.PutProfile(Profile{ID: "client", IsProvider: false, LastActiveAt: baseTime})

	got, err := s.Candidates(context.Background(), CandidateQuery{Limit: 3})
	if err != nil {
		t.Fatalf("Candidates() error = %v", err)
	}
	var ids []string
	for _, p := range got {
		ids = append(ids, p.ID)
	}
	want := []string{"a", "c", "b"}
	if len(ids) != len(want) {
		t.Fatalf("Candidates() ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("Candidates() ids = %v, want %v", ids, want)
			break
		}
	}
}
