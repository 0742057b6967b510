package activity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/onnwee/trustrank/internal/tracing"
)

// PostgresStore implements Store and ProfileStore using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

// AppendEvent implements Store.
func (s *PostgresStore) AppendEvent(ctx context.Context, e Event) (_ Event, err error) {
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	e = fillEvent(e)

	ctx, endSpan := tracing.StartDBSpan(ctx, "activity_events", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	query := `
		INSERT INTO activity_events (
			id, user_id, event_type, address, target_id,
			category, duration_minutes, amount, latitude, longitude,
			city, target_age, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.db.ExecContext(ctx, query,
		e.ID,
		e.UserID,
		string(e.Type),
		nullString(e.Address),
		nullString(e.TargetID),
		nullString(e.Category),
		e.DurationMinutes,
		e.Amount,
		e.Latitude,
		e.Longitude,
		nullString(e.City),
		e.TargetAge,
		e.CreatedAt,
	)
	if err != nil {
		return Event{}, fmt.Errorf("failed to append activity event: %w", err)
	}
	return e, nil
}

// eventWhere renders q's filters as a WHERE clause with positional args.
func eventWhere(q EventQuery) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.UserID != "" {
		add("user_id = $%d", q.UserID)
	}
	if q.Address != "" {
		add("address = $%d", q.Address)
	}
	if len(q.Types) > 0 {
		add("event_type = ANY($%d)", pq.Array(q.typeStrings()))
	}
	if !q.Since.IsZero() {
		add("created_at >= $%d", q.Since)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// CountEvents implements Store.
func (s *PostgresStore) CountEvents(ctx context.Context, q EventQuery) (n int, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "activity_events", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	where, args := eventWhere(q)
	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM activity_events"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count activity events: %w", err)
	}
	return n, nil
}

const eventColumns = `id, user_id, event_type, COALESCE(address, ''), COALESCE(target_id, ''),
		COALESCE(category, ''), duration_minutes, amount, latitude, longitude,
		COALESCE(city, ''), target_age, created_at`

// ListEvents implements Store.
func (s *PostgresStore) ListEvents(ctx context.Context, q EventQuery) (_ []Event, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "activity_events", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	where, args := eventWhere(q)
	query := "SELECT " + eventColumns + " FROM activity_events" + where + " ORDER BY created_at DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e        Event
			typ      string
			lat, lng sql.NullFloat64
		)
		if err = rows.Scan(&e.ID, &e.UserID, &typ, &e.Address, &e.TargetID,
			&e.Category, &e.DurationMinutes, &e.Amount, &lat, &lng,
			&e.City, &e.TargetAge, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity event: %w", err)
		}
		e.Type = EventType(typ)
		e.Latitude = floatPtr(lat)
		e.Longitude = floatPtr(lng)
		events = append(events, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity events: %w", err)
	}
	return events, nil
}

// GetUser implements Store.
func (s *PostgresStore) GetUser(ctx context.Context, userID string) (_ *User, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "users", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `
		SELECT id, email, username, COALESCE(country_code, ''), created_at
		FROM users
		WHERE id = $1
	`
	u := &User{}
	err = s.db.QueryRowContext(ctx, query, userID).Scan(&u.ID, &u.Email, &u.Username, &u.CountryCode, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// PreviousSession implements Store.
func (s *PostgresStore) PreviousSession(ctx context.Context, userID string, before time.Time) (_ *Session, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "activity_events", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `
		SELECT user_id, COALESCE(address, ''), created_at
		FROM activity_events
		WHERE user_id = $1 AND event_type = $2 AND created_at < $3
		ORDER BY created_at DESC
		LIMIT 1
	`
	sess := &Session{}
	err = s.db.QueryRowContext(ctx, query, userID, string(EventLogin), before).Scan(&sess.UserID, &sess.Address, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get previous session: %w", err)
	}
	return sess, nil
}

// AveragePrice implements Store.
func (s *PostgresStore) AveragePrice(ctx context.Context, category string, durationMinutes int, since time.Time) (_ *PriceStats, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "activity_events", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `
		SELECT COALESCE(AVG(amount), 0), COUNT(*)
		FROM activity_events
		WHERE event_type = $1 AND LOWER(category) = LOWER($2) AND duration_minutes = $3 AND created_at >= $4
	`
	stats := &PriceStats{Category: category, DurationMinutes: durationMinutes}
	err = s.db.QueryRowContext(ctx, query, string(EventServiceCreated), category, durationMinutes, since).
		Scan(&stats.Average, &stats.SampleCount)
	if err != nil {
		return nil, fmt.Errorf("failed to get average price: %w", err)
	}
	if stats.SampleCount == 0 {
		return nil, ErrNoPriceData
	}
	return stats, nil
}

const profileColumns = `id, username, COALESCE(bio, ''), COALESCE(city, ''), COALESCE(country_code, ''),
		latitude, longitude, COALESCE(age, 0), is_provider, verification_tier,
		reputation_score, response_rate, booking_success_rate, review_count,
		last_active_at, has_main_photo, extra_photo_count, categories, is_paid,
		view_count, contact_count, favorite_count`

// Candidates implements ProfileStore.
func (s *PostgresStore) Candidates(ctx context.Context, q CandidateQuery) (_ []Profile, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "profiles", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	conds := []string{"is_provider = TRUE"}
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.ExcludeUserID != "" {
		add("id <> $%d", q.ExcludeUserID)
	}
	if q.CountryCode != "" {
		add("UPPER(country_code) = UPPER($%d)", q.CountryCode)
	}
	if q.City != "" {
		add("city ILIKE $%d", "%"+likeEscape(q.City)+"%")
	}
	if q.MinAge > 0 {
		add("age >= $%d", q.MinAge)
	}
	if q.MaxAge > 0 {
		add("age <= $%d", q.MaxAge)
	}
	if q.Category != "" {
		add("$%d ILIKE ANY(categories)", q.Category)
	}
	if q.MinVerificationTier > 0 {
		add("verification_tier >= $%d", q.MinVerificationTier)
	}
	if !q.ActiveSince.IsZero() {
		add("last_active_at >= $%d", q.ActiveSince)
	}
	if q.Search != "" {
		args = append(args, "%"+likeEscape(q.Search)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(username ILIKE $%d OR bio ILIKE $%d OR city ILIKE $%d)", n, n, n))
	}
	args = append(args, q.limit())

	query := "SELECT " + profileColumns + " FROM profiles WHERE " + strings.Join(conds, " AND ") +
		fmt.Sprintf(" ORDER BY last_active_at DESC, id ASC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		var (
			p          Profile
			lat, lng   sql.NullFloat64
			categories pq.StringArray
		)
		if err = rows.Scan(&p.ID, &p.Username, &p.Bio, &p.City, &p.CountryCode,
			&lat, &lng, &p.Age, &p.IsProvider, &p.VerificationTier,
			&p.ReputationScore, &p.ResponseRate, &p.BookingSuccessRate, &p.ReviewCount,
			&p.LastActiveAt, &p.HasMainPhoto, &p.ExtraPhotoCount, &categories, &p.IsPaid,
			&p.ViewCount, &p.ContactCount, &p.FavoriteCount); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		p.Latitude = floatPtr(lat)
		p.Longitude = floatPtr(lng)
		p.Categories = []string(categories)
		profiles = append(profiles, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidates: %w", err)
	}
	return profiles, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

var likeReplacer = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likeEscape(s string) string {
	return likeReplacer.Replace(s)
}
