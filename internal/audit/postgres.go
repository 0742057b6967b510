package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/onnwee/trustrank/internal/tracing"
)

// chainLockKey serializes appends so every record links to its true predecessor.
const chainLockKey = 728_341_551

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Append implements Repository.
func (r *PostgresRepository) Append(ctx context.Context, entry Entry) (_ *Record, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "risk_assessment_audit", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", chainLockKey); err != nil {
		return nil, fmt.Errorf("failed to lock audit chain: %w", err)
	}

	var lastHash string
	err = tx.QueryRowContext(ctx,
		"SELECT hash FROM risk_assessment_audit ORDER BY created_at DESC, id DESC LIMIT 1").Scan(&lastHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read last audit hash: %w", err)
	}

	rec := newRecord(entry, r.now())
	seal(lastHash, rec)

	query := `
		INSERT INTO risk_assessment_audit (
			id, user_id, action_type, risk_score, risk_level, risk_factors,
			recommendation, should_block, degraded, ip_address, geohash,
			request_id, previous_hash, hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	if _, err = tx.ExecContext(ctx, query,
		rec.ID, rec.UserID, rec.Action, rec.RiskScore, rec.RiskLevel, pq.Array(rec.RiskFactors),
		rec.Recommendation, rec.ShouldBlock, rec.Degraded, rec.IPAddress, rec.Geohash,
		rec.RequestID, rec.PreviousHash, rec.Hash, rec.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to insert audit record: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit audit record: %w", err)
	}
	return rec, nil
}

const recordColumns = `id, user_id, action_type, risk_score, risk_level, risk_factors,
		recommendation, should_block, degraded, COALESCE(ip_address, ''), COALESCE(geohash, ''),
		COALESCE(request_id, ''), previous_hash, hash, created_at`

func (r *PostgresRepository) query(ctx context.Context, where string, args []any, limit int) (_ []*Record, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "risk_assessment_audit", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := "SELECT " + recordColumns + " FROM risk_assessment_audit"
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var (
			rec     Record
			factors pq.StringArray
		)
		if err = rows.Scan(&rec.ID, &rec.UserID, &rec.Action, &rec.RiskScore, &rec.RiskLevel, &factors,
			&rec.Recommendation, &rec.ShouldBlock, &rec.Degraded, &rec.IPAddress, &rec.Geohash,
			&rec.RequestID, &rec.PreviousHash, &rec.Hash, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.RiskFactors = []string(factors)
		out = append(out, &rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit records: %w", err)
	}
	return out, nil
}

// QueryByUser implements Repository.
func (r *PostgresRepository) QueryByUser(ctx context.Context, userID string, limit int) ([]*Record, error) {
	return r.query(ctx, "user_id = $1", []any{userID}, limit)
}

// QueryByAction implements Repository.
func (r *PostgresRepository) QueryByAction(ctx context.Context, action string, limit int) ([]*Record, error) {
	return r.query(ctx, "action_type = $1", []any{action}, limit)
}

// QueryRange implements Repository.
func (r *PostgresRepository) QueryRange(ctx context.Context, from, to time.Time, limit int) ([]*Record, error) {
	var (
		conds []string
		args  []any
	)
	if !from.IsZero() {
		args = append(args, from)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !to.IsZero() {
		args = append(args, to)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	return r.query(ctx, strings.Join(conds, " AND "), args, limit)
}
