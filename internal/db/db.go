// Package db opens the PostgreSQL connection pool and holds the schema used
// by the activity and audit stores.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig returns pool defaults suitable for a single API instance.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Open connects to dsn, applies pool settings and verifies the connection.
func Open(ctx context.Context, dsn string, pool PoolConfig) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(pool.MaxOpenConns)
	conn.SetMaxIdleConns(pool.MaxIdleConns)
	conn.SetConnMaxLifetime(pool.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return conn, nil
}

// Schema creates the tables read and written by this service. Statements are
// idempotent so it can run on every startup in development.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	email        TEXT NOT NULL,
	username     TEXT NOT NULL,
	country_code TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS activity_events (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	event_type       TEXT NOT NULL,
	address          TEXT,
	target_id        TEXT,
	category         TEXT,
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	amount           DOUBLE PRECISION NOT NULL DEFAULT 0,
	latitude         DOUBLE PRECISION,
	longitude        DOUBLE PRECISION,
	city             TEXT,
	target_age       INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_activity_events_user_type_time ON activity_events (user_id, event_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_activity_events_address_time ON activity_events (address, event_type, created_at DESC);

CREATE TABLE IF NOT EXISTS profiles (
	id                   TEXT PRIMARY KEY,
	username             TEXT NOT NULL,
	bio                  TEXT,
	city                 TEXT,
	country_code         TEXT,
	latitude             DOUBLE PRECISION,
	longitude            DOUBLE PRECISION,
	age                  INTEGER,
	is_provider          BOOLEAN NOT NULL DEFAULT FALSE,
	verification_tier    INTEGER NOT NULL DEFAULT 0,
	reputation_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
	response_rate        DOUBLE PRECISION NOT NULL DEFAULT 0,
	booking_success_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	review_count         INTEGER NOT NULL DEFAULT 0,
	last_active_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	has_main_photo       BOOLEAN NOT NULL DEFAULT FALSE,
	extra_photo_count    INTEGER NOT NULL DEFAULT 0,
	categories           TEXT[] NOT NULL DEFAULT '{}',
	is_paid              BOOLEAN NOT NULL DEFAULT FALSE,
	view_count           INTEGER NOT NULL DEFAULT 0,
	contact_count        INTEGER NOT NULL DEFAULT 0,
	favorite_count       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_profiles_provider_active ON profiles (is_provider, last_active_at DESC);

CREATE TABLE IF NOT EXISTS risk_assessment_audit (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	action_type     TEXT NOT NULL,
	risk_score      DOUBLE PRECISION NOT NULL,
	risk_level      TEXT NOT NULL,
	risk_factors    TEXT[] NOT NULL DEFAULT '{}',
	recommendation  TEXT NOT NULL,
	should_block    BOOLEAN NOT NULL DEFAULT FALSE,
	degraded        BOOLEAN NOT NULL DEFAULT FALSE,
	ip_address      TEXT,
	geohash         TEXT,
	request_id      TEXT,
	previous_hash   TEXT NOT NULL,
	hash            TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_risk_audit_user_time ON risk_assessment_audit (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_risk_audit_action_time ON risk_assessment_audit (action_type, created_at DESC);
`

// Migrate applies Schema.
func Migrate(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
