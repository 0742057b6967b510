package db

import (
	"strings"
	"testing"
)

func TestSchema_DefinesTables(t *testing.T) {
	for _, table := range []string{"users", "activity_events", "profiles", "risk_assessment_audit"} {
		if !strings.Contains(Schema, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("Schema missing table %s", table)
		}
	}
}

func TestDefaultPoolConfig(t *testing.T) {
	cfg := DefaultPoolConfig()
	if cfg.MaxOpenConns <= 0 || cfg.MaxIdleConns <= 0 || cfg.ConnMaxLifetime <= 0 {
		t.Errorf("DefaultPoolConfig() = %+v, want positive limits", cfg)
	}
	if cfg.MaxIdleConns > cfg.MaxOpenConns {
		t.Errorf("MaxIdleConns %d > MaxOpenConns %d", cfg.MaxIdleConns, cfg.MaxOpenConns)
	}
}
