// Package audit records every fraud-risk assessment in an append-only,
// hash-chained log used for incident review and offline model tuning.
package audit

import (
	"time"
)

// Record is one stored assessment. Records are never updated.
type Record struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Action         string    `json:"action_type"`
	RiskScore      float64   `json:"risk_score"`
	RiskLevel      string    `json:"risk_level"`
	RiskFactors    []string  `json:"risk_factors"`
	Recommendation string    `json:"recommendation"`
	ShouldBlock    bool      `json:"should_block"`
	Degraded       bool      `json:"degraded"`
	CreatedAt      time.Time `json:"created_at"`

	// Optional metadata. IPAddress is stored anonymized and Geohash coarsened.
	RequestID string `json:"request_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	Geohash   string `json:"geohash,omitempty"`

	// Tamper detection: PreviousHash is the Hash of the record appended before this one.
	PreviousHash string `json:"previous_hash"`
	Hash         string `json:"hash"`
}

// Entry is the input for appending a Record.
type Entry struct {
	UserID         string
	Action         string
	RiskScore      float64
	RiskLevel      string
	RiskFactors    []string
	Recommendation string
	ShouldBlock    bool
	Degraded       bool

	RequestID string
	IPAddress string
	Geohash   string
}

func (r *Record) clone() *Record {
	c := *r
	c.RiskFactors = append([]string(nil), r.RiskFactors...)
	return &c
}
