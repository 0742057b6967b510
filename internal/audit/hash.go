package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// computeHash hashes the record content together with the previous hash.
func computeHash(previousHash string, r *Record) string {
	fields := []string{
		previousHash,
		r.ID,
		r.UserID,
		r.Action,
		strconv.FormatFloat(r.RiskScore, 'f', 4, 64),
		r.RiskLevel,
		strings.Join(r.RiskFactors, "\x1f"),
		r.Recommendation,
		strconv.FormatBool(r.ShouldBlock),
		strconv.FormatBool(r.Degraded),
		r.RequestID,
		r.IPAddress,
		r.Geohash,
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x1e")))
	return hex.EncodeToString(sum[:])
}

// seal sets the chain fields of r.
func seal(previousHash string, r *Record) {
	r.PreviousHash = previousHash
	r.Hash = computeHash(previousHash, r)
}

// VerifyChain checks records ordered oldest first. It returns the index of the
// first record whose hash or link does not match, or -1 when the chain is intact.
func VerifyChain(records []*Record) int {
	prev := ""
	for i, r := range records {
		if r.PreviousHash != prev || computeHash(prev, r) != r.Hash {
			return i
		}
		prev = r.Hash
	}
	return -1
}
