package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ExportFormat defines supported export formats.
type ExportFormat string

const (
	// ExportFormatCSV exports records as comma-separated values.
	ExportFormatCSV ExportFormat = "csv"
	// ExportFormatJSON exports records as a JSON array.
	ExportFormatJSON ExportFormat = "json"
)

// ExportOptions configures an export. UserID takes precedence over Action;
// with neither set the export covers the time range.
type ExportOptions struct {
	Format ExportFormat
	From   time.Time // inclusive, zero means unbounded
	To     time.Time // inclusive, zero means unbounded
	UserID string
	Action string
	Limit  int // 0 = no limit
}

// ExportRecords exports audit records matching opts, newest first.
func ExportRecords(ctx context.Context, repo Repository, opts ExportOptions) ([]byte, error) {
	if repo == nil {
		return nil, ErrNilRepository
	}
	if opts.Format != ExportFormatCSV && opts.Format != ExportFormatJSON {
		return nil, fmt.Errorf("unsupported export format: %s", opts.Format)
	}

	// Filter by time range before applying the limit so the count is correct.
	var (
		records []*Record
		err     error
	)
	switch {
	case opts.UserID != "":
		records, err = repo.QueryByUser(ctx, opts.UserID, 0)
	case opts.Action != "":
		records, err = repo.QueryByAction(ctx, opts.Action, 0)
	default:
		records, err = repo.QueryRange(ctx, opts.From, opts.To, opts.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}

	filtered := records[:0]
	for _, r := range records {
		if inRange(r.CreatedAt, opts.From, opts.To) {
			filtered = append(filtered, r)
		}
	}
	records = filtered
	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[:opts.Limit]
	}

	if opts.Format == ExportFormatCSV {
		return exportToCSV(records)
	}
	return exportToJSON(records)
}

var csvHeader = []string{
	"ID",
	"Timestamp (UTC)",
	"User ID",
	"Action",
	"Risk Score",
	"Risk Level",
	"Risk Factors",
	"Recommendation",
	"Should Block",
	"Degraded",
	"Request ID",
	"IP Address",
	"Geohash",
	"Previous Hash",
	"Hash",
}

func exportToCSV(records []*Record) ([]byte, error) {
	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.ID,
			r.CreatedAt.UTC().Format(time.RFC3339),
			r.UserID,
			r.Action,
			strconv.FormatFloat(r.RiskScore, 'f', 4, 64),
			r.RiskLevel,
			strings.Join(r.RiskFactors, "|"),
			r.Recommendation,
			strconv.FormatBool(r.ShouldBlock),
			strconv.FormatBool(r.Degraded),
			r.RequestID,
			r.IPAddress,
			r.Geohash,
			r.PreviousHash,
			r.Hash,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

func exportToJSON(records []*Record) ([]byte, error) {
	if records == nil {
		records = []*Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}
