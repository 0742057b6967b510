package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/trustrank/internal/audit"
	"github.com/onnwee/trustrank/internal/middleware"
)

// MaxExportRecords caps a single audit export.
const MaxExportRecords = 10000

// AuditHandlers holds dependencies for audit HTTP handlers.
type AuditHandlers struct {
	repo audit.Repository
}

// NewAuditHandlers creates a new AuditHandlers instance.
func NewAuditHandlers(repo audit.Repository) *AuditHandlers {
	return &AuditHandlers{repo: repo}
}

// Export handles GET /v1/audit/export.
//
// Query parameters: format (json or csv, default json), from and to
// (RFC 3339), user_id, action and limit (default and maximum
// MaxExportRecords). Callers need an analyst or admin role.
func (h *AuditHandlers) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := audit.ExportOptions{
		Format: audit.ExportFormatJSON,
		UserID: q.Get("user_id"),
		Action: q.Get("action"),
		Limit:  MaxExportRecords,
	}

	switch f := audit.ExportFormat(q.Get("format")); f {
	case "", audit.ExportFormatJSON:
	case audit.ExportFormatCSV:
		opts.Format = f
	default:
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "format must be json or csv")
		return
	}

	var err error
	if opts.From, err = parseTimeParam(q.Get("from")); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "from must be an RFC 3339 timestamp")
		return
	}
	if opts.To, err = parseTimeParam(q.Get("to")); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "to must be an RFC 3339 timestamp")
		return
	}
	if !opts.From.IsZero() && !opts.To.IsZero() && opts.To.Before(opts.From) {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "to must not be before from")
		return
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "limit must be a positive integer")
			return
		}
		opts.Limit = min(n, MaxExportRecords)
	}

	data, err := audit.ExportRecords(r.Context(), h.repo, opts)
	if err != nil {
		slog.ErrorContext(r.Context(), "audit export failed", "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to export audit records")
		return
	}

	slog.InfoContext(r.Context(), "audit export",
		"requested_by", middleware.GetUserID(r.Context()),
		"format", opts.Format,
		"user_id", opts.UserID,
		"action", opts.Action,
		"bytes", len(data),
	)

	contentType := "application/json"
	if opts.Format == audit.ExportFormatCSV {
		contentType = "text/csv; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="risk-audit-%s.%s"`,
		time.Now().UTC().Format("20060102T150405Z"), opts.Format))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(r.Context(), "failed to write audit export", "error", err)
	}
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
