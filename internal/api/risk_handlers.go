package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/onnwee/trustrank/internal/middleware"
	"github.com/onnwee/trustrank/internal/risk"
	"github.com/onnwee/trustrank/internal/validate"
)

// Assessor scores one user action.
type Assessor interface {
	Assess(ctx context.Context, req risk.Request) risk.Assessment
}

// RiskHandlers holds dependencies for risk HTTP handlers.
type RiskHandlers struct {
	scorer Assessor
}

// NewRiskHandlers creates a new RiskHandlers instance.
func NewRiskHandlers(scorer Assessor) *RiskHandlers {
	return &RiskHandlers{scorer: scorer}
}

// Assess handles POST /v1/risk/assess.
//
// The assessment itself never fails: unknown actions and analysis errors come
// back as the degraded manual-review verdict. Only malformed bodies are
// rejected. When the caller's address is missing the client IP is used, and a
// missing user_id falls back to the bearer token subject.
func (h *RiskHandlers) Assess(w http.ResponseWriter, r *http.Request) {
	var req risk.Request
	if !decodeJSON(w, r, &req) {
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		req.UserID = middleware.GetUserID(r.Context())
	}
	if strings.TrimSpace(string(req.Action)) == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "action_type is required")
		return
	}
	if err := validateActionText(req.Data); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	if strings.TrimSpace(req.Context.Address) == "" {
		req.Context.Address = middleware.ClientIP(r)
	}
	if req.Context.UserAgent == "" {
		req.Context.UserAgent = r.UserAgent()
	}

	writeJSON(w, r, http.StatusOK, h.scorer.Assess(r.Context(), req))
}

// validateActionText bounds the free-text fields the scorer scans.
func validateActionText(d risk.ActionData) error {
	if strings.TrimSpace(d.Message) != "" {
		if _, err := validate.MessageText(d.Message); err != nil {
			return fmt.Errorf("message: %w", err)
		}
	}
	if _, err := validate.Description(d.Description); err != nil {
		return fmt.Errorf("description: %w", err)
	}
	return nil
}
