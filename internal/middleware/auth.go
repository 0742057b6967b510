package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/trustrank/internal/auth"
)

// claimsKey is the context key for validated token claims.
type claimsKey struct{}

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// Error codes written by this package.
const (
	errCodeAuthFailed  = "auth_failed"
	errCodeForbidden   = "forbidden"
	errCodeRateLimited = "rate_limited"
)

// GetClaims returns the validated token claims, or nil for anonymous requests.
func GetClaims(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return c
}

// Authenticate reads an optional bearer token. Requests without an
// Authorization header continue anonymously; a header that does not carry a
// valid token is rejected with 401.
func Authenticate(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				writeError(w, r.Context(), http.StatusUnauthorized, errCodeAuthFailed, "Authorization header must be a bearer token")
				return
			}

			claims, err := validator.ValidateToken(strings.TrimSpace(token))
			if err != nil {
				msg := "Invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					msg = "Token has expired"
				}
				logger.DebugContext(r.Context(), "rejected bearer token", "error", err)
				writeError(w, r.Context(), http.StatusUnauthorized, errCodeAuthFailed, msg)
				return
			}

			ctx := SetUserID(r.Context(), claims.Subject)
			ctx = context.WithValue(ctx, claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser rejects anonymous requests with 401.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetClaims(r.Context()) == nil {
			writeError(w, r.Context(), http.StatusUnauthorized, errCodeAuthFailed, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuditAccess rejects callers whose role cannot read the audit log.
func RequireAuditAccess(next http.Handler) http.Handler {
	return RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !GetClaims(r.Context()).CanReadAudit() {
			writeError(w, r.Context(), http.StatusForbidden, errCodeForbidden, "Audit access requires an analyst or admin role")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// writeError writes the API error envelope. It mirrors api.WriteError, which
// this package cannot import.
func writeError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	SetErrorCode(ctx, code)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	body := map[string]map[string]string{"error": {"code": code, "message": message}}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}
