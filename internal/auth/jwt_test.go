package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 44-character base64 string, as produced by `openssl rand -base64 32`
const testSecret = "wJ6Qk8Qn1v9Qw1Zb2l8Qk9J3p6Qk8Qn1v9Qw1Zb2l8Qk="

func signClaims(t *testing.T, secret string, method jwt.SigningMethod, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return token
}

func TestGenerateAndValidateAccessToken(t *testing.T) {
	svc := NewJWTService(testSecret)

	tests := []struct {
		name    string
		userID  string
		role    string
		wantErr error
	}{
		{"user token", "user-123", RoleUser, nil},
		{"admin token", "user-9", RoleAdmin, nil},
		{"no role", "user-5", "", nil},
		{"empty userID", "", RoleUser, ErrEmptyUserID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := svc.GenerateAccessToken(tt.userID, tt.role)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("GenerateAccessToken() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}

			claims, err := svc.ValidateToken(token)
			if err != nil {
				t.Fatalf("ValidateToken() error = %v", err)
			}
			if claims.Subject != tt.userID {
				t.Errorf("Subject = %q, want %q", claims.Subject, tt.userID)
			}
			if claims.Role != tt.role {
				t.Errorf("Role = %q, want %q", claims.Role, tt.role)
			}
			if claims.Type != TokenTypeAccess {
				t.Errorf("Type = %q, want %q", claims.Type, TokenTypeAccess)
			}
		})
	}
}

func TestValidateToken_Rejections(t *testing.T) {
	svc := NewJWTServiceWithRotation(testSecret, "", 0)
	now := time.Now()
	valid := func() Claims {
		return Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user-1",
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
			Type: TokenTypeAccess,
		}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Hour))
	refresh := valid()
	refresh.Type = "refresh"
	noSubject := valid()
	noSubject.Subject = ""
	noExpiry := valid()
	noExpiry.ExpiresAt = nil

	good := signClaims(t, testSecret, jwt.SigningMethodHS256, valid())
	parts := strings.Split(good, ".")

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"expired", signClaims(t, testSecret, jwt.SigningMethodHS256, expired), ErrExpiredToken},
		{"refresh token", signClaims(t, testSecret, jwt.SigningMethodHS256, refresh), ErrInvalidToken},
		{"missing subject", signClaims(t, testSecret, jwt.SigningMethodHS256, noSubject), ErrInvalidToken},
		{"missing expiry", signClaims(t, testSecret, jwt.SigningMethodHS256, noExpiry), ErrInvalidToken},
		{"other HMAC algorithm", signClaims(t, testSecret, jwt.SigningMethodHS512, valid()), ErrInvalidToken},
		{"wrong secret", signClaims(t, "another-secret-entirely", jwt.SigningMethodHS256, valid()), ErrInvalidToken},
		{"tampered signature", parts[0] + "." + parts[1] + ".tamperedsignature", ErrInvalidToken},
		{"garbage", "not-a-token", ErrInvalidToken},
		{"empty", "", ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.ValidateToken(tt.token); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateToken() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateToken_Leeway(t *testing.T) {
	issued := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := NewJWTService(testSecret)
	svc.now = func() time.Time { return issued }
	token, err := svc.GenerateAccessToken("user-1", RoleUser)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	svc.now = func() time.Time { return issued.Add(AccessTokenExpiry + DefaultLeeway/2) }
	if _, err := svc.ValidateToken(token); err != nil {
		t.Errorf("ValidateToken() inside leeway error = %v", err)
	}

	svc.now = func() time.Time { return issued.Add(AccessTokenExpiry + 2*DefaultLeeway) }
	if _, err := svc.ValidateToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("ValidateToken() past leeway error = %v, want %v", err, ErrExpiredToken)
	}
}

func TestKeyRotation(t *testing.T) {
	currentSecret := "current-secret-key-12345678"
	previousSecret := "previous-secret-key-87654321"
	rotating := NewJWTServiceWithRotation(currentSecret, previousSecret, DefaultLeeway)

	t.Run("token signed with previous secret still validates", func(t *testing.T) {
		oldToken, err := NewJWTService(previousSecret).GenerateAccessToken("user-456", RoleUser)
		if err != nil {
			t.Fatalf("GenerateAccessToken() error = %v", err)
		}
		claims, err := rotating.ValidateToken(oldToken)
		if err != nil {
			t.Fatalf("ValidateToken() error = %v", err)
		}
		if claims.Subject != "user-456" {
			t.Errorf("Subject = %v, want user-456", claims.Subject)
		}
	})

	t.Run("new tokens use the current secret", func(t *testing.T) {
		token, err := rotating.GenerateAccessToken("user-789", RoleUser)
		if err != nil {
			t.Fatalf("GenerateAccessToken() error = %v", err)
		}
		if _, err := NewJWTService(currentSecret).ValidateToken(token); err != nil {
			t.Errorf("ValidateToken() with current secret error = %v", err)
		}
		if _, err := NewJWTService(previousSecret).ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ValidateToken() with previous secret error = %v, want %v", err, ErrInvalidToken)
		}
	})

	t.Run("token with unknown secret fails", func(t *testing.T) {
		token, err := NewJWTService("wrong-secret-key-99999999").GenerateAccessToken("user-wrong", RoleUser)
		if err != nil {
			t.Fatalf("GenerateAccessToken() error = %v", err)
		}
		if _, err := rotating.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ValidateToken() error = %v, want %v", err, ErrInvalidToken)
		}
	})
}

func TestClaims_CanReadAudit(t *testing.T) {
	tests := []struct {
		role string
		want bool
	}{
		{RoleAdmin, true},
		{RoleAnalyst, true},
		{RoleUser, false},
		{"", false},
	}
	for _, tt := range tests {
		c := &Claims{Role: tt.role}
		if got := c.CanReadAudit(); got != tt.want {
			t.Errorf("CanReadAudit() for role %q = %v, want %v", tt.role, got, tt.want)
		}
	}
}
