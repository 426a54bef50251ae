package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func mustManager(t *testing.T, alg, issuer string) *JWTManager {
	t.Helper()
	m, err := NewJWTManager("test-secret", alg, issuer)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}
	return m
}

func TestGenerateAndVerify(t *testing.T) {
	for _, alg := range []string{"HS256", "HS384", "hs512"} {
		t.Run(alg, func(t *testing.T) {
			m := mustManager(t, alg, "")
			token, err := m.Generate("user-1", "alice", time.Minute)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			id, err := m.Verify(token)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if id.UserID != "user-1" || id.Username != "alice" {
				t.Errorf("identity = %+v", id)
			}
		})
	}
}

func TestVerifyRejects(t *testing.T) {
	m := mustManager(t, "HS256", "auth-service")

	expired, _ := m.Generate("user-1", "alice", -time.Minute)
	otherSecret, _ := mustManagerSecret(t, "wrong-secret").Generate("user-1", "alice", time.Minute)
	otherAlg, _ := mustManager(t, "HS512", "auth-service").Generate("user-1", "alice", time.Minute)
	otherIssuer, _ := mustManager(t, "HS256", "someone-else").Generate("user-1", "alice", time.Minute)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"expired", expired},
		{"wrong secret", otherSecret},
		{"wrong algorithm", otherAlg},
		{"wrong issuer", otherIssuer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Verify(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func mustManagerSecret(t *testing.T, secret string) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(secret, "HS256", "auth-service")
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}
	return m
}

func TestVerifySubjectFallback(t *testing.T) {
	m := mustManager(t, "HS256", "")
	claims := jwt.RegisteredClaims{
		Subject:   "user-9",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	id, err := m.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "user-9" || id.Username != "user-9" {
		t.Errorf("identity = %+v, want sub as id and username", id)
	}
}

func TestVerifyMissingUserID(t *testing.T) {
	m := mustManager(t, "HS256", "")
	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))

	if _, err := m.Verify(token); !errors.Is(err, ErrMissingUserID) {
		t.Errorf("Verify err = %v, want ErrMissingUserID", err)
	}
}

func TestNewJWTManagerValidation(t *testing.T) {
	if _, err := NewJWTManager("", "HS256", ""); err == nil {
		t.Error("empty secret should be rejected")
	}
	if _, err := NewJWTManager("s", "RS256", ""); err == nil {
		t.Error("non-HMAC algorithm should be rejected")
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=from-query", nil)
	r.Header.Set("Authorization", "Bearer from-header")
	if got, err := TokenFromRequest(r); err != nil || got != "from-query" {
		t.Errorf("query should win, got %q %v", got, err)
	}

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer from-header")
	if got, err := TokenFromRequest(r); err != nil || got != "from-header" {
		t.Errorf("header fallback, got %q %v", got, err)
	}

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Basic abc")
	if _, err := TokenFromRequest(r); !errors.Is(err, ErrNoToken) {
		t.Errorf("err = %v, want ErrNoToken", err)
	}
}
