// Package auth verifies bearer tokens issued by the external auth service.
//
// The gateway never issues tokens for real users; Generate exists for tests
// and the load generator.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken       = errors.New("no token found")
	ErrInvalidToken  = errors.New("invalid token")
	ErrMissingUserID = errors.New("token carries no user id")
)

// Identity is what a verified token resolves to
type Identity struct {
	UserID   string
	Username string
}

// Verifier resolves a token to an identity or fails
type Verifier interface {
	Verify(token string) (Identity, error)
}

// Claims mirrors the auth service's access token
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTManager verifies HMAC-signed tokens
type JWTManager struct {
	secretKey []byte
	method    jwt.SigningMethod
	issuer    string
}

// NewJWTManager builds a verifier for one HMAC algorithm (HS256, HS384 or
// HS512). An empty issuer disables the iss check.
func NewJWTManager(secretKey, alg, issuer string) (*JWTManager, error) {
	if secretKey == "" {
		return nil, errors.New("secret key is required")
	}
	method, err := signingMethod(alg)
	if err != nil {
		return nil, err
	}
	return &JWTManager{
		secretKey: []byte(secretKey),
		method:    method,
		issuer:    issuer,
	}, nil
}

func signingMethod(alg string) (jwt.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}

// Generate signs a token for userID. Used by tests and cmd/loadtest.
func (m *JWTManager) Generate(userID, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.issuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(m.method, claims)
	return token.SignedString(m.secretKey)
}

// Verify validates signature, expiry and issuer, then resolves the identity.
// userId falls back to sub; username falls back to the user id.
func (m *JWTManager) Verify(tokenString string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	id := Identity{UserID: claims.UserID, Username: claims.Username}
	if id.UserID == "" {
		id.UserID = claims.Subject
	}
	if id.UserID == "" {
		return Identity{}, ErrMissingUserID
	}
	if id.Username == "" {
		id.Username = id.UserID
	}
	return id, nil
}

// ExtractTokenFromHeader extracts a bearer token from the Authorization header
func ExtractTokenFromHeader(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header missing")
	}

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", errors.New("invalid authorization header format")
	}

	return strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix)), nil
}

// ExtractTokenFromQuery extracts a token from the ?token= query parameter
func ExtractTokenFromQuery(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return "", errors.New("token query parameter missing")
	}
	return token, nil
}

// TokenFromRequest looks for a token on a WebSocket upgrade request: the
// query parameter first (browsers cannot set headers on upgrade), then the
// Authorization header. Returns ErrNoToken when neither is present.
func TokenFromRequest(r *http.Request) (string, error) {
	if token, err := ExtractTokenFromQuery(r); err == nil {
		return token, nil
	}
	if token, err := ExtractTokenFromHeader(r); err == nil && token != "" {
		return token, nil
	}
	return "", ErrNoToken
}
