// Package auth issues and validates the control plane's bearer tokens.
// Grounded on the teacher's internal/auth/jwt.go JWTManager (HS256,
// RegisteredClaims, env-var secret/expiry with a random dev-mode
// fallback), narrowed to a single operator identity since spec.md's
// control plane has no multi-tenant user model.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrExpiredToken = errors.New("auth: token has expired")
)

// Claims is the JWT payload issued for the control plane.
type Claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// Manager issues and validates HS256 bearer tokens.
type Manager struct {
	secretKey []byte
	expiry    time.Duration
}

// NewManager constructs a Manager. If secret is empty, a random one is
// generated (matching the teacher's dev-mode fallback) — tokens issued
// before a process restart will not validate after one.
func NewManager(secret string, expiry time.Duration) *Manager {
	if secret == "" {
		randomBytes := make([]byte, 32)
		rand.Read(randomBytes)
		secret = hex.EncodeToString(randomBytes)
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Manager{secretKey: []byte(secret), expiry: expiry}
}

// GenerateToken issues a token for subject (typically "operator" or an
// API client id), valid for the Manager's configured expiry.
func (m *Manager) GenerateToken(subject string) (string, time.Time, error) {
	expiresAt := time.Now().Add(m.expiry)
	claims := &Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "sentrynet",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken parses and validates tokenString, returning its claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
