package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Issuer is the iss claim of every issued token
const Issuer = "neurolens"

// DefaultTokenTTL applies when no TTL is configured
const DefaultTokenTTL = 24 * time.Hour

// Claims represents the JWT claims
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTManager signs and verifies HS256 tokens
type JWTManager struct {
	secretKey []byte
	expiry    time.Duration
	now       func() time.Time
}

// NewJWTManager creates a JWT manager. An empty secret generates a random
// one, so tokens do not survive a restart.
func NewJWTManager(secret string, expiry time.Duration) (*JWTManager, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
	}
	if expiry <= 0 {
		expiry = DefaultTokenTTL
	}
	return &JWTManager{secretKey: key, expiry: expiry, now: time.Now}, nil
}

// GenerateToken creates a token for a user
func (m *JWTManager) GenerateToken(username string) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.expiry)

	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken verifies a token and returns its claims
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secretKey, nil
	}, jwt.WithIssuer(Issuer), jwt.WithTimeFunc(m.now))
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

// Expiry returns the token lifetime
func (m *JWTManager) Expiry() time.Duration {
	return m.expiry
}
