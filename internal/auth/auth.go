// Package auth issues and validates the admin tokens that guard the
// mutating query routes.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
)

// Config configures an Authenticator
type Config struct {
	Enabled   bool
	Username  string
	Password  string // plaintext or bcrypt hash
	JWTSecret string // random per process when empty
	TokenTTL  time.Duration
}

// Authenticator checks admin credentials and issues JWTs
type Authenticator struct {
	enabled      bool
	username     string
	passwordHash []byte
	jwtManager   *JWTManager
}

// NewAuthenticator creates an authenticator. Plaintext passwords are hashed
// once at startup.
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	username := cfg.Username
	if username == "" {
		username = "admin"
	}

	var passwordHash []byte
	if cfg.Enabled {
		if cfg.Password == "" {
			return nil, errors.New("auth enabled without a password")
		}
		if isBcryptHash(cfg.Password) {
			passwordHash = []byte(cfg.Password)
		} else {
			hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
			if err != nil {
				return nil, fmt.Errorf("hash password: %w", err)
			}
			passwordHash = hash
		}
	}

	jwtManager, err := NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}

	return &Authenticator{
		enabled:      cfg.Enabled,
		username:     username,
		passwordHash: passwordHash,
		jwtManager:   jwtManager,
	}, nil
}

func isBcryptHash(s string) bool {
	return len(s) == 60 && (strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$"))
}

// IsEnabled returns whether authentication is enabled
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Authenticate validates credentials and returns a token with its expiry
func (a *Authenticator) Authenticate(username, password string) (string, time.Time, error) {
	if !a.enabled {
		return "", time.Time{}, ErrAuthDisabled
	}
	if username != a.username {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return a.jwtManager.GenerateToken(username)
}

// ValidateToken validates a token
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.jwtManager.ValidateToken(token)
}

// HashPassword creates a bcrypt hash suitable for the auth.password setting
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
