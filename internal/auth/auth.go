// internal/auth/auth.go
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultExpiration is the token lifetime when none is configured.
const DefaultExpiration = 24 * time.Hour

var (
	ErrNoSecret         = errors.New("secret key is required")
	ErrInvalidFormat    = errors.New("invalid token format")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpired          = errors.New("token has expired")
)

// TokenConfig holds the configuration for token generation
type TokenConfig struct {
	Secret     []byte
	Expiration time.Duration
}

// NewTokenConfig derives a 32 byte signing key from secret.
// It returns nil when secret is empty, meaning bearer tokens are disabled.
func NewTokenConfig(secret string, expiration time.Duration) *TokenConfig {
	if secret == "" {
		return nil
	}
	if expiration <= 0 {
		expiration = DefaultExpiration
	}
	sum := sha256.Sum256([]byte(secret))
	return &TokenConfig{Secret: sum[:], Expiration: expiration}
}

// Token represents an authentication token
type Token struct {
	UserID    string `json:"user_id"`
	ExpiresAt int64  `json:"expires_at"`
	IssuedAt  int64  `json:"issued_at"`
}

// GenerateToken creates a signed token for userID.
func GenerateToken(userID string, config *TokenConfig) (string, error) {
	if config == nil || len(config.Secret) == 0 {
		return "", ErrNoSecret
	}
	if userID == "" || strings.Contains(userID, "|") {
		return "", fmt.Errorf("invalid user id %q", userID)
	}

	now := time.Now()
	payload := fmt.Sprintf("%s|%d|%d", userID, now.Add(config.Expiration).Unix(), now.Unix())

	encodedPayload := base64.RawURLEncoding.EncodeToString([]byte(payload))
	encodedSignature := base64.RawURLEncoding.EncodeToString(sign(config.Secret, []byte(payload)))
	return encodedPayload + "." + encodedSignature, nil
}

// ParseToken verifies tokenString and returns its claims.
func ParseToken(tokenString string, config *TokenConfig) (*Token, error) {
	if config == nil || len(config.Secret) == 0 {
		return nil, ErrNoSecret
	}

	encodedPayload, encodedSignature, ok := strings.Cut(tokenString, ".")
	if !ok || strings.Contains(encodedSignature, ".") {
		return nil, ErrInvalidFormat
	}
	payload, err := base64.RawURLEncoding.DecodeString(encodedPayload)
	if err != nil {
		return nil, fmt.Errorf("invalid token payload: %w", err)
	}
	signature, err := base64.RawURLEncoding.DecodeString(encodedSignature)
	if err != nil {
		return nil, fmt.Errorf("invalid token signature: %w", err)
	}
	if !hmac.Equal(signature, sign(config.Secret, payload)) {
		return nil, ErrInvalidSignature
	}

	parts := strings.Split(string(payload), "|")
	if len(parts) != 3 || parts[0] == "" {
		return nil, ErrInvalidFormat
	}
	expiresAt, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, ErrInvalidFormat
	}
	issuedAt, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, ErrInvalidFormat
	}
	if time.Now().Unix() > expiresAt {
		return nil, ErrExpired
	}

	return &Token{UserID: parts[0], ExpiresAt: expiresAt, IssuedAt: issuedAt}, nil
}

func sign(secret, payload []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(payload)
	return h.Sum(nil)
}

// GenerateSecret returns a random hex secret suitable for auth_secret.
func GenerateSecret(length int) (string, error) {
	if length <= 0 {
		length = 32 // 256 bits
	}
	key := make([]byte, length)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}
