package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoToken      = errors.New("no token or token hash configured")
)

// TokenGuard validates API tokens against a bcrypt hash. Only the hash is
// kept in memory.
type TokenGuard struct {
	hash []byte
}

// NewTokenGuard builds a guard from a plaintext token or an existing bcrypt
// hash. The hash wins when both are set.
func NewTokenGuard(token, tokenHash string) (*TokenGuard, error) {
	if tokenHash != "" {
		if _, err := bcrypt.Cost([]byte(tokenHash)); err != nil {
			return nil, fmt.Errorf("invalid token hash: %w", err)
		}
		return &TokenGuard{hash: []byte(tokenHash)}, nil
	}
	if token == "" {
		return nil, ErrNoToken
	}
	hash, err := HashToken(token)
	if err != nil {
		return nil, err
	}
	return &TokenGuard{hash: []byte(hash)}, nil
}

// Validate checks token against the guard's hash
func (g *TokenGuard) Validate(token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	if err := bcrypt.CompareHashAndPassword(g.hash, []byte(token)); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// HashToken returns the bcrypt hash to store in place of token
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}
	return string(hash), nil
}

// GenerateToken creates a random token and its bcrypt hash
func GenerateToken() (token, hash string, err error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}

	token = base64.URLEncoding.EncodeToString(tokenBytes)
	hash, err = HashToken(token)
	if err != nil {
		return "", "", err
	}
	return token, hash, nil
}
