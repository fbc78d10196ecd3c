package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultSecretCost is the bcrypt cost used when none is configured.
const DefaultSecretCost = bcrypt.DefaultCost

// ErrEmptySecret is returned when hashing an empty secret.
var ErrEmptySecret = errors.New("secret must not be empty")

// HashSecret returns the bcrypt hash of secret.
func HashSecret(secret string, cost int) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultSecretCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}

// VerifySecret reports whether secret matches hash. An empty hash never
// matches.
func VerifySecret(hash, secret string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
