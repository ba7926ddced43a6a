package sessionkit

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt rejects inputs longer than 72 bytes.
const maxPasswordLength = 72

// DefaultBcryptCost matches the cost factor used across the marketplace.
const DefaultBcryptCost = 10

// HashPassword derives a salted bcrypt hash from the plaintext.
func HashPassword(password string, cost int) (string, error) {
	if len(password) == 0 {
		return "", fmt.Errorf("password.hash: empty password")
	}
	if len(password) > maxPasswordLength {
		return "", fmt.Errorf("password.hash: exceeds maximum length of %d bytes", maxPasswordLength)
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("password.hash: %w", err)
	}
	return string(hashed), nil
}

// VerifyPassword reports whether the plaintext matches the stored hash.
// A mismatch returns false, never an error.
func VerifyPassword(password string, passwordHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)) == nil
}
