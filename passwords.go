package authcore

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the work factor used when BcryptHasher.Cost is unset
const DefaultBcryptCost = 12

// PasswordHasher hashes and checks local credentials
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
}

// BcryptHasher is the default PasswordHasher.
// bcrypt compares in constant time and salts every hash.
type BcryptHasher struct {
	Cost int
}

func (h *BcryptHasher) cost() int {
	if h == nil || h.Cost == 0 {
		return DefaultBcryptCost
	}
	return h.Cost
}

func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost())
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", invalidInput("Password is too long", "password")
		}
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

func (h *BcryptHasher) Verify(plaintext, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
