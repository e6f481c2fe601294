package authcore

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// CodePurpose tells the delivery collaborator what a one-time code is for
type CodePurpose string

const (
	PurposeVerification CodePurpose = "verification"
	PurposeReset        CodePurpose = "reset"
)

// Default code expiry durations
const (
	CodeExpiryEmailVerification = 24 * time.Hour
	CodeExpiryPasswordReset     = 1 * time.Hour
)

// DefaultCodeLength is the number of digits in a verification or reset code
const DefaultCodeLength = 6

// CodeGenerator produces one-time numeric codes
type CodeGenerator interface {
	Generate(length int) (string, error)
}

// RandomCodeGenerator draws codes uniformly from [0, 10^length) using crypto/rand
type RandomCodeGenerator struct{}

func (RandomCodeGenerator) Generate(length int) (string, error) {
	if length <= 0 || length > 18 {
		return "", fmt.Errorf("invalid code length %d", length)
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n.Int64()), nil
}

// codeMatches checks a presented code against the stored one.
// A code is live only while now is strictly before its expiry.
func codeMatches(stored string, expiry *time.Time, presented string, now time.Time) bool {
	if stored == "" || presented == "" || expiry == nil {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1 {
		return false
	}
	return now.Before(*expiry)
}

// HashRefreshToken returns the at-rest form of a refresh token
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// refreshHashMatches compares a presented token to the stored hash in constant time
func refreshHashMatches(storedHash, presented string) bool {
	if storedHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(HashRefreshToken(presented))) == 1
}
