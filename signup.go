package authcore

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// bcrypt ignores everything past 72 bytes, so longer passwords are refused outright
const maxPasswordBytes = 72

// SignupPolicy holds the boundary rules for registration and password changes
type SignupPolicy struct {
	MinDisplayNameLength int
	MinPasswordLength    int
}

// DefaultSignupPolicy mirrors the rules the API has always enforced
var DefaultSignupPolicy = SignupPolicy{
	MinDisplayNameLength: 3,
	MinPasswordLength:    6,
}

// RegisterInput is the payload for Engine.Register
type RegisterInput struct {
	Email       string `json:"email"`
	DisplayName string `json:"name"`
	Password    string `json:"password"`
}

var validate = validator.New()

// NormalizeEmail trims and lower-cases an email so lookups are case-insensitive
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks an already normalized email
func ValidateEmail(email string) error {
	if email == "" {
		return invalidInput("Email is required", "email")
	}
	if err := validate.Var(email, "email,max=254"); err != nil {
		return invalidInput("Invalid email format", "email")
	}
	return nil
}

// ValidateCode checks the shape of a one-time code
func ValidateCode(code string) error {
	if code == "" {
		return invalidInput("Code is required", "code")
	}
	if err := validate.Var(code, fmt.Sprintf("numeric,len=%d", DefaultCodeLength)); err != nil {
		return invalidInput(fmt.Sprintf("Code must be %d digits", DefaultCodeLength), "code")
	}
	return nil
}

// ValidatePassword applies the length rules
func (p SignupPolicy) ValidatePassword(password string) error {
	if password == "" {
		return invalidInput("Password is required", "password")
	}
	if utf8.RuneCountInString(password) < p.MinPasswordLength {
		return invalidInput(fmt.Sprintf("Password must be at least %d characters", p.MinPasswordLength), "password")
	}
	if len(password) > maxPasswordBytes {
		return invalidInput(fmt.Sprintf("Password must be at most %d bytes", maxPasswordBytes), "password")
	}
	return nil
}

// ValidateDisplayName applies the name length rule
func (p SignupPolicy) ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return invalidInput("Name is required", "name")
	}
	if utf8.RuneCountInString(name) < p.MinDisplayNameLength {
		return invalidInput(fmt.Sprintf("Name must be at least %d characters", p.MinDisplayNameLength), "name")
	}
	return nil
}

// ValidateRegistration normalizes in place and checks every field
func (p SignupPolicy) ValidateRegistration(in *RegisterInput) error {
	in.Email = NormalizeEmail(in.Email)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if err := ValidateEmail(in.Email); err != nil {
		return err
	}
	if err := p.ValidateDisplayName(in.DisplayName); err != nil {
		return err
	}
	return p.ValidatePassword(in.Password)
}
