package authcore

import (
	"slices"
	"time"
)

// Profile is the allow-listed view of an Identity that leaves the core.
// Password hashes, refresh token hashes and codes never appear here.
type Profile struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"display_name"`
	Roles         []string  `json:"roles"`
	Active        bool      `json:"active"`
	EmailVerified bool      `json:"email_verified"`
	Provider      Provider  `json:"provider"`
	HasPassword   bool      `json:"has_password"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AuthResult is returned by register, login and federated login
type AuthResult struct {
	Identity *Profile  `json:"user"`
	Tokens   TokenPair `json:"tokens"`
}

// Sanitize projects an identity onto its public fields
func Sanitize(identity *Identity) *Profile {
	if identity == nil {
		return nil
	}
	return &Profile{
		ID:            identity.ID,
		Email:         identity.Email,
		DisplayName:   identity.DisplayName,
		Roles:         slices.Clone(identity.Roles),
		Active:        identity.Active,
		EmailVerified: identity.EmailVerified,
		Provider:      identity.Provider,
		HasPassword:   identity.HasPassword(),
		CreatedAt:     identity.CreatedAt,
		UpdatedAt:     identity.UpdatedAt,
	}
}
