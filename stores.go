package authcore

import (
	"context"
	"errors"
	"slices"
	"time"
)

// Provider identifies where an identity authenticates
type Provider string

const (
	ProviderLocal  Provider = "local"
	ProviderGoogle Provider = "google"
	ProviderApple  Provider = "apple"
)

// IsFederated reports whether the provider is an external identity provider
func (p Provider) IsFederated() bool {
	return p == ProviderGoogle || p == ProviderApple
}

// ParseProvider converts a provider tag into a Provider
func ParseProvider(s string) (Provider, bool) {
	switch Provider(s) {
	case ProviderLocal, ProviderGoogle, ProviderApple:
		return Provider(s), true
	}
	return "", false
}

// Role names carried on an identity
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Identity is the persisted account record.
//
// PasswordHash is empty for accounts created through a federated login.
// RefreshTokenHash holds the sha256 of the single active refresh token.
// Code fields are set in pairs and cleared as soon as the code is used.
type Identity struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	DisplayName      string     `json:"display_name"`
	PasswordHash     string     `json:"password_hash,omitempty"`
	Roles            []string   `json:"roles"`
	Active           bool       `json:"active"`
	EmailVerified    bool       `json:"email_verified"`
	Provider         Provider   `json:"provider"`
	ProviderID       string     `json:"provider_id,omitempty"`
	RefreshTokenHash string     `json:"refresh_token_hash,omitempty"`
	VerificationCode string     `json:"verification_code,omitempty"`
	VerificationExp  *time.Time `json:"verification_expiry,omitempty"`
	ResetCode        string     `json:"reset_code,omitempty"`
	ResetExp         *time.Time `json:"reset_expiry,omitempty"`
	Version          int        `json:"version"` // optimistic locking version
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// HasPassword reports whether the identity can log in with local credentials
func (i *Identity) HasPassword() bool {
	return i.PasswordHash != ""
}

// HasRole reports whether role is one of the identity's roles
func (i *Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

// Clone returns a deep copy so stores never hand out shared state
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	out.Roles = slices.Clone(i.Roles)
	if i.VerificationExp != nil {
		t := *i.VerificationExp
		out.VerificationExp = &t
	}
	if i.ResetExp != nil {
		t := *i.ResetExp
		out.ResetExp = &t
	}
	return &out
}

// IdentityPatch is a partial update. Nil fields are left untouched.
type IdentityPatch struct {
	RefreshTokenHash *string
	Active           *bool
	DisplayName      *string
}

// SessionOnly is true when the patch touches nothing but the refresh token hash.
// Such updates are session metadata and do not count as a revision.
func (p IdentityPatch) SessionOnly() bool {
	return p.RefreshTokenHash != nil && p.Active == nil && p.DisplayName == nil
}

// IsEmpty is true when the patch changes nothing
func (p IdentityPatch) IsEmpty() bool {
	return p.RefreshTokenHash == nil && p.Active == nil && p.DisplayName == nil
}

// Apply copies the set fields onto identity
func (p IdentityPatch) Apply(identity *Identity) {
	if p.RefreshTokenHash != nil {
		identity.RefreshTokenHash = *p.RefreshTokenHash
	}
	if p.Active != nil {
		identity.Active = *p.Active
	}
	if p.DisplayName != nil {
		identity.DisplayName = *p.DisplayName
	}
}

// Store sentinels. Adapters return (or wrap) these so the engine can classify failures.
var (
	ErrIdentityNotFound = errors.New("identity not found")
	ErrIdentityExists   = errors.New("identity already exists")
	ErrVersionConflict  = errors.New("identity version conflict")
)

// UserStore persists identities. Every method honours ctx cancellation.
type UserStore interface {
	// FindByEmail looks up by normalized email. Returns ErrIdentityNotFound on a miss.
	FindByEmail(ctx context.Context, email string) (*Identity, error)

	// FindByID looks up by id. Returns ErrIdentityNotFound on a miss.
	FindByID(ctx context.Context, id string) (*Identity, error)

	// FindByProvider looks up a federated linkage. Returns ErrIdentityNotFound on a miss.
	FindByProvider(ctx context.Context, provider Provider, providerID string) (*Identity, error)

	// Create inserts a new identity with Version 1.
	// Returns ErrIdentityExists if the email or (provider, providerId) is taken.
	Create(ctx context.Context, identity *Identity) (*Identity, error)

	// Update applies a partial update. Session-only patches must not bump Version or UpdatedAt.
	Update(ctx context.Context, id string, patch IdentityPatch) error

	// Save writes the full record if the stored Version still equals identity.Version,
	// then bumps Version and UpdatedAt. Returns ErrVersionConflict otherwise.
	// RefreshTokenHash is session metadata owned by Update: Save keeps the stored
	// value and returns it, so a stale snapshot cannot restore a superseded token.
	Save(ctx context.Context, identity *Identity) (*Identity, error)
}
