//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"

	ac "github.com/panyam/authcore"
)

// IdentityEntity is the Datastore entity for identities
type IdentityEntity struct {
	Key              *datastore.Key `datastore:"__key__"`
	Email            string         `datastore:"email"`
	DisplayName      string         `datastore:"display_name,noindex"`
	PasswordHash     string         `datastore:"password_hash,noindex"`
	Roles            []string       `datastore:"roles,noindex"`
	Active           bool           `datastore:"active"`
	EmailVerified    bool           `datastore:"email_verified"`
	Provider         string         `datastore:"provider"`
	ProviderID       string         `datastore:"provider_id"`
	RefreshTokenHash string         `datastore:"refresh_token_hash,noindex"`
	VerificationCode string         `datastore:"verification_code,noindex"`
	VerificationExp  time.Time      `datastore:"verification_exp,noindex"`
	ResetCode        string         `datastore:"reset_code,noindex"`
	ResetExp         time.Time      `datastore:"reset_exp,noindex"`
	Version          int            `datastore:"version"`
	CreatedAt        time.Time      `datastore:"created_at"`
	UpdatedAt        time.Time      `datastore:"updated_at"`
}

// ClaimEntity reserves a unique value for one identity
type ClaimEntity struct {
	Key        *datastore.Key `datastore:"__key__"`
	IdentityID string         `datastore:"identity_id"`
}

func (e *IdentityEntity) ToIdentity() *ac.Identity {
	return &ac.Identity{
		ID:               e.Key.Name,
		Email:            e.Email,
		DisplayName:      e.DisplayName,
		PasswordHash:     e.PasswordHash,
		Roles:            append([]string(nil), e.Roles...),
		Active:           e.Active,
		EmailVerified:    e.EmailVerified,
		Provider:         ac.Provider(e.Provider),
		ProviderID:       e.ProviderID,
		RefreshTokenHash: e.RefreshTokenHash,
		VerificationCode: e.VerificationCode,
		VerificationExp:  fromZero(e.VerificationExp),
		ResetCode:        e.ResetCode,
		ResetExp:         fromZero(e.ResetExp),
		Version:          e.Version,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

func IdentityToEntity(i *ac.Identity, key *datastore.Key) *IdentityEntity {
	return &IdentityEntity{
		Key:              key,
		Email:            i.Email,
		DisplayName:      i.DisplayName,
		PasswordHash:     i.PasswordHash,
		Roles:            append([]string(nil), i.Roles...),
		Active:           i.Active,
		EmailVerified:    i.EmailVerified,
		Provider:         string(i.Provider),
		ProviderID:       i.ProviderID,
		RefreshTokenHash: i.RefreshTokenHash,
		VerificationCode: i.VerificationCode,
		VerificationExp:  toZero(i.VerificationExp),
		ResetCode:        i.ResetCode,
		ResetExp:         toZero(i.ResetExp),
		Version:          i.Version,
		CreatedAt:        i.CreatedAt,
		UpdatedAt:        i.UpdatedAt,
	}
}

// Datastore has no null time, so an absent expiry is stored as the zero time
func toZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func fromZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
