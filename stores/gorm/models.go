//go:build !wasm
// +build !wasm

package gorm

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	ac "github.com/panyam/authcore"
)

// StringSlice stores a string slice as a JSON text column
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringSlice) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported roles column type %T", value)
	}
	return json.Unmarshal(raw, (*[]string)(s))
}

// IdentityModel is the GORM model for identities
type IdentityModel struct {
	ID               string      `gorm:"primaryKey;size:64"`
	Email            string      `gorm:"size:255;uniqueIndex"`
	DisplayName      string      `gorm:"size:255"`
	PasswordHash     string      `gorm:"size:255"`
	Roles            StringSlice `gorm:"type:text"`
	Active           bool
	EmailVerified    bool
	Provider         string  `gorm:"size:32;uniqueIndex:idx_identities_provider"`
	ProviderID       *string `gorm:"size:255;uniqueIndex:idx_identities_provider"`
	RefreshTokenHash string  `gorm:"size:64"`
	VerificationCode string  `gorm:"size:16"`
	VerificationExp  *time.Time
	ResetCode        string `gorm:"size:16"`
	ResetExp         *time.Time
	Version          int `gorm:"not null;default:1"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (IdentityModel) TableName() string {
	return "identities"
}

// ToIdentity converts the model to an authcore.Identity
func (m *IdentityModel) ToIdentity() *ac.Identity {
	identity := &ac.Identity{
		ID:               m.ID,
		Email:            m.Email,
		DisplayName:      m.DisplayName,
		PasswordHash:     m.PasswordHash,
		Roles:            append([]string(nil), m.Roles...),
		Active:           m.Active,
		EmailVerified:    m.EmailVerified,
		Provider:         ac.Provider(m.Provider),
		RefreshTokenHash: m.RefreshTokenHash,
		VerificationCode: m.VerificationCode,
		VerificationExp:  m.VerificationExp,
		ResetCode:        m.ResetCode,
		ResetExp:         m.ResetExp,
		Version:          m.Version,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if m.ProviderID != nil {
		identity.ProviderID = *m.ProviderID
	}
	return identity
}

// IdentityToModel converts an authcore.Identity to the GORM model.
// An empty provider id is stored as NULL so local identities never collide.
func IdentityToModel(identity *ac.Identity) *IdentityModel {
	m := &IdentityModel{
		ID:               identity.ID,
		Email:            identity.Email,
		DisplayName:      identity.DisplayName,
		PasswordHash:     identity.PasswordHash,
		Roles:            StringSlice(append([]string(nil), identity.Roles...)),
		Active:           identity.Active,
		EmailVerified:    identity.EmailVerified,
		Provider:         string(identity.Provider),
		RefreshTokenHash: identity.RefreshTokenHash,
		VerificationCode: identity.VerificationCode,
		VerificationExp:  identity.VerificationExp,
		ResetCode:        identity.ResetCode,
		ResetExp:         identity.ResetExp,
		Version:          identity.Version,
		CreatedAt:        identity.CreatedAt,
		UpdatedAt:        identity.UpdatedAt,
	}
	if identity.ProviderID != "" {
		providerID := identity.ProviderID
		m.ProviderID = &providerID
	}
	return m
}

// mutableColumns lists every column Save may rewrite.
// refresh_token_hash is left to Update.
func (m *IdentityModel) mutableColumns() map[string]any {
	return map[string]any{
		"email":             m.Email,
		"display_name":      m.DisplayName,
		"password_hash":     m.PasswordHash,
		"roles":             m.Roles,
		"active":            m.Active,
		"email_verified":    m.EmailVerified,
		"provider":          m.Provider,
		"provider_id":       m.ProviderID,
		"verification_code": m.VerificationCode,
		"verification_exp":  m.VerificationExp,
		"reset_code":        m.ResetCode,
		"reset_exp":         m.ResetExp,
		"version":           m.Version,
		"updated_at":        m.UpdatedAt,
	}
}
