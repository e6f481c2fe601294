//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	ac "github.com/panyam/authcore"
)

// AutoMigrate runs database migrations for the identities table
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&IdentityModel{})
}

// IdentityStore implements ac.UserStore using GORM
type IdentityStore struct {
	db  *gorm.DB
	Now func() time.Time
}

func NewIdentityStore(db *gorm.DB) *IdentityStore {
	return &IdentityStore{db: db}
}

func (s *IdentityStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *IdentityStore) findOne(ctx context.Context, query string, args ...any) (*ac.Identity, error) {
	var model IdentityModel
	if err := s.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ac.ErrIdentityNotFound
		}
		return nil, err
	}
	return model.ToIdentity(), nil
}

func (s *IdentityStore) FindByEmail(ctx context.Context, email string) (*ac.Identity, error) {
	return s.findOne(ctx, "email = ?", strings.ToLower(email))
}

func (s *IdentityStore) FindByID(ctx context.Context, id string) (*ac.Identity, error) {
	return s.findOne(ctx, "id = ?", id)
}

func (s *IdentityStore) FindByProvider(ctx context.Context, provider ac.Provider, providerID string) (*ac.Identity, error) {
	if providerID == "" {
		return nil, ac.ErrIdentityNotFound
	}
	return s.findOne(ctx, "provider = ? AND provider_id = ?", string(provider), providerID)
}

func (s *IdentityStore) Create(ctx context.Context, identity *ac.Identity) (*ac.Identity, error) {
	model := IdentityToModel(identity)
	model.Email = strings.ToLower(model.Email)
	model.Version = 1
	now := s.now()
	if model.CreatedAt.IsZero() {
		model.CreatedAt = now
	}
	if model.UpdatedAt.IsZero() {
		model.UpdatedAt = model.CreatedAt
	}

	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ac.ErrIdentityExists
		}
		return nil, err
	}
	return model.ToIdentity(), nil
}

func (s *IdentityStore) Update(ctx context.Context, id string, patch ac.IdentityPatch) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current IdentityModel
		if err := tx.Where("id = ?", id).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ac.ErrIdentityNotFound
			}
			return err
		}
		if patch.IsEmpty() {
			return nil
		}

		columns := map[string]any{}
		if patch.RefreshTokenHash != nil {
			columns["refresh_token_hash"] = *patch.RefreshTokenHash
		}
		if patch.Active != nil {
			columns["active"] = *patch.Active
		}
		if patch.DisplayName != nil {
			columns["display_name"] = *patch.DisplayName
		}
		if !patch.SessionOnly() {
			columns["version"] = gorm.Expr("version + 1")
			columns["updated_at"] = s.now()
		}
		// UpdateColumns skips GORM's automatic updated_at tracking
		return tx.Model(&IdentityModel{}).Where("id = ?", id).UpdateColumns(columns).Error
	})
}

func (s *IdentityStore) Save(ctx context.Context, identity *ac.Identity) (*ac.Identity, error) {
	model := IdentityToModel(identity)
	model.Email = strings.ToLower(model.Email)
	expected := identity.Version
	model.Version = expected + 1
	model.UpdatedAt = s.now()

	var saved IdentityModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&IdentityModel{}).
			Where("id = ? AND version = ?", model.ID, expected).
			UpdateColumns(model.mutableColumns())
		if result.Error != nil {
			if isUniqueViolation(result.Error) {
				return ac.ErrIdentityExists
			}
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&IdentityModel{}).Where("id = ?", model.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ac.ErrIdentityNotFound
			}
			return ac.ErrVersionConflict
		}
		return tx.Where("id = ?", model.ID).First(&saved).Error
	})
	if err != nil {
		return nil, err
	}
	return saved.ToIdentity(), nil
}

// isUniqueViolation recognizes duplicate key errors across drivers
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "23505")
}
