// Package postgres implements authcore.UserStore on PostgreSQL with pgx and explicit SQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	ac "github.com/panyam/authcore"
)

// Schema creates the identities table. Local identities keep provider_id NULL
// so the (provider, provider_id) constraint only binds federated linkages.
const Schema = `
CREATE TABLE IF NOT EXISTS identities (
	id                 TEXT PRIMARY KEY,
	email              TEXT NOT NULL UNIQUE,
	display_name       TEXT NOT NULL DEFAULT '',
	password_hash      TEXT NOT NULL DEFAULT '',
	roles              TEXT[] NOT NULL DEFAULT '{}',
	active             BOOLEAN NOT NULL DEFAULT TRUE,
	email_verified     BOOLEAN NOT NULL DEFAULT FALSE,
	provider           TEXT NOT NULL DEFAULT 'local',
	provider_id        TEXT,
	refresh_token_hash TEXT NOT NULL DEFAULT '',
	verification_code  TEXT NOT NULL DEFAULT '',
	verification_exp   TIMESTAMPTZ,
	reset_code         TEXT NOT NULL DEFAULT '',
	reset_exp          TIMESTAMPTZ,
	version            INTEGER NOT NULL DEFAULT 1,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL,
	UNIQUE (provider, provider_id)
)`

const selectColumns = `id, email, display_name, password_hash, roles, active, email_verified,
	provider, provider_id, refresh_token_hash, verification_code, verification_exp,
	reset_code, reset_exp, version, created_at, updated_at`

// DB is the subset of pgxpool.Pool the store uses
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// IdentityStore implements ac.UserStore using PostgreSQL
type IdentityStore struct {
	db  DB
	Now func() time.Time
}

// NewIdentityStore creates a PostgreSQL-backed identity store
func NewIdentityStore(db DB) *IdentityStore {
	return &IdentityStore{db: db}
}

// Migrate applies Schema
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create identities table: %w", err)
	}
	return nil
}

func (s *IdentityStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *IdentityStore) FindByID(ctx context.Context, id string) (*ac.Identity, error) {
	return s.scanIdentity(ctx, `SELECT `+selectColumns+` FROM identities WHERE id = $1`, id)
}

func (s *IdentityStore) FindByEmail(ctx context.Context, email string) (*ac.Identity, error) {
	return s.scanIdentity(ctx, `SELECT `+selectColumns+` FROM identities WHERE email = $1`, strings.ToLower(email))
}

func (s *IdentityStore) FindByProvider(ctx context.Context, provider ac.Provider, providerID string) (*ac.Identity, error) {
	if providerID == "" {
		return nil, ac.ErrIdentityNotFound
	}
	return s.scanIdentity(ctx,
		`SELECT `+selectColumns+` FROM identities WHERE provider = $1 AND provider_id = $2`,
		string(provider), providerID)
}

// Create inserts a new identity at version 1.
func (s *IdentityStore) Create(ctx context.Context, identity *ac.Identity) (*ac.Identity, error) {
	record := identity.Clone()
	record.Email = strings.ToLower(record.Email)
	record.Version = 1
	now := s.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}

	query := `
		INSERT INTO identities (id, email, display_name, password_hash, roles, active, email_verified,
			provider, provider_id, refresh_token_hash, verification_code, verification_exp,
			reset_code, reset_exp, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := s.db.Exec(ctx, query,
		record.ID,
		record.Email,
		record.DisplayName,
		record.PasswordHash,
		rolesOf(record),
		record.Active,
		record.EmailVerified,
		string(record.Provider),
		nullable(record.ProviderID),
		record.RefreshTokenHash,
		record.VerificationCode,
		record.VerificationExp,
		record.ResetCode,
		record.ResetExp,
		record.Version,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ac.ErrIdentityExists
		}
		return nil, fmt.Errorf("insert identity: %w", err)
	}
	return record, nil
}

// Update applies a partial patch in one statement. Session-only patches leave
// version and updated_at alone.
func (s *IdentityStore) Update(ctx context.Context, id string, patch ac.IdentityPatch) error {
	bump := 0
	var updatedAt *time.Time
	if !patch.SessionOnly() {
		bump = 1
		now := s.now()
		updatedAt = &now
	}

	query := `
		UPDATE identities
		SET refresh_token_hash = COALESCE($2, refresh_token_hash),
		    active = COALESCE($3, active),
		    display_name = COALESCE($4, display_name),
		    version = version + $5,
		    updated_at = COALESCE($6, updated_at)
		WHERE id = $1`

	ct, err := s.db.Exec(ctx, query, id, patch.RefreshTokenHash, patch.Active, patch.DisplayName, bump, updatedAt)
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ac.ErrIdentityNotFound
	}
	return nil
}

// Save overwrites the identity only while its stored version still matches.
// refresh_token_hash is not part of the write; the stored value comes back via RETURNING.
func (s *IdentityStore) Save(ctx context.Context, identity *ac.Identity) (*ac.Identity, error) {
	next := identity.Clone()
	next.Email = strings.ToLower(next.Email)
	next.Version = identity.Version + 1
	next.UpdatedAt = s.now()

	query := `
		UPDATE identities
		SET email = $1, display_name = $2, password_hash = $3, roles = $4, active = $5,
		    email_verified = $6, provider = $7, provider_id = $8,
		    verification_code = $9, verification_exp = $10, reset_code = $11, reset_exp = $12,
		    version = $13, updated_at = $14
		WHERE id = $15 AND version = $16
		RETURNING refresh_token_hash, created_at`

	err := s.db.QueryRow(ctx, query,
		next.Email,
		next.DisplayName,
		next.PasswordHash,
		rolesOf(next),
		next.Active,
		next.EmailVerified,
		string(next.Provider),
		nullable(next.ProviderID),
		next.VerificationCode,
		next.VerificationExp,
		next.ResetCode,
		next.ResetExp,
		next.Version,
		next.UpdatedAt,
		next.ID,
		identity.Version,
	).Scan(&next.RefreshTokenHash, &next.CreatedAt)
	if err == nil {
		return next, nil
	}
	if isUniqueViolation(err) {
		return nil, ac.ErrIdentityExists
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("save identity: %w", err)
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM identities WHERE id = $1)`, next.ID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check identity: %w", err)
	}
	if !exists {
		return nil, ac.ErrIdentityNotFound
	}
	return nil, ac.ErrVersionConflict
}

// scanIdentity executes a query expected to return a single identity row.
func (s *IdentityStore) scanIdentity(ctx context.Context, query string, args ...any) (*ac.Identity, error) {
	var (
		identity   ac.Identity
		provider   string
		providerID *string
	)
	err := s.db.QueryRow(ctx, query, args...).Scan(
		&identity.ID,
		&identity.Email,
		&identity.DisplayName,
		&identity.PasswordHash,
		&identity.Roles,
		&identity.Active,
		&identity.EmailVerified,
		&provider,
		&providerID,
		&identity.RefreshTokenHash,
		&identity.VerificationCode,
		&identity.VerificationExp,
		&identity.ResetCode,
		&identity.ResetExp,
		&identity.Version,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ac.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	identity.Provider = ac.Provider(provider)
	if providerID != nil {
		identity.ProviderID = *providerID
	}
	return &identity, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func rolesOf(identity *ac.Identity) []string {
	if identity.Roles == nil {
		return []string{}
	}
	return identity.Roles
}

// isUniqueViolation checks for SQLSTATE 23505
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "23505")
}
