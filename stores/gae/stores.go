//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	ac "github.com/panyam/authcore"
)

// Kind constants for Datastore entities
const (
	KindIdentity = "Identity"
	KindClaim    = "IdentityClaim"
)

// IdentityStore implements ac.UserStore using Google Cloud Datastore
type IdentityStore struct {
	client    *datastore.Client
	namespace string
	Now       func() time.Time
}

// NewIdentityStore creates a new Datastore-backed UserStore
func NewIdentityStore(client *datastore.Client, namespace string) *IdentityStore {
	return &IdentityStore{client: client, namespace: namespace}
}

func (s *IdentityStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *IdentityStore) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *IdentityStore) identityKey(id string) *datastore.Key {
	return s.namespacedKey(KindIdentity, id)
}

func (s *IdentityStore) emailClaim(email string) *datastore.Key {
	return s.namespacedKey(KindClaim, "email:"+strings.ToLower(email))
}

// providerClaim returns nil for identities without a provider linkage
func (s *IdentityStore) providerClaim(provider, providerID string) *datastore.Key {
	if providerID == "" {
		return nil
	}
	return s.namespacedKey(KindClaim, "provider:"+provider+":"+providerID)
}

func (s *IdentityStore) FindByID(ctx context.Context, id string) (*ac.Identity, error) {
	var entity IdentityEntity
	if err := s.client.Get(ctx, s.identityKey(id), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, ac.ErrIdentityNotFound
		}
		return nil, err
	}
	return entity.ToIdentity(), nil
}

// FindByEmail resolves through the email claim so a just-registered identity is always visible
func (s *IdentityStore) FindByEmail(ctx context.Context, email string) (*ac.Identity, error) {
	var claim ClaimEntity
	if err := s.client.Get(ctx, s.emailClaim(email), &claim); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, ac.ErrIdentityNotFound
		}
		return nil, err
	}
	return s.FindByID(ctx, claim.IdentityID)
}

func (s *IdentityStore) FindByProvider(ctx context.Context, provider ac.Provider, providerID string) (*ac.Identity, error) {
	if providerID == "" {
		return nil, ac.ErrIdentityNotFound
	}
	query := datastore.NewQuery(KindIdentity).
		FilterField("provider", "=", string(provider)).
		FilterField("provider_id", "=", providerID).
		Limit(1)
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}

	it := s.client.Run(ctx, query)
	var entity IdentityEntity
	_, err := it.Next(&entity)
	if err == iterator.Done {
		return nil, ac.ErrIdentityNotFound
	}
	if err != nil {
		return nil, err
	}
	return entity.ToIdentity(), nil
}

// claim reserves key for id inside tx, failing if another identity owns it
func claim(tx *datastore.Transaction, key *datastore.Key, id string) error {
	if key == nil {
		return nil
	}
	var existing ClaimEntity
	err := tx.Get(key, &existing)
	switch {
	case err == nil && existing.IdentityID != id:
		return ac.ErrIdentityExists
	case err == nil:
		return nil
	case !errors.Is(err, datastore.ErrNoSuchEntity):
		return err
	}
	_, err = tx.Put(key, &ClaimEntity{Key: key, IdentityID: id})
	return err
}

func release(tx *datastore.Transaction, key *datastore.Key) error {
	if key == nil {
		return nil
	}
	return tx.Delete(key)
}

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
	key := s.identityKey(record.ID)

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing IdentityEntity
		if err := tx.Get(key, &existing); err == nil {
			return ac.ErrIdentityExists
		} else if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		if err := claim(tx, s.emailClaim(record.Email), record.ID); err != nil {
			return err
		}
		if err := claim(tx, s.providerClaim(string(record.Provider), record.ProviderID), record.ID); err != nil {
			return err
		}
		_, err := tx.Put(key, IdentityToEntity(record, key))
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *IdentityStore) Update(ctx context.Context, id string, patch ac.IdentityPatch) error {
	key := s.identityKey(id)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity IdentityEntity
		if err := tx.Get(key, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return ac.ErrIdentityNotFound
			}
			return err
		}
		if patch.IsEmpty() {
			return nil
		}

		identity := entity.ToIdentity()
		patch.Apply(identity)
		if !patch.SessionOnly() {
			identity.Version++
			identity.UpdatedAt = s.now()
		}
		_, err := tx.Put(key, IdentityToEntity(identity, key))
		return err
	})
	return err
}

func (s *IdentityStore) Save(ctx context.Context, identity *ac.Identity) (*ac.Identity, error) {
	next := identity.Clone()
	next.Email = strings.ToLower(next.Email)
	key := s.identityKey(next.ID)

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity IdentityEntity
		if err := tx.Get(key, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return ac.ErrIdentityNotFound
			}
			return err
		}
		if entity.Version != identity.Version {
			return ac.ErrVersionConflict
		}

		oldEmail, newEmail := s.emailClaim(entity.Email), s.emailClaim(next.Email)
		if oldEmail.Name != newEmail.Name {
			if err := claim(tx, newEmail, next.ID); err != nil {
				return err
			}
			if err := release(tx, oldEmail); err != nil {
				return err
			}
		}
		oldProvider := s.providerClaim(entity.Provider, entity.ProviderID)
		newProvider := s.providerClaim(string(next.Provider), next.ProviderID)
		if oldProvider == nil || newProvider == nil || oldProvider.Name != newProvider.Name {
			if err := claim(tx, newProvider, next.ID); err != nil {
				return err
			}
			if err := release(tx, oldProvider); err != nil {
				return err
			}
		}

		next.RefreshTokenHash = entity.RefreshTokenHash
		next.CreatedAt = entity.CreatedAt
		next.Version = entity.Version + 1
		next.UpdatedAt = s.now()
		_, err := tx.Put(key, IdentityToEntity(next, key))
		return err
	})
	if errors.Is(err, datastore.ErrConcurrentTransaction) {
		// retries exhausted: another writer committed first
		return nil, ac.ErrVersionConflict
	}
	if err != nil {
		return nil, err
	}
	return next, nil
}
