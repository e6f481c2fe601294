package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	ac "github.com/panyam/authcore"
)

// FSUserStore implements ac.UserStore with one JSON file per identity.
//
// # File Structure
//
//	{StoragePath}/
//	└── identities/
//	    ├── 2f1c...e9.json   # {"id": "2f1c...e9", "email": "alice@example.com", ...}
//	    └── ...
//
// # Concurrency Model
//
// All records are cached in memory and indexed by email and provider linkage.
// Writes hold an exclusive lock for the whole read-compare-write, so Save's
// version check is atomic within the process. Files are replaced atomically,
// but two processes sharing a directory are not coordinated.
type FSUserStore struct {
	StoragePath string
	Now         func() time.Time

	mu         sync.RWMutex
	loaded     bool
	byID       map[string]*ac.Identity
	byEmail    map[string]string
	byProvider map[string]string
}

// NewFSUserStore creates a filesystem-backed UserStore rooted at storagePath
func NewFSUserStore(storagePath string) *FSUserStore {
	return &FSUserStore{StoragePath: storagePath}
}

func (s *FSUserStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *FSUserStore) identitiesDir() string {
	return filepath.Join(s.StoragePath, "identities")
}

func (s *FSUserStore) identityPath(id string) string {
	// filepath.Base keeps ids from escaping the directory
	return filepath.Join(s.identitiesDir(), filepath.Base(id)+".json")
}

func emailKey(email string) string {
	return strings.ToLower(email)
}

func providerKey(provider ac.Provider, providerID string) string {
	if providerID == "" {
		return ""
	}
	return string(provider) + ":" + providerID
}

// loadLocked reads every identity file once. Caller holds s.mu for writing.
func (s *FSUserStore) loadLocked() error {
	if s.loaded {
		return nil
	}
	s.byID = make(map[string]*ac.Identity)
	s.byEmail = make(map[string]string)
	s.byProvider = make(map[string]string)

	entries, err := os.ReadDir(s.identitiesDir())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to list identities: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var identity ac.Identity
		if err := readJSONFile(filepath.Join(s.identitiesDir(), entry.Name()), &identity); err != nil {
			return err
		}
		s.indexLocked(&identity)
	}
	s.loaded = true
	return nil
}

func (s *FSUserStore) indexLocked(identity *ac.Identity) {
	s.byID[identity.ID] = identity
	s.byEmail[emailKey(identity.Email)] = identity.ID
	if key := providerKey(identity.Provider, identity.ProviderID); key != "" {
		s.byProvider[key] = identity.ID
	}
}

func (s *FSUserStore) unindexLocked(identity *ac.Identity) {
	delete(s.byEmail, emailKey(identity.Email))
	if key := providerKey(identity.Provider, identity.ProviderID); key != "" {
		delete(s.byProvider, key)
	}
}

// readLocked takes the read lock, loading the directory first if needed.
// The caller must RUnlock.
func (s *FSUserStore) readLocked() error {
	s.mu.RLock()
	if s.loaded {
		return nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	err := s.loadLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.mu.RLock()
	return nil
}

func (s *FSUserStore) lookup(ctx context.Context, index func() (string, bool)) (*ac.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.readLocked(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	id, ok := index()
	if !ok {
		return nil, ac.ErrIdentityNotFound
	}
	identity, ok := s.byID[id]
	if !ok {
		return nil, ac.ErrIdentityNotFound
	}
	return identity.Clone(), nil
}

func (s *FSUserStore) FindByEmail(ctx context.Context, email string) (*ac.Identity, error) {
	return s.lookup(ctx, func() (string, bool) {
		id, ok := s.byEmail[emailKey(email)]
		return id, ok
	})
}

func (s *FSUserStore) FindByID(ctx context.Context, id string) (*ac.Identity, error) {
	return s.lookup(ctx, func() (string, bool) { return id, true })
}

func (s *FSUserStore) FindByProvider(ctx context.Context, provider ac.Provider, providerID string) (*ac.Identity, error) {
	return s.lookup(ctx, func() (string, bool) {
		key := providerKey(provider, providerID)
		if key == "" {
			return "", false
		}
		id, ok := s.byProvider[key]
		return id, ok
	})
}

// conflictsLocked reports whether identity's unique keys belong to someone else
func (s *FSUserStore) conflictsLocked(identity *ac.Identity) bool {
	if owner, ok := s.byEmail[emailKey(identity.Email)]; ok && owner != identity.ID {
		return true
	}
	if key := providerKey(identity.Provider, identity.ProviderID); key != "" {
		if owner, ok := s.byProvider[key]; ok && owner != identity.ID {
			return true
		}
	}
	return false
}

func (s *FSUserStore) Create(ctx context.Context, identity *ac.Identity) (*ac.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}

	if _, exists := s.byID[identity.ID]; exists || s.conflictsLocked(identity) {
		return nil, ac.ErrIdentityExists
	}

	record := identity.Clone()
	now := s.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
	record.Version = 1

	if err := writeJSONAtomic(s.identityPath(record.ID), record); err != nil {
		return nil, err
	}
	s.indexLocked(record)
	return record.Clone(), nil
}

func (s *FSUserStore) Update(ctx context.Context, id string, patch ac.IdentityPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}

	current, ok := s.byID[id]
	if !ok {
		return ac.ErrIdentityNotFound
	}
	if patch.IsEmpty() {
		return nil
	}

	next := current.Clone()
	patch.Apply(next)
	if !patch.SessionOnly() {
		next.Version++
		next.UpdatedAt = s.now()
	}

	if err := writeJSONAtomic(s.identityPath(id), next); err != nil {
		return err
	}
	s.byID[id] = next
	return nil
}

func (s *FSUserStore) Save(ctx context.Context, identity *ac.Identity) (*ac.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}

	current, ok := s.byID[identity.ID]
	if !ok {
		return nil, ac.ErrIdentityNotFound
	}
	if current.Version != identity.Version {
		return nil, ac.ErrVersionConflict
	}
	if s.conflictsLocked(identity) {
		return nil, ac.ErrIdentityExists
	}

	next := identity.Clone()
	next.RefreshTokenHash = current.RefreshTokenHash
	next.CreatedAt = current.CreatedAt
	next.Version = current.Version + 1
	next.UpdatedAt = s.now()

	if err := writeJSONAtomic(s.identityPath(next.ID), next); err != nil {
		return nil, err
	}
	s.unindexLocked(current)
	s.indexLocked(next)
	return next.Clone(), nil
}
