// Package storetest holds behaviour tests shared by every UserStore adapter.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ac "github.com/panyam/authcore"
)

// NewIdentity returns a local identity with a fresh id
func NewIdentity(email string) *ac.Identity {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &ac.Identity{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  "Test User",
		PasswordHash: "hash",
		Roles:        []string{ac.RoleUser},
		Active:       true,
		Provider:     ac.ProviderLocal,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// RunUserStoreTests exercises the UserStore contract against stores built by newStore.
// Each subtest gets its own store.
func RunUserStoreTests(t *testing.T, newStore func(t *testing.T) ac.UserStore) {
	ctx := context.Background()

	t.Run("create and find", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Create(ctx, NewIdentity("alice@example.com"))
		require.NoError(t, err)
		assert.Equal(t, 1, created.Version)

		byEmail, err := store.FindByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, created.ID, byEmail.ID)
		assert.Equal(t, []string{ac.RoleUser}, byEmail.Roles)

		byID, err := store.FindByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", byID.Email)
	})

	t.Run("misses return ErrIdentityNotFound", func(t *testing.T) {
		store := newStore(t)
		_, err := store.FindByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, ac.ErrIdentityNotFound)
		_, err = store.FindByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ac.ErrIdentityNotFound)
		_, err = store.FindByProvider(ctx, ac.ProviderGoogle, "sub-1")
		assert.ErrorIs(t, err, ac.ErrIdentityNotFound)
	})

	t.Run("duplicate email is rejected", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Create(ctx, NewIdentity("dup@example.com"))
		require.NoError(t, err)
		_, err = store.Create(ctx, NewIdentity("dup@example.com"))
		assert.ErrorIs(t, err, ac.ErrIdentityExists)
	})

	t.Run("duplicate provider linkage is rejected", func(t *testing.T) {
		store := newStore(t)
		first := NewIdentity("g1@example.com")
		first.Provider, first.ProviderID, first.PasswordHash = ac.ProviderGoogle, "sub-42", ""
		_, err := store.Create(ctx, first)
		require.NoError(t, err)

		second := NewIdentity("g2@example.com")
		second.Provider, second.ProviderID = ac.ProviderGoogle, "sub-42"
		_, err = store.Create(ctx, second)
		assert.ErrorIs(t, err, ac.ErrIdentityExists)

		found, err := store.FindByProvider(ctx, ac.ProviderGoogle, "sub-42")
		require.NoError(t, err)
		assert.Equal(t, first.ID, found.ID)
	})

	t.Run("session-only update keeps version", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Create(ctx, NewIdentity("session@example.com"))
		require.NoError(t, err)

		hash := "abc123"
		require.NoError(t, store.Update(ctx, created.ID, ac.IdentityPatch{RefreshTokenHash: &hash}))

		got, err := store.FindByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "abc123", got.RefreshTokenHash)
		assert.Equal(t, created.Version, got.Version)
		assert.True(t, created.UpdatedAt.Equal(got.UpdatedAt), "updatedAt must not move")
	})

	t.Run("revision update bumps version", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Create(ctx, NewIdentity("revision@example.com"))
		require.NoError(t, err)

		inactive := false
		require.NoError(t, store.Update(ctx, created.ID, ac.IdentityPatch{Active: &inactive}))

		got, err := store.FindByID(ctx, created.ID)
		require.NoError(t, err)
		assert.False(t, got.Active)
		assert.Equal(t, created.Version+1, got.Version)
	})

	t.Run("update of unknown id", func(t *testing.T) {
		store := newStore(t)
		hash := "x"
		err := store.Update(ctx, uuid.NewString(), ac.IdentityPatch{RefreshTokenHash: &hash})
		assert.ErrorIs(t, err, ac.ErrIdentityNotFound)
	})

	t.Run("save is compare-and-swap on version", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Create(ctx, NewIdentity("cas@example.com"))
		require.NoError(t, err)

		first, err := store.FindByID(ctx, created.ID)
		require.NoError(t, err)
		second, err := store.FindByID(ctx, created.ID)
		require.NoError(t, err)

		first.EmailVerified = true
		saved, err := store.Save(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, created.Version+1, saved.Version)

		second.DisplayName = "Stale Writer"
		_, err = store.Save(ctx, second)
		assert.ErrorIs(t, err, ac.ErrVersionConflict)

		got, err := store.FindByID(ctx, created.ID)
		require.NoError(t, err)
		assert.True(t, got.EmailVerified)
		assert.Equal(t, "Test User", got.DisplayName)
	})

	t.Run("save keeps the stored refresh hash", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Create(ctx, NewIdentity("stale@example.com"))
		require.NoError(t, err)
		old := "old-hash"
		require.NoError(t, store.Update(ctx, created.ID, ac.IdentityPatch{RefreshTokenHash: &old}))

		snapshot, err := store.FindByID(ctx, created.ID)
		require.NoError(t, err)

		// A newer session replaces the hash without bumping the version
		current := "current-hash"
		require.NoError(t, store.Update(ctx, created.ID, ac.IdentityPatch{RefreshTokenHash: &current}))

		snapshot.ResetCode = "654321"
		saved, err := store.Save(ctx, snapshot)
		require.NoError(t, err)
		assert.Equal(t, "current-hash", saved.RefreshTokenHash)

		got, err := store.FindByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "current-hash", got.RefreshTokenHash)
		assert.Equal(t, "654321", got.ResetCode)
	})

	t.Run("save persists codes and linkage", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Create(ctx, NewIdentity("codes@example.com"))
		require.NoError(t, err)

		expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)
		created.ResetCode = "123456"
		created.ResetExp = &expiry
		created.Provider = ac.ProviderApple
		created.ProviderID = "apple-sub"
		_, err = store.Save(ctx, created)
		require.NoError(t, err)

		got, err := store.FindByProvider(ctx, ac.ProviderApple, "apple-sub")
		require.NoError(t, err)
		assert.Equal(t, "123456", got.ResetCode)
		require.NotNil(t, got.ResetExp)
		assert.True(t, expiry.Equal(*got.ResetExp))
		assert.Nil(t, got.VerificationExp)
	})

	t.Run("concurrent saves let exactly one writer win", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Create(ctx, NewIdentity("race@example.com"))
		require.NoError(t, err)

		const writers = 8
		var wg sync.WaitGroup
		results := make(chan error, writers)
		for i := 0; i < writers; i++ {
			snapshot := created.Clone()
			snapshot.DisplayName = uuid.NewString()
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Save(ctx, snapshot)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		wins := 0
		for err := range results {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, ac.ErrVersionConflict)
		}
		assert.Equal(t, 1, wins)
	})
}
