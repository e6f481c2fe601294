package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ac "github.com/panyam/authcore"
	"github.com/panyam/authcore/stores/storetest"
)

func TestFSUserStore(t *testing.T) {
	storetest.RunUserStoreTests(t, func(t *testing.T) ac.UserStore {
		return NewFSUserStore(t.TempDir())
	})
}

func TestFSUserStore_ReloadsFromDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first := NewFSUserStore(dir)
	created, err := first.Create(ctx, storetest.NewIdentity("disk@example.com"))
	require.NoError(t, err)
	hash := "refresh-hash"
	require.NoError(t, first.Update(ctx, created.ID, ac.IdentityPatch{RefreshTokenHash: &hash}))

	second := NewFSUserStore(dir)
	got, err := second.FindByEmail(ctx, "DISK@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "refresh-hash", got.RefreshTokenHash)
	assert.Equal(t, 1, got.Version)

	_, err = os.Stat(filepath.Join(dir, "identities", created.ID+".json"))
	assert.NoError(t, err)
}

func TestFSUserStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewFSUserStore(t.TempDir())
	created, err := store.Create(ctx, storetest.NewIdentity("copy@example.com"))
	require.NoError(t, err)

	got, err := store.FindByID(ctx, created.ID)
	require.NoError(t, err)
	got.Roles[0] = ac.RoleAdmin
	got.DisplayName = "Mutated"

	again, err := store.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{ac.RoleUser}, again.Roles)
	assert.Equal(t, "Test User", again.DisplayName)
}

func TestFSUserStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewFSUserStore(t.TempDir())
	_, err := store.FindByEmail(ctx, "x@example.com")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFSUserStore_SkipsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "identities", "nested"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "identities", "README.txt"), []byte("hi"), 0600))

	store := NewFSUserStore(dir)
	_, err := store.FindByEmail(context.Background(), "none@example.com")
	assert.ErrorIs(t, err, ac.ErrIdentityNotFound)
}
