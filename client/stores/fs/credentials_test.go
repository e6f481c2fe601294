package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authcore/client"
)

func newStore(t *testing.T) (*FSCredentialStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")
	store, err := NewFSCredentialStore(path, "")
	require.NoError(t, err)
	return store, path
}

func TestFSCredentialStore_GetSetCredential(t *testing.T) {
	store, _ := newStore(t)

	cred, err := store.GetCredential("http://localhost:8080")
	require.NoError(t, err)
	assert.Nil(t, cred)

	require.NoError(t, store.SetCredential("http://localhost:8080", &client.ServerCredential{
		AccessToken:  "test-token",
		RefreshToken: "refresh-token",
		Email:        "user@example.com",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))

	cred, err = store.GetCredential("http://localhost:8080")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "test-token", cred.AccessToken)
	assert.Equal(t, "refresh-token", cred.RefreshToken)

	// Returned credentials are copies
	cred.AccessToken = "mutated"
	again, _ := store.GetCredential("http://localhost:8080")
	assert.Equal(t, "test-token", again.AccessToken)
}

func TestFSCredentialStore_URLNormalization(t *testing.T) {
	store, _ := newStore(t)
	require.NoError(t, store.SetCredential("https://api.example.com/some/path?x=1", &client.ServerCredential{AccessToken: "t"}))

	for _, u := range []string{"https://api.example.com", "https://api.example.com/", "api.example.com"} {
		cred, err := store.GetCredential(u)
		require.NoError(t, err)
		require.NotNil(t, cred, u)
		assert.Equal(t, "t", cred.AccessToken)
	}

	cred, err := store.GetCredential("http://api.example.com")
	require.NoError(t, err)
	assert.Nil(t, cred, "scheme is part of the key")

	_, err = store.GetCredential("https://")
	assert.Error(t, err)
}

func TestFSCredentialStore_RemoveAndList(t *testing.T) {
	store, _ := newStore(t)
	require.NoError(t, store.SetCredential("https://b.example.com", &client.ServerCredential{AccessToken: "b"}))
	require.NoError(t, store.SetCredential("https://a.example.com", &client.ServerCredential{AccessToken: "a"}))

	servers, err := store.ListServers()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, servers)

	require.NoError(t, store.RemoveCredential("https://a.example.com"))
	cred, err := store.GetCredential("https://a.example.com")
	require.NoError(t, err)
	assert.Nil(t, cred)

	servers, _ = store.ListServers()
	assert.Equal(t, []string{"https://b.example.com"}, servers)
}

func TestFSCredentialStore_SaveAndReload(t *testing.T) {
	store, path := newStore(t)
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, store.SetCredential("http://localhost:8080", &client.ServerCredential{
		AccessToken:  "persisted-token",
		RefreshToken: "refresh-token",
		IdentityID:   "id-1",
		ExpiresAt:    expires,
	}))
	require.NoError(t, store.Save())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reopened, err := NewFSCredentialStore(path, "")
	require.NoError(t, err)
	cred, err := reopened.GetCredential("http://localhost:8080")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "persisted-token", cred.AccessToken)
	assert.Equal(t, "id-1", cred.IdentityID)
	assert.True(t, expires.Equal(cred.ExpiresAt))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFSCredentialStore_SaveWithoutChangesIsNoop(t *testing.T) {
	store, path := newStore(t)
	require.NoError(t, store.Save())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFSCredentialStore_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
	_, err := NewFSCredentialStore(path, "")
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"version": 99, "servers": {}}`), 0600))
	_, err = NewFSCredentialStore(path, "")
	assert.ErrorContains(t, err, "unsupported version")
}

func TestFSCredentialStore_DefaultPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	store, err := NewFSCredentialStore("", "testapp")
	require.NoError(t, err)
	assert.Equal(t, "credentials.json", filepath.Base(store.Path()))
	assert.Equal(t, "testapp", filepath.Base(filepath.Dir(store.Path())))
}

func TestFSCredentialStore_BacksAuthClient(t *testing.T) {
	store, path := newStore(t)
	require.NoError(t, store.SetCredential("https://api.example.com", &client.ServerCredential{
		AccessToken: "stored",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))
	require.NoError(t, store.Save())

	reopened, err := NewFSCredentialStore(path, "")
	require.NoError(t, err)
	c := client.NewAuthClient("https://api.example.com/v1", reopened)
	token, err := c.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stored", token)

	require.NoError(t, c.Logout())
	fresh, err := NewFSCredentialStore(path, "")
	require.NoError(t, err)
	servers, _ := fresh.ListServers()
	assert.Empty(t, servers)
}
