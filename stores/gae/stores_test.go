//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"os"
	"strings"
	"testing"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	ac "github.com/panyam/authcore"
	"github.com/panyam/authcore/stores/storetest"
)

// These tests need the Datastore emulator:
//
//	gcloud beta emulators datastore start --no-store-on-disk
//	export DATASTORE_EMULATOR_HOST=localhost:8081
func newTestClient(t *testing.T) *datastore.Client {
	t.Helper()
	if os.Getenv("DATASTORE_EMULATOR_HOST") == "" {
		t.Skip("DATASTORE_EMULATOR_HOST not set")
	}
	client, err := datastore.NewClient(context.Background(), "authcore-test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestIdentityStore(t *testing.T) {
	client := newTestClient(t)
	storetest.RunUserStoreTests(t, func(t *testing.T) ac.UserStore {
		// a namespace per subtest keeps them isolated
		return NewIdentityStore(client, "t"+strings.ReplaceAll(uuid.NewString(), "-", ""))
	})
}

func TestEntityRoundTripKeepsNilExpiry(t *testing.T) {
	identity := storetest.NewIdentity("entity@example.com")
	key := datastore.NameKey(KindIdentity, identity.ID, nil)

	got := IdentityToEntity(identity, key).ToIdentity()
	require.Nil(t, got.VerificationExp)
	require.Nil(t, got.ResetExp)
	require.Equal(t, identity.ID, got.ID)
	require.Equal(t, identity.Roles, got.Roles)
}
