package authcore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ac "github.com/panyam/authcore"
)

func TestFederatedLogin_CreatesVerifiedPasswordlessIdentity(t *testing.T) {
	h := newHarness(t)
	h.Providers.add("google-token", "g-100", "Zoe@Example.com", "Zoe Z")

	result, err := h.Engine.LoginWithFederatedIdentity(ctx, ac.ProviderGoogle, "google-token")
	require.NoError(t, err)
	assert.Equal(t, "zoe@example.com", result.Identity.Email)
	assert.Equal(t, "Zoe Z", result.Identity.DisplayName)
	assert.Equal(t, ac.ProviderGoogle, result.Identity.Provider)
	assert.True(t, result.Identity.EmailVerified)
	assert.False(t, result.Identity.HasPassword)
	assert.NotEmpty(t, result.Tokens.RefreshToken)

	// The same subject signs into the same account
	again, err := h.Engine.LoginWithFederatedIdentity(ctx, ac.ProviderGoogle, "google-token")
	require.NoError(t, err)
	assert.Equal(t, result.Identity.ID, again.Identity.ID)

	// Only the newest session can refresh
	_, err = h.Engine.Refresh(ctx, result.Tokens.RefreshToken)
	requireKind(t, err, ac.KindUnauthorized)
	_, err = h.Engine.Refresh(ctx, again.Tokens.RefreshToken)
	require.NoError(t, err)
}

func TestFederatedLogin_DisplayNameFallsBackToLocalPart(t *testing.T) {
	h := newHarness(t)
	h.Providers.add("apple-token", "a-1", "quiet.person@example.com", "  ")

	result, err := h.Engine.LoginWithFederatedIdentity(ctx, ac.ProviderApple, "apple-token")
	require.NoError(t, err)
	assert.Equal(t, "quiet.person", result.Identity.DisplayName)
	assert.Equal(t, ac.ProviderApple, result.Identity.Provider)
}

func TestFederatedLogin_LinksExistingEmail(t *testing.T) {
	h := newHarness(t)
	_, err := h.Engine.Register(ctx, ac.RegisterInput{Email: "yara@example.com", DisplayName: "Yara", Password: "secret1"}, true)
	require.NoError(t, err)
	before := h.identity(t, "yara@example.com")
	require.False(t, before.EmailVerified)

	h.Providers.add("tok", "g-7", "yara@example.com", "Yara From Google")
	result, err := h.Engine.LoginWithFederatedIdentity(ctx, ac.ProviderGoogle, "tok")
	require.NoError(t, err)
	assert.Equal(t, before.ID, result.Identity.ID)
	assert.True(t, result.Identity.EmailVerified)
	assert.Equal(t, "Yara", result.Identity.DisplayName, "linking keeps the local name")

	after := h.identity(t, "yara@example.com")
	assert.Equal(t, ac.ProviderGoogle, after.Provider)
	assert.Equal(t, "g-7", after.ProviderID)
	assert.Empty(t, after.VerificationCode)
	assert.Equal(t, before.Version+1, after.Version)

	// The password still works and the account is now verified
	_, err = h.Engine.Login(ctx, "yara@example.com", "secret1")
	require.NoError(t, err)
}

func TestFederatedLogin_RequireLinkConfirmation(t *testing.T) {
	h := newHarness(t)
	h.Engine.RequireLinkConfirmation = true
	h.registerVerified(t, "xena@example.com", "secret1")
	h.Providers.add("tok", "g-9", "xena@example.com", "Xena")

	_, err := h.Engine.LoginWithFederatedIdentity(ctx, ac.ProviderGoogle, "tok")
	requireKind(t, err, ac.KindConflict)
	assert.Equal(t, ac.ProviderLocal, h.identity(t, "xena@example.com").Provider)

	_, err = h.Engine.LinkFederatedIdentity(ctx, ac.ProviderGoogle, "tok", "xena@example.com", "wrong-pass")
	requireKind(t, err, ac.KindUnauthorized)

	linked, err := h.Engine.LinkFederatedIdentity(ctx, ac.ProviderGoogle, "tok", "XENA@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, ac.ProviderGoogle, linked.Identity.Provider)

	// Once linked, federated login resolves by subject
	result, err := h.Engine.LoginWithFederatedIdentity(ctx, ac.ProviderGoogle, "tok")
	require.NoError(t, err)
	assert.Equal(t, linked.Identity.ID, result.Identity.ID)
}

func TestLinkFederatedIdentity_ProviderOwnedByAnotherAccount(t *testing.T) {
	h := newHarness(t)
	h.Providers.add("tok", "g-55", "owner@example.com", "Owner")
	_, err := h.Engine.LoginWithFederatedIdentity(ctx, ac.ProviderGoogle, "tok")
	require.NoError(t, err)

	h.registerVerified(t, "other@example.com", "secret1")
	_, err = h.Engine.LinkFederatedIdentity(ctx, ac.ProviderGoogle, "tok", "other@example.com", "secret1")
	requireKind(t, err, ac.KindConflict)

	_, err = h.Engine.LinkFederatedIdentity(ctx, ac.ProviderGoogle, "tok", "missing@example.com", "secret1")
	requireKind(t, err, ac.KindUnauthorized)
}

func TestFederatedLogin_ValidatorFailures(t *testing.T) {
	h := newHarness(t)
	h.Providers.add("no-email", "g-1", "", "Nameless")
	h.Providers.add("no-subject", "", "nosub@example.com", "No Sub")

	tests := []struct {
		name      string
		provider  ac.Provider
		assertion string
		kind      ac.ErrorKind
	}{
		{"rejected signature", ac.ProviderGoogle, "forged", ac.KindExternalFailure},
		{"missing email", ac.ProviderGoogle, "no-email", ac.KindExternalFailure},
		{"missing subject", ac.ProviderGoogle, "no-subject", ac.KindExternalFailure},
		{"empty assertion", ac.ProviderGoogle, "   ", ac.KindInvalidInput},
		{"local is not federated", ac.ProviderLocal, "anything", ac.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Engine.LoginWithFederatedIdentity(ctx, tt.provider, tt.assertion)
			requireKind(t, err, tt.kind)
		})
	}

	_, err := h.Store.FindByEmail(ctx, "nosub@example.com")
	assert.ErrorIs(t, err, ac.ErrIdentityNotFound)
}

func TestFederatedLogin_NoValidatorConfigured(t *testing.T) {
	h := newHarness(t)
	h.Engine.Federated = nil
	_, err := h.Engine.LoginWithFederatedIdentity(ctx, ac.ProviderGoogle, "tok")
	requireKind(t, err, ac.KindExternalFailure)
}

func TestFederatedLogin_ValidatorFunc(t *testing.T) {
	h := newHarness(t)
	var seen ac.Provider
	h.Engine.Federated = ac.FederatedValidatorFunc(func(ctx context.Context, provider ac.Provider, assertion string) (*ac.FederatedIdentity, error) {
		seen = provider
		return &ac.FederatedIdentity{ProviderID: "fn-1", Email: "fn@example.com"}, nil
	})

	result, err := h.Engine.LoginWithFederatedIdentity(ctx, ac.ProviderApple, "tok")
	require.NoError(t, err)
	assert.Equal(t, ac.ProviderApple, seen)
	assert.Equal(t, "fn", result.Identity.DisplayName)
}

func TestFederatedLogin_Timeout(t *testing.T) {
	h := newHarness(t)
	h.Providers.add("slow", "g-2", "slow@example.com", "Slow")
	h.Providers.delay = time.Second
	h.Engine.FederatedTimeout = 20 * time.Millisecond

	start := time.Now()
	_, err := h.Engine.LoginWithFederatedIdentity(ctx, ac.ProviderGoogle, "slow")
	requireKind(t, err, ac.KindExternalFailure)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFederatedLogin_InactiveAccount(t *testing.T) {
	h := newHarness(t)
	h.Providers.add("tok", "g-3", "idle@example.com", "Idle")
	result, err := h.Engine.LoginWithFederatedIdentity(ctx, ac.ProviderGoogle, "tok")
	require.NoError(t, err)

	require.NoError(t, h.Engine.SetActive(ctx, result.Identity.ID, false))
	_, err = h.Engine.LoginWithFederatedIdentity(ctx, ac.ProviderGoogle, "tok")
	requireKind(t, err, ac.KindUnauthorized)
}
