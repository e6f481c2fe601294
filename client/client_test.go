package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerCredential_IsExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"expired", time.Now().Add(-1 * time.Hour), true},
		{"not expired", time.Now().Add(1 * time.Hour), false},
		{"just expired", time.Now().Add(-1 * time.Second), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &ServerCredential{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, c.IsExpired())
		})
	}
}

func TestServerCredential_IsExpiringSoon(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		within    time.Duration
		want      bool
	}{
		{"expiring soon", time.Now().Add(1 * time.Minute), RefreshThreshold, true},
		{"not expiring soon", time.Now().Add(10 * time.Minute), RefreshThreshold, false},
		{"already expired", time.Now().Add(-1 * time.Minute), RefreshThreshold, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &ServerCredential{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, c.IsExpiringSoon(tt.within))
		})
	}
}

func TestServerCredential_HasRefreshToken(t *testing.T) {
	assert.True(t, (&ServerCredential{RefreshToken: "r"}).HasRefreshToken())
	assert.False(t, (&ServerCredential{}).HasRefreshToken())
}

// mockCredentialStore is an in-memory CredentialStore
type mockCredentialStore struct {
	creds map[string]*ServerCredential
	saves int
}

func newMockCredentialStore() *mockCredentialStore {
	return &mockCredentialStore{creds: make(map[string]*ServerCredential)}
}

func (m *mockCredentialStore) GetCredential(serverURL string) (*ServerCredential, error) {
	return m.creds[serverURL], nil
}

func (m *mockCredentialStore) SetCredential(serverURL string, cred *ServerCredential) error {
	m.creds[serverURL] = cred
	return nil
}

func (m *mockCredentialStore) RemoveCredential(serverURL string) error {
	delete(m.creds, serverURL)
	return nil
}

func (m *mockCredentialStore) ListServers() ([]string, error) {
	servers := make([]string, 0, len(m.creds))
	for k := range m.creds {
		servers = append(servers, k)
	}
	return servers, nil
}

func (m *mockCredentialStore) Save() error {
	m.saves++
	return nil
}

func TestAuthClient_GetToken_NoCredential(t *testing.T) {
	c := NewAuthClient("https://api.example.com", newMockCredentialStore())
	token, err := c.GetToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestAuthClient_GetToken_ValidCredential(t *testing.T) {
	store := newMockCredentialStore()
	store.creds["https://api.example.com"] = &ServerCredential{
		AccessToken: "valid-token",
		ExpiresAt:   time.Now().Add(1 * time.Hour),
	}

	c := NewAuthClient("https://api.example.com", store)
	token, err := c.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "valid-token", token)
}

func TestAuthClient_GetToken_ExpiredWithoutRefresh(t *testing.T) {
	store := newMockCredentialStore()
	store.creds["https://api.example.com"] = &ServerCredential{
		AccessToken: "expired-token",
		ExpiresAt:   time.Now().Add(-1 * time.Hour),
	}

	c := NewAuthClient("https://api.example.com", store)
	token, err := c.GetToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestAuthClient_IsLoggedIn(t *testing.T) {
	store := newMockCredentialStore()
	c := NewAuthClient("https://api.example.com", store)
	assert.False(t, c.IsLoggedIn())

	store.creds["https://api.example.com"] = &ServerCredential{AccessToken: "t", ExpiresAt: time.Now().Add(time.Hour)}
	assert.True(t, c.IsLoggedIn())

	store.creds["https://api.example.com"] = &ServerCredential{AccessToken: "t", ExpiresAt: time.Now().Add(-time.Hour)}
	assert.False(t, c.IsLoggedIn())

	store.creds["https://api.example.com"].RefreshToken = "r"
	assert.True(t, c.IsLoggedIn(), "a refresh token keeps the session alive")
}

func TestAuthClient_Logout(t *testing.T) {
	store := newMockCredentialStore()
	store.creds["https://api.example.com"] = &ServerCredential{AccessToken: "t"}

	c := NewAuthClient("https://api.example.com", store)
	require.NoError(t, c.Logout())
	assert.Empty(t, store.creds)
	assert.Equal(t, 1, store.saves)
}

func TestAuthClient_Refresh_NotLoggedIn(t *testing.T) {
	c := NewAuthClient("https://api.example.com", newMockCredentialStore())
	_, err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestAuthClient_URLNormalization(t *testing.T) {
	for _, in := range []string{
		"https://api.example.com",
		"https://api.example.com/",
		"https://api.example.com/some/path",
		"https://api.example.com/auth?x=1",
	} {
		c := NewAuthClient(in, newMockCredentialStore())
		assert.Equal(t, "https://api.example.com", c.ServerURL(), in)
	}
}

func TestAPIError_Message(t *testing.T) {
	err := &APIError{Status: 401, Kind: "unauthorized", Description: "Invalid credentials"}
	assert.Equal(t, "auth api: unauthorized (401): Invalid credentials", err.Error())
	assert.Equal(t, "auth api: HTTP 502", (&APIError{Status: 502}).Error())
}
