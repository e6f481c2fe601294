// Package client is a Go client for the authcore HTTP API. It logs in, keeps
// the token pair in a CredentialStore and refreshes the access token before it
// expires or when the server answers 401.
package client

import (
	"time"
)

// ServerCredential is the session held for one server
type ServerCredential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	IdentityID   string    `json:"identity_id,omitempty"`
	Email        string    `json:"email,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsExpired returns true if the access token has expired
func (c *ServerCredential) IsExpired() bool {
	return c.expiredAt(time.Now())
}

func (c *ServerCredential) expiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// IsExpiringSoon returns true if the token expires within the given duration
func (c *ServerCredential) IsExpiringSoon(within time.Duration) bool {
	return c.expiredAt(time.Now().Add(within))
}

// HasRefreshToken returns true if a refresh token is available
func (c *ServerCredential) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

// CredentialStore persists sessions keyed by server URL
type CredentialStore interface {
	// GetCredential returns nil, nil if no credential exists for the server
	GetCredential(serverURL string) (*ServerCredential, error)

	SetCredential(serverURL string, cred *ServerCredential) error

	RemoveCredential(serverURL string) error

	ListServers() ([]string, error)

	// Save persists any pending changes
	Save() error
}
