// Package grpc authenticates gRPC calls with authcore access tokens and
// carries the identity between services via metadata.
package grpc

import (
	"context"

	"google.golang.org/grpc/metadata"

	ac "github.com/panyam/authcore"
)

// Default metadata keys for authentication context.
const (
	// DefaultMetadataKeyAuthorization carries "Bearer <access token>"
	DefaultMetadataKeyAuthorization = "authorization"

	// DefaultMetadataKeyIdentityID carries an already authenticated identity id between internal services
	DefaultMetadataKeyIdentityID = "x-identity-id"
)

// Config holds the metadata key configuration for auth context.
type Config struct {
	// MetadataKeyAuthorization defaults to "authorization".
	MetadataKeyAuthorization string

	// MetadataKeyIdentityID defaults to "x-identity-id".
	MetadataKeyIdentityID string

	// TrustForwardedIdentity accepts MetadataKeyIdentityID without a token.
	// Only enable on services reachable solely from trusted peers.
	TrustForwardedIdentity bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
		MetadataKeyIdentityID:    DefaultMetadataKeyIdentityID,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
	if c.MetadataKeyIdentityID == "" {
		c.MetadataKeyIdentityID = DefaultMetadataKeyIdentityID
	}
}

// IdentityIDFromContext returns the identity the interceptor authenticated, or "".
func IdentityIDFromContext(ctx context.Context) string {
	return ac.IdentityIDFromContext(ctx)
}

// IsAuthenticated returns true if there is an authenticated identity in the context.
func IsAuthenticated(ctx context.Context) bool {
	return IdentityIDFromContext(ctx) != ""
}

// BearerToOutgoingContext attaches an access token to outgoing calls.
func BearerToOutgoingContext(ctx context.Context, accessToken string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyAuthorization, "Bearer "+accessToken)
}

// ForwardIdentity copies the authenticated identity id into outgoing metadata
// for a downstream service that trusts forwarded identities.
func ForwardIdentity(ctx context.Context) context.Context {
	return ForwardIdentityWithKey(ctx, DefaultMetadataKeyIdentityID)
}

// ForwardIdentityWithKey is ForwardIdentity with a custom metadata key.
func ForwardIdentityWithKey(ctx context.Context, key string) context.Context {
	id := IdentityIDFromContext(ctx)
	if id == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, key, id)
}
