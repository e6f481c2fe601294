package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	ac "github.com/panyam/authcore"
)

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// Tokens verifies bearer access tokens. Required unless only forwarded
	// identities are accepted.
	Tokens ac.TokenVerifier

	// RequireAuth when true rejects unauthenticated requests.
	// When false, requests proceed but IdentityIDFromContext returns empty.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool
}

// DefaultInterceptorConfig returns a config that requires auth for all methods.
func DefaultInterceptorConfig(tokens ac.TokenVerifier) *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		Tokens:        tokens,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(tokens ac.TokenVerifier, publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig(tokens)
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig(tokens ac.TokenVerifier) *InterceptorConfig {
	config := DefaultInterceptorConfig(tokens)
	config.RequireAuth = false
	return config
}

func (c *InterceptorConfig) ensure() *InterceptorConfig {
	if c == nil {
		c = DefaultInterceptorConfig(nil)
	}
	if c.Config == nil {
		c.Config = DefaultConfig()
	}
	c.Config.EnsureDefaults()
	return c
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that authenticates the caller.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config = config.ensure()
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := authenticate(ctx, config, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns a gRPC stream interceptor that authenticates the caller.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config = config.ensure()
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authenticate(ss.Context(), config, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authenticatedStream{ServerStream: ss, ctx: ctx})
	}
}

// authenticatedStream overrides the stream context with the authenticated one
type authenticatedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authenticatedStream) Context() context.Context {
	return s.ctx
}

// authenticate resolves the caller and enforces RequireAuth. A token that is
// present but invalid is rejected even on public methods.
func authenticate(ctx context.Context, config *InterceptorConfig, method string) (context.Context, error) {
	required := config.RequireAuth && !config.PublicMethods[method]

	md, _ := metadata.FromIncomingContext(ctx)
	if values := md.Get(config.MetadataKeyAuthorization); len(values) > 0 && values[0] != "" {
		if config.Tokens == nil {
			return nil, status.Error(codes.Internal, "token verification not configured")
		}
		token, err := ac.BearerToken(values[0])
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, ac.PublicMessage(err))
		}
		claims, err := config.Tokens.VerifyAccessToken(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid access token")
		}
		return ac.ContextWithIdentity(ctx, claims.Subject, claims.Email), nil
	}

	if config.TrustForwardedIdentity {
		if values := md.Get(config.MetadataKeyIdentityID); len(values) > 0 && values[0] != "" {
			return ac.ContextWithIdentity(ctx, values[0], ""), nil
		}
	}

	if required {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	return ctx, nil
}
