package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	ac "github.com/panyam/authcore"
)

func newIssuer(t *testing.T) *ac.TokenIssuer {
	t.Helper()
	issuer, err := ac.NewTokenIssuer(
		"access-secret-0123456789abcdef0123456789",
		"refresh-secret-0123456789abcdef012345678",
		15*time.Minute, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	return issuer
}

func incoming(pairs ...string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(pairs...))
}

var unaryInfo = &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

func TestDefaultInterceptorConfig(t *testing.T) {
	config := DefaultInterceptorConfig(nil)
	if !config.RequireAuth {
		t.Error("expected RequireAuth to be true by default")
	}
	if config.PublicMethods == nil {
		t.Error("expected PublicMethods to be initialized")
	}
	if config.MetadataKeyAuthorization != "authorization" {
		t.Errorf("unexpected authorization key %q", config.MetadataKeyAuthorization)
	}
}

func TestNewPublicMethodsConfig(t *testing.T) {
	config := NewPublicMethodsConfig(nil, "/pkg.Svc/Method1", "/pkg.Svc/Method2")
	if !config.PublicMethods["/pkg.Svc/Method1"] || !config.PublicMethods["/pkg.Svc/Method2"] {
		t.Error("expected Method1 and Method2 to be public")
	}
	if config.PublicMethods["/pkg.Svc/Method3"] {
		t.Error("expected Method3 to not be public")
	}
}

func TestEnsureDefaults(t *testing.T) {
	c := &Config{}
	c.EnsureDefaults()
	if c.MetadataKeyIdentityID != DefaultMetadataKeyIdentityID {
		t.Errorf("expected %q, got %q", DefaultMetadataKeyIdentityID, c.MetadataKeyIdentityID)
	}
}

func TestUnaryAuthInterceptor_RequireAuth_NoToken(t *testing.T) {
	interceptor := UnaryAuthInterceptor(DefaultInterceptorConfig(newIssuer(t)))
	called := false
	_, err := interceptor(context.Background(), nil, unaryInfo, func(ctx context.Context, req any) (any, error) {
		called = true
		return nil, nil
	})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
	if called {
		t.Error("handler must not run")
	}
}

func TestUnaryAuthInterceptor_ValidToken(t *testing.T) {
	issuer := newIssuer(t)
	token, err := issuer.IssueAccessToken("id-42", "a@example.com")
	if err != nil {
		t.Fatal(err)
	}

	interceptor := UnaryAuthInterceptor(DefaultInterceptorConfig(issuer))
	var gotID, gotEmail string
	_, err = interceptor(incoming("authorization", "Bearer "+token), nil, unaryInfo,
		func(ctx context.Context, req any) (any, error) {
			gotID = IdentityIDFromContext(ctx)
			gotEmail = ac.EmailFromContext(ctx)
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotID != "id-42" || gotEmail != "a@example.com" {
		t.Errorf("expected identity id-42/a@example.com, got %q/%q", gotID, gotEmail)
	}
}

func TestUnaryAuthInterceptor_RejectsRefreshToken(t *testing.T) {
	issuer := newIssuer(t)
	pair, err := issuer.IssuePair("id-42", "a@example.com")
	if err != nil {
		t.Fatal(err)
	}
	interceptor := UnaryAuthInterceptor(DefaultInterceptorConfig(issuer))
	_, err = interceptor(incoming("authorization", "Bearer "+pair.RefreshToken), nil, unaryInfo,
		func(ctx context.Context, req any) (any, error) { return nil, nil })
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestUnaryAuthInterceptor_InvalidTokenOnPublicMethod(t *testing.T) {
	interceptor := UnaryAuthInterceptor(NewPublicMethodsConfig(newIssuer(t), unaryInfo.FullMethod))
	_, err := interceptor(incoming("authorization", "Bearer garbage"), nil, unaryInfo,
		func(ctx context.Context, req any) (any, error) { return nil, nil })
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestUnaryAuthInterceptor_PublicMethod(t *testing.T) {
	interceptor := UnaryAuthInterceptor(NewPublicMethodsConfig(newIssuer(t), unaryInfo.FullMethod))
	resp, err := interceptor(context.Background(), nil, unaryInfo,
		func(ctx context.Context, req any) (any, error) { return "public", nil })
	if err != nil || resp != "public" {
		t.Fatalf("expected public call to pass, got %v %v", resp, err)
	}
}

func TestUnaryAuthInterceptor_OptionalAuth(t *testing.T) {
	interceptor := UnaryAuthInterceptor(OptionalAuthConfig(newIssuer(t)))
	_, err := interceptor(context.Background(), nil, unaryInfo, func(ctx context.Context, req any) (any, error) {
		if IsAuthenticated(ctx) {
			t.Error("expected anonymous context")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUnaryAuthInterceptor_ForwardedIdentity(t *testing.T) {
	config := DefaultInterceptorConfig(nil)
	ctx := incoming("x-identity-id", "id-7")

	interceptor := UnaryAuthInterceptor(config)
	_, err := interceptor(ctx, nil, unaryInfo, func(ctx context.Context, req any) (any, error) { return nil, nil })
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("forwarded identity must be ignored unless trusted, got %v", err)
	}

	config.TrustForwardedIdentity = true
	interceptor = UnaryAuthInterceptor(config)
	var got string
	_, err = interceptor(ctx, nil, unaryInfo, func(ctx context.Context, req any) (any, error) {
		got = IdentityIDFromContext(ctx)
		return nil, nil
	})
	if err != nil || got != "id-7" {
		t.Fatalf("expected forwarded id-7, got %q (%v)", got, err)
	}
}

func TestForwardIdentity(t *testing.T) {
	ctx := ForwardIdentity(ac.ContextWithIdentity(context.Background(), "id-9", "x@example.com"))
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		t.Fatal("expected outgoing metadata")
	}
	if values := md.Get(DefaultMetadataKeyIdentityID); len(values) != 1 || values[0] != "id-9" {
		t.Errorf("unexpected forwarded metadata %v", values)
	}

	plain := ForwardIdentity(context.Background())
	if _, ok := metadata.FromOutgoingContext(plain); ok {
		t.Error("anonymous context must not gain metadata")
	}
}

type mockServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (m *mockServerStream) Context() context.Context { return m.ctx }

func TestStreamAuthInterceptor_ValidToken(t *testing.T) {
	issuer := newIssuer(t)
	token, _ := issuer.IssueAccessToken("id-5", "s@example.com")
	interceptor := StreamAuthInterceptor(DefaultInterceptorConfig(issuer))

	stream := &mockServerStream{ctx: incoming("authorization", "Bearer "+token)}
	var got string
	err := interceptor(nil, stream, &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/Stream"},
		func(srv any, ss grpc.ServerStream) error {
			got = IdentityIDFromContext(ss.Context())
			return nil
		})
	if err != nil || got != "id-5" {
		t.Fatalf("expected id-5, got %q (%v)", got, err)
	}
}

func TestStreamAuthInterceptor_RequireAuth_NoToken(t *testing.T) {
	interceptor := StreamAuthInterceptor(DefaultInterceptorConfig(newIssuer(t)))
	err := interceptor(nil, &mockServerStream{ctx: context.Background()},
		&grpc.StreamServerInfo{FullMethod: "/pkg.Svc/Stream"},
		func(srv any, ss grpc.ServerStream) error { return nil })
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

// TestHealthServerOverBufconn runs the interceptor in a real server
func TestHealthServerOverBufconn(t *testing.T) {
	issuer := newIssuer(t)
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(
		grpc.UnaryInterceptor(UnaryAuthInterceptor(DefaultInterceptorConfig(issuer))),
	)
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Check(ctx, &healthpb.HealthCheckRequest{}); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated without token, got %v", err)
	}

	token, _ := issuer.IssueAccessToken("id-1", "h@example.com")
	resp, err := client.Check(BearerToOutgoingContext(ctx, token), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("expected SERVING, got %v", resp.Status)
	}
}
