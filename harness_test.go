package authcore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	ac "github.com/panyam/authcore"
	"github.com/panyam/authcore/stores/fs"
)

// =============================================================================
// Test harness: an Engine over a file store with a controllable clock
// =============================================================================

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentCode struct {
	Email   string
	Code    string
	Purpose ac.CodePurpose
}

// captureSender records every code instead of delivering it
type captureSender struct {
	mu   sync.Mutex
	sent []sentCode
	err  error
}

func (s *captureSender) SendCode(ctx context.Context, email, code string, purpose ac.CodePurpose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentCode{Email: email, Code: code, Purpose: purpose})
	return s.err
}

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *captureSender) last(t *testing.T) sentCode {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent, "no code was sent")
	return s.sent[len(s.sent)-1]
}

// fakeProviders answers Validate from a table keyed by assertion
type fakeProviders struct {
	mu         sync.Mutex
	identities map[string]*ac.FederatedIdentity
	delay      time.Duration
}

func (f *fakeProviders) add(assertion, subject, email, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identities[assertion] = &ac.FederatedIdentity{ProviderID: subject, Email: email, DisplayName: name}
}

func (f *fakeProviders) Validate(ctx context.Context, provider ac.Provider, assertion string) (*ac.FederatedIdentity, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fed, ok := f.identities[assertion]
	if !ok {
		return nil, errors.New("signature verification failed")
	}
	out := *fed
	return &out, nil
}

type harness struct {
	Engine    *ac.Engine
	Store     *fs.FSUserStore
	Issuer    *ac.TokenIssuer
	Clock     *clock
	Sender    *captureSender
	Providers *fakeProviders
	Registry  *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

	issuer, err := ac.NewTokenIssuer(
		"harness-access-secret-0123456789abcdef",
		"harness-refresh-secret-0123456789abcde",
		15*time.Minute, 7*24*time.Hour)
	require.NoError(t, err)
	issuer.Now = clk.Now

	store := fs.NewFSUserStore(t.TempDir())
	store.Now = clk.Now

	sender := &captureSender{}
	providers := &fakeProviders{identities: map[string]*ac.FederatedIdentity{}}
	registry := prometheus.NewRegistry()

	engine := &ac.Engine{
		Store:     store,
		Tokens:    issuer,
		Hasher:    &ac.BcryptHasher{Cost: bcrypt.MinCost},
		Sender:    sender,
		Federated: providers,
		Metrics:   ac.NewMetrics(registry),
		Now:       clk.Now,
	}
	return &harness{
		Engine:    engine,
		Store:     store,
		Issuer:    issuer,
		Clock:     clk,
		Sender:    sender,
		Providers: providers,
		Registry:  registry,
	}
}

// registerVerified creates an account that can log in immediately
func (h *harness) registerVerified(t *testing.T, email, password string) *ac.AuthResult {
	t.Helper()
	result, err := h.Engine.Register(context.Background(), ac.RegisterInput{
		Email: email, DisplayName: "Test User", Password: password,
	}, false)
	require.NoError(t, err)
	return result
}

func (h *harness) identity(t *testing.T, email string) *ac.Identity {
	t.Helper()
	identity, err := h.Store.FindByEmail(context.Background(), email)
	require.NoError(t, err)
	return identity
}

func requireKind(t *testing.T, err error, kind ac.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, ac.KindOf(err), "unexpected error: %v", err)
}
