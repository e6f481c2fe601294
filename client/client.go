package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	ac "github.com/panyam/authcore"
)

// RefreshThreshold is how long before expiry to proactively refresh
const RefreshThreshold = 2 * time.Minute

// Default API paths, relative to the server URL
const (
	DefaultLoginPath    = "/auth/login"
	DefaultRefreshPath  = "/auth/refresh"
	DefaultRegisterPath = "/auth/register"
)

// ErrNotLoggedIn is returned when an operation needs a stored session
var ErrNotLoggedIn = errors.New("not logged in")

// APIError is a non-2xx answer from the auth API
type APIError struct {
	Status      int
	Kind        ac.ErrorKind
	Description string
	Field       string
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("auth api: %s (%d): %s", e.Kind, e.Status, e.Description)
	}
	return fmt.Sprintf("auth api: HTTP %d", e.Status)
}

// AuthClient is an HTTP client with automatic token management
type AuthClient struct {
	mu            sync.Mutex
	serverURL     string
	store         CredentialStore
	httpClient    *http.Client
	baseTransport http.RoundTripper
	loginPath     string
	refreshPath   string
	registerPath  string
	now           func() time.Time
}

// ClientOption configures an AuthClient
type ClientOption func(*AuthClient)

// WithPaths overrides the login and refresh paths
func WithPaths(loginPath, refreshPath string) ClientOption {
	return func(c *AuthClient) {
		if loginPath != "" {
			c.loginPath = loginPath
		}
		if refreshPath != "" {
			c.refreshPath = refreshPath
		}
	}
}

// WithHTTPClient copies timeout, redirect policy, jar and transport from client.
// The transport is wrapped with auth handling.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *AuthClient) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			c.baseTransport = client.Transport
		}
		c.httpClient.Timeout = client.Timeout
		c.httpClient.CheckRedirect = client.CheckRedirect
		c.httpClient.Jar = client.Jar
	}
}

// WithTransport sets the base transport
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *AuthClient) {
		c.baseTransport = transport
	}
}

// WithClock replaces time.Now for expiry decisions
func WithClock(now func() time.Time) ClientOption {
	return func(c *AuthClient) {
		c.now = now
	}
}

// NewAuthClient creates an authenticated HTTP client for serverURL.
// Only the scheme and host of serverURL are kept.
func NewAuthClient(serverURL string, store CredentialStore, opts ...ClientOption) *AuthClient {
	if u, err := url.Parse(serverURL); err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = u.Scheme + "://" + u.Host
	}

	c := &AuthClient{
		serverURL:     serverURL,
		store:         store,
		httpClient:    &http.Client{},
		baseTransport: http.DefaultTransport,
		loginPath:     DefaultLoginPath,
		refreshPath:   DefaultRefreshPath,
		registerPath:  DefaultRegisterPath,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.httpClient.Transport = &refreshTransport{client: c, base: c.baseTransport}
	return c
}

// HTTPClient returns an http.Client that attaches and refreshes the access token
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

// ServerURL returns the normalized server URL
func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

// GetCredential returns the stored credential for this server
func (c *AuthClient) GetCredential() (*ServerCredential, error) {
	return c.store.GetCredential(c.serverURL)
}

// IsLoggedIn reports whether a usable session exists: an unexpired access
// token, or a refresh token to get one.
func (c *AuthClient) IsLoggedIn() bool {
	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil {
		return false
	}
	return !cred.expiredAt(c.now()) || cred.HasRefreshToken()
}

// Login signs in with email and password and stores the session
func (c *AuthClient) Login(ctx context.Context, email, password string) (*ServerCredential, error) {
	return c.startSession(ctx, c.loginPath, map[string]string{"email": email, "password": password})
}

// Register creates an account. The server only returns tokens the caller can
// use once the email is verified, but they are stored either way.
func (c *AuthClient) Register(ctx context.Context, email, name, password string) (*ServerCredential, error) {
	return c.startSession(ctx, c.registerPath, map[string]string{"email": email, "name": name, "password": password})
}

func (c *AuthClient) startSession(ctx context.Context, path string, body any) (*ServerCredential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result ac.AuthResult
	if err := c.post(ctx, path, body, &result); err != nil {
		return nil, err
	}

	now := c.now()
	cred := &ServerCredential{
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		TokenType:    result.Tokens.TokenType,
		ExpiresAt:    now.Add(time.Duration(result.Tokens.ExpiresIn) * time.Second),
		CreatedAt:    now,
	}
	if result.Identity != nil {
		cred.IdentityID = result.Identity.ID
		cred.Email = result.Identity.Email
	}

	if err := c.store.SetCredential(c.serverURL, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	return cred, nil
}

// Logout forgets the session for this server
func (c *AuthClient) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	return c.store.Save()
}

// GetToken returns the current access token, refreshing it first when it is
// about to expire. It returns "" without error when there is no session.
func (c *AuthClient) GetToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil {
		return "", err
	}

	now := c.now()
	if cred.expiredAt(now.Add(RefreshThreshold)) && cred.HasRefreshToken() {
		refreshed, err := c.refreshLocked(ctx, cred)
		if err != nil {
			// A failed early refresh still leaves a usable token
			if !cred.expiredAt(now) {
				return cred.AccessToken, nil
			}
			return "", fmt.Errorf("token expired and refresh failed: %w", err)
		}
		cred = refreshed
	}

	if cred.expiredAt(now) {
		return "", nil
	}
	return cred.AccessToken, nil
}

// Refresh exchanges the stored refresh token for a new access token now
func (c *AuthClient) Refresh(ctx context.Context) (*ServerCredential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil {
		return nil, err
	}
	if cred == nil || !cred.HasRefreshToken() {
		return nil, ErrNotLoggedIn
	}
	return c.refreshLocked(ctx, cred)
}

// refreshLocked replaces the access token. The server never rotates the
// refresh token on refresh, so the stored one is kept. Caller holds c.mu.
func (c *AuthClient) refreshLocked(ctx context.Context, cred *ServerCredential) (*ServerCredential, error) {
	var pair ac.TokenPair
	if err := c.post(ctx, c.refreshPath, map[string]string{"refresh_token": cred.RefreshToken}, &pair); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			// The refresh token was superseded or revoked; the session is gone
			_ = c.store.RemoveCredential(c.serverURL)
			_ = c.store.Save()
		}
		return nil, err
	}

	next := *cred
	next.AccessToken = pair.AccessToken
	if pair.RefreshToken != "" {
		next.RefreshToken = pair.RefreshToken
	}
	if pair.TokenType != "" {
		next.TokenType = pair.TokenType
	}
	next.ExpiresAt = c.now().Add(time.Duration(pair.ExpiresIn) * time.Second)

	if err := c.store.SetCredential(c.serverURL, &next); err != nil {
		return nil, fmt.Errorf("failed to store refreshed credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	return &next, nil
}

// post sends a JSON request through the base transport so auth handling does not recurse
func (c *AuthClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := &http.Client{Transport: c.baseTransport, Timeout: c.httpClient.Timeout}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var errResp ac.ErrorResponse
		if json.Unmarshal(data, &errResp) == nil {
			apiErr.Kind = ac.ErrorKind(errResp.Error)
			apiErr.Description = errResp.ErrorDescription
			apiErr.Field = errResp.Field
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}

// refreshTransport adds the bearer token and retries once after a 401
type refreshTransport struct {
	client *AuthClient
	base   http.RoundTripper
}

func (t *refreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.client.GetToken(req.Context())
	if err != nil {
		return nil, err
	}
	if token == "" {
		return t.base.RoundTrip(req)
	}

	resp, err := t.base.RoundTrip(withBearer(req, token))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	// Bodies that cannot be replayed are returned as is
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	cred, err := t.client.Refresh(req.Context())
	if err != nil || cred.AccessToken == token {
		return resp, nil
	}
	resp.Body.Close()

	retry := withBearer(req, cred.AccessToken)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	return t.base.RoundTrip(retry)
}

func withBearer(req *http.Request, token string) *http.Request {
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	return out
}
