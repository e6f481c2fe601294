// Package oauth2 verifies Google and Apple ID tokens and runs the Google
// authorization-code flow on top of them.
package oauth2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	ac "github.com/panyam/authcore"
)

const (
	GoogleIssuer  = "https://accounts.google.com"
	GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
	AppleIssuer   = "https://appleid.apple.com"
	AppleJWKSURL  = "https://appleid.apple.com/auth/keys"
)

// ProviderConfig describes how to verify one provider's ID tokens.
// KeySet, when set, replaces fetching keys from JWKSURL.
type ProviderConfig struct {
	ClientID string
	Issuer   string
	JWKSURL  string
	KeySet   oidc.KeySet
}

func GoogleConfig(clientID string) ProviderConfig {
	return ProviderConfig{ClientID: clientID, Issuer: GoogleIssuer, JWKSURL: GoogleJWKSURL}
}

func AppleConfig(clientID string) ProviderConfig {
	return ProviderConfig{ClientID: clientID, Issuer: AppleIssuer, JWKSURL: AppleJWKSURL}
}

// IDTokenValidator implements ac.FederatedValidator by checking ID token
// signature, issuer, audience and expiry against each provider's published keys.
type IDTokenValidator struct {
	verifiers map[ac.Provider]*oidc.IDTokenVerifier
}

// NewIDTokenValidator builds verifiers for the configured providers. Keys are
// fetched lazily through client, so construction does no network I/O.
// A nil client uses http.DefaultClient.
func NewIDTokenValidator(client *http.Client, providers map[ac.Provider]ProviderConfig, now func() time.Time) (*IDTokenValidator, error) {
	if client == nil {
		client = http.DefaultClient
	}
	// key fetches outlive any single request, so they run under a background context
	keyCtx := oidc.ClientContext(context.Background(), client)

	v := &IDTokenValidator{verifiers: make(map[ac.Provider]*oidc.IDTokenVerifier)}
	for provider, cfg := range providers {
		if !provider.IsFederated() {
			return nil, fmt.Errorf("provider %q cannot validate ID tokens", provider)
		}
		if cfg.ClientID == "" {
			return nil, fmt.Errorf("provider %q has no client id", provider)
		}
		keySet := cfg.KeySet
		if keySet == nil {
			if cfg.JWKSURL == "" {
				return nil, fmt.Errorf("provider %q has no key source", provider)
			}
			keySet = oidc.NewRemoteKeySet(keyCtx, cfg.JWKSURL)
		}
		v.verifiers[provider] = oidc.NewVerifier(cfg.Issuer, keySet, &oidc.Config{
			ClientID: cfg.ClientID,
			Now:      now,
		})
	}
	return v, nil
}

// Providers lists the providers this validator accepts
func (v *IDTokenValidator) Providers() []ac.Provider {
	out := make([]ac.Provider, 0, len(v.verifiers))
	for p := range v.verifiers {
		out = append(out, p)
	}
	return out
}

// idTokenClaims are the claims read from Google and Apple ID tokens
type idTokenClaims struct {
	Subject       string   `json:"sub"`
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	Name          string   `json:"name"`
	GivenName     string   `json:"given_name"`
}

func (v *IDTokenValidator) Validate(ctx context.Context, provider ac.Provider, assertion string) (*ac.FederatedIdentity, error) {
	verifier, ok := v.verifiers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", provider)
	}

	idToken, err := verifier.Verify(ctx, assertion)
	if err != nil {
		return nil, fmt.Errorf("%s id_token verification failed: %w", provider, err)
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s id_token claims parse failed: %w", provider, err)
	}
	if claims.Subject == "" || claims.Email == "" {
		return nil, fmt.Errorf("%s id_token missing required claims", provider)
	}
	if claims.EmailVerified.set && !claims.EmailVerified.value {
		return nil, fmt.Errorf("%s reports the email as unverified", provider)
	}

	return &ac.FederatedIdentity{
		Email:       claims.Email,
		DisplayName: displayName(provider, claims),
		ProviderID:  claims.Subject,
	}, nil
}

// displayName picks the provider's name claim. Apple only sends the name on the
// first authorization and never inside the ID token, so it stays empty and the
// engine falls back to the email local part.
func displayName(provider ac.Provider, claims idTokenClaims) string {
	if provider != ac.ProviderGoogle {
		return ""
	}
	for _, name := range []string{claims.Name, claims.GivenName} {
		if name = strings.TrimSpace(name); name != "" {
			return name
		}
	}
	return "User"
}

// flexBool accepts both JSON booleans and the string form Apple uses
type flexBool struct {
	set   bool
	value bool
}

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var asBool bool
	if err := json.Unmarshal(data, &asBool); err == nil {
		b.set, b.value = true, asBool
		return nil
	}
	var asString string
	if err := json.Unmarshal(data, &asString); err != nil {
		return errors.New("email_verified must be a boolean")
	}
	parsed, err := strconv.ParseBool(asString)
	if err != nil {
		return fmt.Errorf("email_verified: %w", err)
	}
	b.set, b.value = true, parsed
	return nil
}
