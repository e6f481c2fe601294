package oauth2

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	ac "github.com/panyam/authcore"
)

// Session keys used by the flow
const (
	sessionState    = "oauth_google_state"
	sessionVerifier = "oauth_google_verifier"
	sessionReturnTo = "oauth_google_return_to"
)

// FederatedLogin is the engine entry point the flow hands ID tokens to
type FederatedLogin interface {
	LoginWithFederatedIdentity(ctx context.Context, provider ac.Provider, assertion string) (*ac.AuthResult, error)
}

// GoogleFlow runs the browser authorization-code flow with PKCE. The redirect
// handler stores state and verifier in the scs session; the callback checks
// state, exchanges the code and passes the returned id_token to Login.
//
// Both handlers must be wrapped with Session.LoadAndSave.
type GoogleFlow struct {
	Config  *oauth2.Config
	Session *scs.SessionManager
	Login   FederatedLogin
	Logger  *slog.Logger

	// OnSuccess renders the result. Defaults to a JSON AuthResult, or a
	// redirect when the login was started with ?return_to=/path.
	OnSuccess func(w http.ResponseWriter, r *http.Request, result *ac.AuthResult, returnTo string)
}

// NewGoogleFlow configures the flow against Google's endpoints
func NewGoogleFlow(clientID, clientSecret, redirectURL string, session *scs.SessionManager, login FederatedLogin) *GoogleFlow {
	return &GoogleFlow{
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		Session: session,
		Login:   login,
	}
}

func (g *GoogleFlow) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

// HandleRedirect sends the browser to Google's consent page
func (g *GoogleFlow) HandleRedirect(w http.ResponseWriter, r *http.Request) {
	state, err := newState()
	if err != nil {
		ac.WriteError(w, &ac.AuthError{Kind: ac.KindInternal, Message: "Could not start sign-in", Err: err})
		return
	}
	verifier := oauth2.GenerateVerifier()

	ctx := r.Context()
	g.Session.Put(ctx, sessionState, state)
	g.Session.Put(ctx, sessionVerifier, verifier)
	if returnTo := safeReturnPath(r.URL.Query().Get("return_to")); returnTo != "" {
		g.Session.Put(ctx, sessionReturnTo, returnTo)
	}

	url := g.Config.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier))
	http.Redirect(w, r, url, http.StatusFound)
}

// HandleCallback completes the flow and signs the user in
func (g *GoogleFlow) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	expected := g.Session.PopString(ctx, sessionState)
	verifier := g.Session.PopString(ctx, sessionVerifier)
	returnTo := g.Session.PopString(ctx, sessionReturnTo)

	if reason := r.URL.Query().Get("error"); reason != "" {
		g.logger().InfoContext(ctx, "google sign-in declined", slog.String("reason", reason))
		ac.WriteError(w, &ac.AuthError{Kind: ac.KindUnauthorized, Message: "Sign-in was cancelled"})
		return
	}
	state := r.URL.Query().Get("state")
	if expected == "" || state != expected {
		ac.WriteError(w, &ac.AuthError{Kind: ac.KindInvalidInput, Message: "Invalid OAuth state", Field: "state"})
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		ac.WriteError(w, &ac.AuthError{Kind: ac.KindInvalidInput, Message: "Authorization code is required", Field: "code"})
		return
	}

	token, err := g.Config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		g.logger().WarnContext(ctx, "google code exchange failed", slog.Any("error", err))
		ac.WriteError(w, &ac.AuthError{Kind: ac.KindExternalFailure, Message: "Google sign-in failed", Err: err})
		return
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		ac.WriteError(w, &ac.AuthError{Kind: ac.KindExternalFailure, Message: "Google did not return an ID token",
			Err: errors.New("missing id_token")})
		return
	}

	result, err := g.Login.LoginWithFederatedIdentity(ctx, ac.ProviderGoogle, rawIDToken)
	if err != nil {
		ac.WriteError(w, err)
		return
	}

	// a fresh session id after sign-in prevents fixation
	if err := g.Session.RenewToken(ctx); err != nil {
		g.logger().WarnContext(ctx, "session renew failed", slog.Any("error", err))
	}

	if g.OnSuccess != nil {
		g.OnSuccess(w, r, result, returnTo)
		return
	}
	if returnTo != "" {
		http.Redirect(w, r, returnTo, http.StatusFound)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	ac.WriteJSON(w, http.StatusOK, result)
}
