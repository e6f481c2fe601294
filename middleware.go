package authcore

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type contextKey string

const (
	contextKeyIdentityID contextKey = "identity_id"
	contextKeyEmail      contextKey = "identity_email"
)

// TokenVerifier checks bearer access tokens
type TokenVerifier interface {
	VerifyAccessToken(token string) (*Claims, error)
}

// ContextWithIdentity records the authenticated identity on ctx
func ContextWithIdentity(ctx context.Context, identityID, email string) context.Context {
	ctx = context.WithValue(ctx, contextKeyIdentityID, identityID)
	return context.WithValue(ctx, contextKeyEmail, email)
}

// IdentityIDFromContext returns the authenticated identity id, or ""
func IdentityIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyIdentityID).(string); ok {
		return v
	}
	return ""
}

// EmailFromContext returns the email carried by the access token, or ""
func EmailFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyEmail).(string); ok {
		return v
	}
	return ""
}

// APIMiddleware authenticates requests by their bearer access token
type APIMiddleware struct {
	Tokens TokenVerifier

	// AuthHeader defaults to "Authorization"
	AuthHeader string

	// OnAuthError replaces the default 401 JSON response
	OnAuthError func(w http.ResponseWriter, r *http.Request, err error)
}

// ValidateToken rejects requests without a valid access token and stores the
// identity in the request context otherwise
func (m *APIMiddleware) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.validateRequest(r)
		if err != nil {
			m.handleAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), claims.Subject, claims.Email)))
	})
}

// Optional sets the identity when a valid token is present and continues either way
func (m *APIMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, err := m.validateRequest(r); err == nil {
			r = r.WithContext(ContextWithIdentity(r.Context(), claims.Subject, claims.Email))
		}
		next.ServeHTTP(w, r)
	})
}

func (m *APIMiddleware) validateRequest(r *http.Request) (*Claims, error) {
	header := m.AuthHeader
	if header == "" {
		header = "Authorization"
	}
	token, err := BearerToken(r.Header.Get(header))
	if err != nil {
		return nil, err
	}
	return m.Tokens.VerifyAccessToken(token)
}

func (m *APIMiddleware) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	if m.OnAuthError != nil {
		m.OnAuthError(w, r, err)
		return
	}
	WriteError(w, err)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value
func BearerToken(value string) (string, error) {
	if value == "" {
		return "", &AuthError{Kind: KindUnauthorized, Message: "Missing authorization header"}
	}
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", &AuthError{Kind: KindUnauthorized, Message: "Invalid authorization header format"}
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", &AuthError{Kind: KindUnauthorized, Message: "Empty token", Err: errors.New("empty bearer token")}
	}
	return token, nil
}
