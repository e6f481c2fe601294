package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Default token lifetimes
const (
	TokenExpiryAccessToken  = 15 * time.Minute
	TokenExpiryRefreshToken = 7 * 24 * time.Hour
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// TokenPair is returned by every operation that starts a session
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"` // access token lifetime in seconds
}

// Claims carried by both token types. Subject is the identity id.
type Claims struct {
	Email string `json:"email"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies access and refresh tokens with separate secrets
type TokenIssuer struct {
	AccessSecret  []byte
	RefreshSecret []byte

	AccessTokenExpiry  time.Duration // Defaults to 15 minutes
	RefreshTokenExpiry time.Duration // Defaults to 7 days

	Issuer string           // optional "iss" claim, checked on verify when set
	Now    func() time.Time // defaults to time.Now
}

// NewTokenIssuer builds an issuer and rejects unusable secrets
func NewTokenIssuer(accessSecret, refreshSecret string, accessExpiry, refreshExpiry time.Duration) (*TokenIssuer, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("token issuer: both secrets are required")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("token issuer: access and refresh secrets must differ")
	}
	return &TokenIssuer{
		AccessSecret:       []byte(accessSecret),
		RefreshSecret:      []byte(refreshSecret),
		AccessTokenExpiry:  accessExpiry,
		RefreshTokenExpiry: refreshExpiry,
	}, nil
}

func (t *TokenIssuer) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t *TokenIssuer) accessExpiry() time.Duration {
	if t.AccessTokenExpiry <= 0 {
		return TokenExpiryAccessToken
	}
	return t.AccessTokenExpiry
}

func (t *TokenIssuer) refreshExpiry() time.Duration {
	if t.RefreshTokenExpiry <= 0 {
		return TokenExpiryRefreshToken
	}
	return t.RefreshTokenExpiry
}

// IssueAccessToken signs a short-lived token for the identity
func (t *TokenIssuer) IssueAccessToken(identityID, email string) (string, error) {
	return t.sign(identityID, email, tokenTypeAccess, t.accessExpiry(), t.AccessSecret)
}

// IssueRefreshToken signs a long-lived token with the refresh secret
func (t *TokenIssuer) IssueRefreshToken(identityID, email string) (string, error) {
	return t.sign(identityID, email, tokenTypeRefresh, t.refreshExpiry(), t.RefreshSecret)
}

// IssuePair signs both tokens
func (t *TokenIssuer) IssuePair(identityID, email string) (*TokenPair, error) {
	access, err := t.IssueAccessToken(identityID, email)
	if err != nil {
		return nil, err
	}
	refresh, err := t.IssueRefreshToken(identityID, email)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(t.accessExpiry().Seconds()),
	}, nil
}

// AccessTokenLifetime is the configured access token lifetime
func (t *TokenIssuer) AccessTokenLifetime() time.Duration {
	return t.accessExpiry()
}

func (t *TokenIssuer) sign(identityID, email, tokenType string, expiry time.Duration, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("no signing secret configured for %s tokens", tokenType)
	}
	now := t.now()
	claims := Claims{
		Email: email,
		Type:  tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			Issuer:    t.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// VerifyAccessToken validates signature, expiry and type of an access token.
// Every failure is reported as KindInvalidToken.
func (t *TokenIssuer) VerifyAccessToken(token string) (*Claims, error) {
	return t.verify(token, tokenTypeAccess, t.AccessSecret)
}

// VerifyRefreshToken validates a refresh token against the refresh secret
func (t *TokenIssuer) VerifyRefreshToken(token string) (*Claims, error) {
	return t.verify(token, tokenTypeRefresh, t.RefreshSecret)
}

func (t *TokenIssuer) verify(tokenString, tokenType string, secret []byte) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	}
	if t.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.Issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, invalidTokenError(err)
	}
	if !token.Valid {
		return nil, invalidTokenError(errors.New("token not valid"))
	}
	if claims.Type != tokenType {
		return nil, invalidTokenError(fmt.Errorf("expected %s token, got %q", tokenType, claims.Type))
	}
	if claims.Subject == "" {
		return nil, invalidTokenError(errors.New("missing subject"))
	}
	return claims, nil
}
