// Package authcore is an identity and session core for multi-tenant APIs.
//
// It registers local accounts, signs users in with passwords or federated
// ID tokens (Google, Apple), issues access and refresh tokens, and runs the
// one-time code flows for email verification and password recovery.
//
// # Architecture
//
// Identity: the persisted account record. Each identity has a unique email,
// at most one provider linkage (provider + provider subject) and a version
// that every store uses for compare-and-swap writes.
//
// UserStore: persistence contract. Adapters live under stores/ (file system,
// GORM, pgx, Cloud Datastore) and share one behavioural test suite.
//
// Engine: the lifecycle operations. It owns every policy decision and talks
// to the store, the TokenIssuer, the PasswordHasher, the CodeSender and the
// FederatedValidator through interfaces.
//
// APIAuth: JSON HTTP handlers over the Engine, mounted on a gorilla/mux router.
//
// # Basic Usage
//
//	issuer, err := authcore.NewTokenIssuer(accessSecret, refreshSecret, 15*time.Minute, 7*24*time.Hour)
//	if err != nil {
//	    return err
//	}
//	engine := &authcore.Engine{
//	    Store:  fs.NewFSUserStore("/var/lib/authcore"),
//	    Tokens: issuer,
//	}
//
//	api := &authcore.APIAuth{Engine: engine}
//	r := mux.NewRouter()
//	api.Routes(r) // POST /auth/register, /auth/login, /auth/refresh, ...
//
// Protect other routes with the bearer middleware:
//
//	bearer := &authcore.APIMiddleware{Tokens: issuer}
//	r.Handle("/api/things", bearer.ValidateToken(thingsHandler))
//
// # Sessions
//
// Each identity holds exactly one valid refresh token, stored as a SHA-256
// hash. Login and registration replace it; Refresh only mints a new access
// token. Signing in on a second device therefore ends the first device's
// ability to refresh.
//
// # Security
//
// Passwords are hashed with bcrypt (cost 12 by default). One-time codes are
// six digits from crypto/rand, single use, and expire after one hour (reset)
// or 24 hours (verification). Forgot-password and resend-verification answer
// identically whether or not the email exists.
package authcore
