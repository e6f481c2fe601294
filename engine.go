package authcore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// User-facing messages for operations that must not reveal whether an account exists
const (
	MsgForgotPassword     = "If the email exists, a recovery code was sent."
	MsgResendVerification = "If the email exists and is not verified, a new code was sent."
	MsgAlreadyVerified    = "Email already verified"
	MsgPasswordChanged    = "Password changed successfully"
	MsgEmailVerified      = "Email verified successfully"
)

const (
	msgInvalidCredentials = "Invalid credentials"
	msgInvalidRefresh     = "Invalid refresh token"
	msgInvalidCode        = "Invalid or expired code"
	msgEmailTaken         = "Email already registered"
)

// DefaultFederatedTimeout bounds a single provider assertion check
const DefaultFederatedTimeout = 10 * time.Second

// TokenService is the part of TokenIssuer the engine depends on
type TokenService interface {
	IssuePair(identityID, email string) (*TokenPair, error)
	IssueAccessToken(identityID, email string) (string, error)
	VerifyAccessToken(token string) (*Claims, error)
	VerifyRefreshToken(token string) (*Claims, error)
	AccessTokenLifetime() time.Duration
}

// Engine implements the identity lifecycle: registration, login, refresh,
// one-time code flows and federated login. Store and Tokens are required;
// every other collaborator has a default.
type Engine struct {
	Store     UserStore
	Tokens    TokenService
	Hasher    PasswordHasher     // Defaults to BcryptHasher
	Codes     CodeGenerator      // Defaults to RandomCodeGenerator
	Federated FederatedValidator // Required only for federated logins
	Sender    CodeSender         // Defaults to ConsoleCodeSender
	Policy    *SignupPolicy      // Defaults to DefaultSignupPolicy
	Logger    *slog.Logger
	Metrics   *Metrics
	Now       func() time.Time

	// RequireLinkConfirmation refuses to attach a federated identity to an existing
	// account found only by email. The caller must use LinkFederatedIdentity instead.
	RequireLinkConfirmation bool

	// FederatedTimeout bounds provider validation. Defaults to 10 seconds.
	FederatedTimeout time.Duration

	dummyOnce sync.Once
	dummyHash string
}

func (e *Engine) hasher() PasswordHasher {
	if e.Hasher == nil {
		return &BcryptHasher{}
	}
	return e.Hasher
}

func (e *Engine) codes() CodeGenerator {
	if e.Codes == nil {
		return RandomCodeGenerator{}
	}
	return e.Codes
}

func (e *Engine) sender() CodeSender {
	if e.Sender == nil {
		return &ConsoleCodeSender{Logger: e.logger()}
	}
	return e.Sender
}

func (e *Engine) policy() SignupPolicy {
	if e.Policy == nil {
		return DefaultSignupPolicy
	}
	return *e.Policy
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) federatedTimeout() time.Duration {
	if e.FederatedTimeout <= 0 {
		return DefaultFederatedTimeout
	}
	return e.FederatedTimeout
}

// Register creates a local identity and starts a session for it.
// With requireVerification a code is emailed and login stays Forbidden until
// VerifyEmail succeeds; without it the account is verified immediately.
func (e *Engine) Register(ctx context.Context, in RegisterInput, requireVerification bool) (result *AuthResult, err error) {
	defer func() { e.Metrics.observe(OpRegister, err) }()

	if err := e.policy().ValidateRegistration(&in); err != nil {
		return nil, err
	}

	if _, err := e.Store.FindByEmail(ctx, in.Email); err == nil {
		return nil, conflictError(msgEmailTaken)
	} else if !errors.Is(err, ErrIdentityNotFound) {
		return nil, internalError("find identity", err)
	}

	passwordHash, err := e.hasher().Hash(in.Password)
	if err != nil {
		return nil, asAuthError("hash password", err)
	}

	now := e.now()
	identity := &Identity{
		ID:            uuid.NewString(),
		Email:         in.Email,
		DisplayName:   in.DisplayName,
		PasswordHash:  passwordHash,
		Roles:         []string{RoleUser},
		Active:        true,
		EmailVerified: !requireVerification,
		Provider:      ProviderLocal,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var code string
	if requireVerification {
		code, err = e.codes().Generate(DefaultCodeLength)
		if err != nil {
			return nil, internalError("generate verification code", err)
		}
		expiry := now.Add(CodeExpiryEmailVerification)
		identity.VerificationCode = code
		identity.VerificationExp = &expiry
	}

	created, err := e.Store.Create(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrIdentityExists) {
			return nil, conflictError(msgEmailTaken)
		}
		return nil, internalError("create identity", err)
	}

	e.logger().InfoContext(ctx, "identity registered",
		slog.String("identity_id", created.ID),
		slog.Bool("email_verified", created.EmailVerified),
	)

	if requireVerification {
		e.deliver(ctx, created, code, PurposeVerification)
	}

	return e.startSession(ctx, created)
}

// Login checks local credentials. Unknown email, wrong password and inactive
// accounts are all Unauthorized; an unverified email is Forbidden.
func (e *Engine) Login(ctx context.Context, email, password string) (result *AuthResult, err error) {
	defer func() { e.Metrics.observe(OpLogin, err) }()

	email = NormalizeEmail(email)
	identity, err := e.Store.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrIdentityNotFound) {
			return nil, internalError("find identity", err)
		}
		e.equalizeTiming(password)
		return nil, unauthorizedError(msgInvalidCredentials)
	}

	if !identity.HasPassword() {
		e.equalizeTiming(password)
		return nil, unauthorizedError(msgInvalidCredentials)
	}
	if !e.hasher().Verify(password, identity.PasswordHash) {
		e.logger().InfoContext(ctx, "login rejected", slog.String("identity_id", identity.ID), slog.String("reason", "password"))
		return nil, unauthorizedError(msgInvalidCredentials)
	}
	if !identity.Active {
		return nil, unauthorizedError("Account is inactive")
	}
	if !identity.EmailVerified {
		return nil, forbiddenError("Email not verified")
	}

	return e.startSession(ctx, identity)
}

// Refresh exchanges a valid refresh token for a new access token.
// The refresh token itself is only replaced by login and register.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (pair *TokenPair, err error) {
	defer func() { e.Metrics.observe(OpRefresh, err) }()

	claims, err := e.Tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, &AuthError{Kind: KindUnauthorized, Message: msgInvalidRefresh, Err: err}
	}

	identity, err := e.Store.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, unauthorizedError(msgInvalidRefresh)
		}
		return nil, internalError("find identity", err)
	}
	if !identity.Active {
		return nil, unauthorizedError(msgInvalidRefresh)
	}
	if !refreshHashMatches(identity.RefreshTokenHash, refreshToken) {
		e.logger().InfoContext(ctx, "stale refresh token presented", slog.String("identity_id", identity.ID))
		return nil, unauthorizedError(msgInvalidRefresh)
	}

	access, err := e.Tokens.IssueAccessToken(identity.ID, identity.Email)
	if err != nil {
		return nil, internalError("issue access token", err)
	}
	return &TokenPair{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(e.Tokens.AccessTokenLifetime().Seconds()),
	}, nil
}

// ForgotPassword issues a one-hour reset code when the email is known.
// The returned message is identical either way.
func (e *Engine) ForgotPassword(ctx context.Context, email string) (msg string, err error) {
	defer func() { e.Metrics.observe(OpForgotPassword, err) }()

	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return "", err
	}

	identity, err := e.Store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return MsgForgotPassword, nil
		}
		return "", internalError("find identity", err)
	}

	code, err := e.issueCode(ctx, identity, PurposeReset)
	if err != nil {
		return "", err
	}
	if code != "" {
		e.deliver(ctx, identity, code, PurposeReset)
	}
	return MsgForgotPassword, nil
}

// ResetPassword consumes a reset code and sets a new password
func (e *Engine) ResetPassword(ctx context.Context, email, code, newPassword string) (msg string, err error) {
	defer func() { e.Metrics.observe(OpResetPassword, err) }()

	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return "", err
	}
	if err := ValidateCode(code); err != nil {
		return "", err
	}
	if err := e.policy().ValidatePassword(newPassword); err != nil {
		return "", err
	}

	identity, err := e.findByCode(ctx, email, code, PurposeReset)
	if err != nil {
		return "", err
	}

	passwordHash, err := e.hasher().Hash(newPassword)
	if err != nil {
		return "", asAuthError("hash password", err)
	}
	identity.PasswordHash = passwordHash
	identity.ResetCode = ""
	identity.ResetExp = nil

	if _, err := e.Store.Save(ctx, identity); err != nil {
		return "", e.consumeError("save password reset", err)
	}

	e.logger().InfoContext(ctx, "password reset", slog.String("identity_id", identity.ID))
	return MsgPasswordChanged, nil
}

// VerifyEmail consumes a verification code and marks the email verified
func (e *Engine) VerifyEmail(ctx context.Context, email, code string) (msg string, err error) {
	defer func() { e.Metrics.observe(OpVerifyEmail, err) }()

	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return "", err
	}
	if err := ValidateCode(code); err != nil {
		return "", err
	}

	identity, err := e.findByCode(ctx, email, code, PurposeVerification)
	if err != nil {
		return "", err
	}

	identity.EmailVerified = true
	identity.VerificationCode = ""
	identity.VerificationExp = nil

	if _, err := e.Store.Save(ctx, identity); err != nil {
		return "", e.consumeError("save email verification", err)
	}

	e.logger().InfoContext(ctx, "email verified", slog.String("identity_id", identity.ID))
	return MsgEmailVerified, nil
}

// ResendVerification issues a fresh 24h verification code for unverified accounts.
// Already verified accounts get a distinct message.
func (e *Engine) ResendVerification(ctx context.Context, email string) (msg string, err error) {
	defer func() { e.Metrics.observe(OpResendVerification, err) }()

	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return "", err
	}

	identity, err := e.Store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return MsgResendVerification, nil
		}
		return "", internalError("find identity", err)
	}
	if identity.EmailVerified {
		return MsgAlreadyVerified, nil
	}

	code, err := e.issueCode(ctx, identity, PurposeVerification)
	if err != nil {
		return "", err
	}
	if code != "" {
		e.deliver(ctx, identity, code, PurposeVerification)
	}
	return MsgResendVerification, nil
}

// GetProfile returns the sanitized identity for id
func (e *Engine) GetProfile(ctx context.Context, id string) (profile *Profile, err error) {
	defer func() { e.Metrics.observe(OpGetProfile, err) }()

	identity, err := e.Store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, notFoundError("User not found")
		}
		return nil, internalError("find identity", err)
	}
	return Sanitize(identity), nil
}

// SetActive flips the active flag. Deactivation also drops the stored refresh token hash.
func (e *Engine) SetActive(ctx context.Context, id string, active bool) (err error) {
	defer func() { e.Metrics.observe(OpSetActive, err) }()

	patch := IdentityPatch{Active: &active}
	if !active {
		cleared := ""
		patch.RefreshTokenHash = &cleared
	}
	if err := e.Store.Update(ctx, id, patch); err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return notFoundError("User not found")
		}
		return internalError("update identity", err)
	}
	e.logger().InfoContext(ctx, "identity active flag changed", slog.String("identity_id", id), slog.Bool("active", active))
	return nil
}

// startSession issues a token pair and makes its refresh token the only valid one
func (e *Engine) startSession(ctx context.Context, identity *Identity) (*AuthResult, error) {
	pair, err := e.Tokens.IssuePair(identity.ID, identity.Email)
	if err != nil {
		return nil, internalError("issue tokens", err)
	}

	hash := HashRefreshToken(pair.RefreshToken)
	if err := e.Store.Update(ctx, identity.ID, IdentityPatch{RefreshTokenHash: &hash}); err != nil {
		return nil, internalError("store refresh token hash", err)
	}
	identity.RefreshTokenHash = hash

	return &AuthResult{
		Identity: Sanitize(identity),
		Tokens:   *pair,
	}, nil
}

// issueCode stores a new code for purpose. It returns "" without error when a
// concurrent write won; the caller still answers with the generic message.
func (e *Engine) issueCode(ctx context.Context, identity *Identity, purpose CodePurpose) (string, error) {
	code, err := e.codes().Generate(DefaultCodeLength)
	if err != nil {
		return "", internalError("generate code", err)
	}

	now := e.now()
	switch purpose {
	case PurposeReset:
		expiry := now.Add(CodeExpiryPasswordReset)
		identity.ResetCode = code
		identity.ResetExp = &expiry
	default:
		expiry := now.Add(CodeExpiryEmailVerification)
		identity.VerificationCode = code
		identity.VerificationExp = &expiry
	}

	if _, err := e.Store.Save(ctx, identity); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			e.logger().WarnContext(ctx, "code not issued, identity changed concurrently",
				slog.String("identity_id", identity.ID),
				slog.String("purpose", string(purpose)),
			)
			return "", nil
		}
		return "", internalError("save code", err)
	}
	return code, nil
}

// findByCode loads the identity for email and checks the presented code.
// Every miss is the same NotFound so callers cannot tell which part failed.
func (e *Engine) findByCode(ctx context.Context, email, code string, purpose CodePurpose) (*Identity, error) {
	identity, err := e.Store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, notFoundError(msgInvalidCode)
		}
		return nil, internalError("find identity", err)
	}

	now := e.now()
	var ok bool
	switch purpose {
	case PurposeReset:
		ok = codeMatches(identity.ResetCode, identity.ResetExp, code, now)
	default:
		ok = codeMatches(identity.VerificationCode, identity.VerificationExp, code, now)
	}
	if !ok {
		return nil, notFoundError(msgInvalidCode)
	}
	return identity, nil
}

// consumeError maps a failed save of a consumed code. A version conflict means
// another request changed the record first, so the code no longer counts.
func (e *Engine) consumeError(op string, err error) error {
	if errors.Is(err, ErrVersionConflict) {
		return &AuthError{Kind: KindNotFound, Message: msgInvalidCode, Err: err}
	}
	return internalError(op, err)
}

// deliver sends a code and only logs failures
func (e *Engine) deliver(ctx context.Context, identity *Identity, code string, purpose CodePurpose) {
	err := e.sender().SendCode(ctx, identity.Email, code, purpose)
	e.Metrics.observeDelivery(purpose, err)
	if err != nil {
		e.logger().WarnContext(ctx, "code delivery failed",
			slog.String("identity_id", identity.ID),
			slog.String("purpose", string(purpose)),
			slog.Any("error", err),
		)
	}
}

// Warm computes the hash that unknown-email logins are compared against.
// Call it once after construction so the first such login costs one comparison,
// not a hash plus a comparison. Set Hasher before calling.
func (e *Engine) Warm() {
	e.dummyOnce.Do(func() {
		e.dummyHash, _ = e.hasher().Hash(uuid.NewString()[:16])
	})
}

// equalizeTiming spends one hash comparison so unknown emails cost the same as wrong passwords
func (e *Engine) equalizeTiming(password string) {
	e.Warm()
	if e.dummyHash != "" {
		e.hasher().Verify(password, e.dummyHash)
	}
}

// asAuthError keeps typed errors and wraps anything else as internal
func asAuthError(op string, err error) error {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	return internalError(op, err)
}

// displayNameOr picks the first non-blank name
func displayNameOr(names ...string) string {
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			return n
		}
	}
	return ""
}
