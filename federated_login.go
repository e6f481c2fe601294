package authcore

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

const msgLinkConfirmationRequired = "An account with this email already exists. Sign in with your password to link it."

// LoginWithFederatedIdentity validates a provider assertion and signs the caller in.
//
// Resolution order: an identity already linked to (provider, providerId); otherwise
// an identity with the same email, which gets linked in place and marked verified;
// otherwise a new password-less identity. With RequireLinkConfirmation the email
// match fails with Conflict instead of linking.
func (e *Engine) LoginWithFederatedIdentity(ctx context.Context, provider Provider, assertion string) (result *AuthResult, err error) {
	defer func() { e.Metrics.observe(OpFederatedLogin, err) }()

	fed, err := e.validateAssertion(ctx, provider, assertion)
	if err != nil {
		return nil, err
	}

	identity, err := e.Store.FindByProvider(ctx, provider, fed.ProviderID)
	switch {
	case err == nil:
	case errors.Is(err, ErrIdentityNotFound):
		identity, err = e.Store.FindByEmail(ctx, fed.Email)
		switch {
		case err == nil:
			if e.RequireLinkConfirmation {
				return nil, conflictError(msgLinkConfirmationRequired)
			}
			identity, err = e.linkFederated(ctx, identity, provider, fed)
			if err != nil {
				return nil, err
			}
		case errors.Is(err, ErrIdentityNotFound):
			identity, err = e.createFederated(ctx, provider, fed)
			if err != nil {
				return nil, err
			}
		default:
			return nil, internalError("find identity by email", err)
		}
	default:
		return nil, internalError("find identity by provider", err)
	}

	if !identity.Active {
		return nil, unauthorizedError("Account is inactive")
	}
	return e.startSession(ctx, identity)
}

// LinkFederatedIdentity attaches a provider identity to an existing local account
// after the caller proves ownership with the account's password.
func (e *Engine) LinkFederatedIdentity(ctx context.Context, provider Provider, assertion, email, password string) (result *AuthResult, err error) {
	defer func() { e.Metrics.observe(OpLinkFederated, err) }()

	fed, err := e.validateAssertion(ctx, provider, assertion)
	if err != nil {
		return nil, err
	}

	email = NormalizeEmail(email)
	identity, err := e.Store.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrIdentityNotFound) {
			return nil, internalError("find identity", err)
		}
		e.equalizeTiming(password)
		return nil, unauthorizedError(msgInvalidCredentials)
	}
	if !identity.HasPassword() || !e.hasher().Verify(password, identity.PasswordHash) {
		return nil, unauthorizedError(msgInvalidCredentials)
	}
	if !identity.Active {
		return nil, unauthorizedError("Account is inactive")
	}

	owner, err := e.Store.FindByProvider(ctx, provider, fed.ProviderID)
	switch {
	case err == nil && owner.ID != identity.ID:
		return nil, conflictError("This provider account is linked to another user")
	case err == nil:
		return e.startSession(ctx, owner)
	case !errors.Is(err, ErrIdentityNotFound):
		return nil, internalError("find identity by provider", err)
	}

	identity, err = e.linkFederated(ctx, identity, provider, fed)
	if err != nil {
		return nil, err
	}
	return e.startSession(ctx, identity)
}

// validateAssertion runs the provider check under the federated timeout
func (e *Engine) validateAssertion(ctx context.Context, provider Provider, assertion string) (*FederatedIdentity, error) {
	if !provider.IsFederated() {
		return nil, invalidInput("Unsupported provider", "provider")
	}
	assertion = strings.TrimSpace(assertion)
	if assertion == "" {
		return nil, invalidInput("Token is required", "token")
	}
	if e.Federated == nil {
		return nil, externalFailure(errors.New("no federated validator configured"))
	}

	vctx, cancel := context.WithTimeout(ctx, e.federatedTimeout())
	defer cancel()

	fed, err := e.Federated.Validate(vctx, provider, assertion)
	if err != nil {
		e.logger().WarnContext(ctx, "federated assertion rejected",
			slog.String("provider", string(provider)),
			slog.Any("error", err),
		)
		return nil, externalFailure(err)
	}
	if fed == nil || fed.ProviderID == "" {
		return nil, externalFailure(errors.New("assertion has no subject"))
	}

	fed.Email = NormalizeEmail(fed.Email)
	if ValidateEmail(fed.Email) != nil {
		return nil, externalFailure(errors.New("assertion has no usable email"))
	}
	return fed, nil
}

// linkFederated overwrites the provider linkage of an existing identity
func (e *Engine) linkFederated(ctx context.Context, identity *Identity, provider Provider, fed *FederatedIdentity) (*Identity, error) {
	previous := identity.Provider
	identity.Provider = provider
	identity.ProviderID = fed.ProviderID
	identity.EmailVerified = true
	identity.VerificationCode = ""
	identity.VerificationExp = nil

	saved, err := e.Store.Save(ctx, identity)
	if err != nil {
		switch {
		case errors.Is(err, ErrVersionConflict):
			return nil, &AuthError{Kind: KindConflict, Message: "Account changed during sign-in, please retry", Err: err}
		case errors.Is(err, ErrIdentityExists):
			return nil, &AuthError{Kind: KindConflict, Message: "This provider account is linked to another user", Err: err}
		}
		return nil, internalError("link federated identity", err)
	}

	e.logger().InfoContext(ctx, "federated identity linked",
		slog.String("identity_id", saved.ID),
		slog.String("provider", string(provider)),
		slog.String("previous_provider", string(previous)),
	)
	return saved, nil
}

// createFederated registers a new password-less identity trusted as verified
func (e *Engine) createFederated(ctx context.Context, provider Provider, fed *FederatedIdentity) (*Identity, error) {
	now := e.now()
	identity := &Identity{
		ID:            uuid.NewString(),
		Email:         fed.Email,
		DisplayName:   displayNameOr(fed.DisplayName, localPart(fed.Email)),
		Roles:         []string{RoleUser},
		Active:        true,
		EmailVerified: true,
		Provider:      provider,
		ProviderID:    fed.ProviderID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	created, err := e.Store.Create(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrIdentityExists) {
			return nil, &AuthError{Kind: KindConflict, Message: "Account was created concurrently, please retry", Err: err}
		}
		return nil, internalError("create federated identity", err)
	}

	e.logger().InfoContext(ctx, "federated identity registered",
		slog.String("identity_id", created.ID),
		slog.String("provider", string(provider)),
	)
	return created, nil
}

func localPart(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}
