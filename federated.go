package authcore

import "context"

// FederatedIdentity is the normalized result of validating a provider assertion
type FederatedIdentity struct {
	Email       string
	DisplayName string
	ProviderID  string // the provider's stable subject
}

// FederatedValidator verifies an opaque assertion (an OAuth ID token) issued by provider.
// Implementations must honour ctx deadlines; the engine maps every failure to
// KindExternalFailure.
type FederatedValidator interface {
	Validate(ctx context.Context, provider Provider, assertion string) (*FederatedIdentity, error)
}

// FederatedValidatorFunc adapts a function to FederatedValidator
type FederatedValidatorFunc func(ctx context.Context, provider Provider, assertion string) (*FederatedIdentity, error)

func (f FederatedValidatorFunc) Validate(ctx context.Context, provider Provider, assertion string) (*FederatedIdentity, error) {
	return f(ctx, provider, assertion)
}
