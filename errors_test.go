package authcore

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{nil, http.StatusOK},
		{conflictError("taken"), http.StatusConflict},
		{unauthorizedError("no"), http.StatusUnauthorized},
		{invalidTokenError(errors.New("expired")), http.StatusUnauthorized},
		{forbiddenError("unverified"), http.StatusForbidden},
		{notFoundError("missing"), http.StatusNotFound},
		{invalidInput("bad", "email"), http.StatusBadRequest},
		{externalFailure(errors.New("jwks down")), http.StatusBadGateway},
		{internalError("op", errors.New("disk")), http.StatusInternalServerError},
		{errors.New("untyped"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, HTTPStatus(tt.err), "%v", tt.err)
	}
}

func TestAuthError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", conflictError("Email already registered"))
	assert.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, KindConflict, KindOf(err))

	// A message-bearing target is not a sentinel
	assert.False(t, errors.Is(err, NewAuthError(KindConflict, "other", "")))
}

func TestPublicMessage_HidesInternals(t *testing.T) {
	err := internalError("save identity", errors.New("pq: connection refused"))
	assert.Equal(t, "Internal error", PublicMessage(err))
	assert.Contains(t, err.Error(), "connection refused")

	assert.Equal(t, "Internal error", PublicMessage(errors.New("raw")))
	assert.Equal(t, "Invalid credentials", PublicMessage(unauthorizedError(msgInvalidCredentials)))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.Equal(t, KindInternal, KindOf(errors.New("x")))
	assert.Equal(t, KindExternalFailure, KindOf(externalFailure(nil)))
	assert.Equal(t, "external_validation_failure", string(KindExternalFailure))
}
